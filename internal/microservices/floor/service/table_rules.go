package service

import "restaurant-floor/internal/domain"

// lifecycle holds the edges a table normally moves along. Anything else is a manager override.
var lifecycle = map[domain.TableStatus]domain.TableStatus{
	domain.TableAvailable: domain.TableOccupied,
	domain.TableOccupied:  domain.TableDirty,
	domain.TableDirty:     domain.TableAvailable,
}

// permitted decides whether user may move t to status to. It never looks at the store.
func permitted(t domain.Table, to domain.TableStatus, user domain.User) error {
	reject := func(kind error, detail string) error {
		return &domain.TransitionError{
			Kind: kind, Entity: "table", ID: t.ID,
			From: string(t.Status), To: string(to), Detail: detail,
		}
	}

	if user.Role == domain.RoleManager {
		return nil
	}
	if lifecycle[t.Status] != to {
		return reject(domain.ErrInvalidState, "")
	}

	switch user.Role {
	case domain.RoleBusboy:
		if t.Status == domain.TableDirty {
			return nil
		}
		return reject(domain.ErrForbidden, "busboys may only clear dirty tables")
	case domain.RoleServer:
		if t.Status == domain.TableDirty {
			return reject(domain.ErrForbidden, "servers may not mark tables clean")
		}
		if t.AssignedServerID != nil && *t.AssignedServerID != user.ID {
			return reject(domain.ErrForbidden, "table is assigned to another server")
		}
		return nil
	default:
		return reject(domain.ErrForbidden, "unknown role")
	}
}

// nextAssignment returns the assigned server after moving t to status to.
// seatFor, when set, is the server an order-driven seating assigns.
func nextAssignment(t domain.Table, to domain.TableStatus, user domain.User, seatFor string, clearOnDirty bool) *string {
	switch to {
	case domain.TableAvailable:
		return nil
	case domain.TableDirty:
		if clearOnDirty {
			return nil
		}
		return t.AssignedServerID
	case domain.TableOccupied:
		if seatFor != "" {
			return &seatFor
		}
		if user.Role == domain.RoleServer {
			id := user.ID
			return &id
		}
	}
	return t.AssignedServerID
}
