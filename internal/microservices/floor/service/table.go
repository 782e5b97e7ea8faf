package service

import (
	"context"
	"errors"

	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
	"restaurant-floor/internal/repository"
)

// Publisher is the part of the broadcast registry the engine needs.
type Publisher interface {
	Publish(tableID string, status domain.TableStatus)
}

// systemUser performs order-driven table moves such as payment marking a table dirty.
var systemUser = domain.User{ID: "system", Name: "system", Role: domain.RoleManager}

type TableEngine struct {
	store        repository.Store
	pub          Publisher
	locks        *keyedMutex
	clearOnDirty bool
	log          *logger.Logger
}

func NewTableEngine(store repository.Store, pub Publisher, clearOnDirty bool, log *logger.Logger) *TableEngine {
	if log == nil {
		log = logger.Nop()
	}
	return &TableEngine{
		store:        store,
		pub:          pub,
		locks:        newKeyedMutex(),
		clearOnDirty: clearOnDirty,
		log:          log,
	}
}

func (e *TableEngine) GetTable(ctx context.Context, id string) (domain.Table, error) {
	t, err := e.store.LoadTable(ctx, id)
	if err != nil {
		return domain.Table{}, gatewayErr("table", id, err)
	}
	return t, nil
}

func (e *TableEngine) ListTables(ctx context.Context) ([]domain.Table, error) {
	ts, err := e.store.LoadAllTables(ctx)
	if err != nil {
		return nil, gatewayErr("table", "", err)
	}
	return ts, nil
}

// RequestTransition moves a table to status to on behalf of user.
// Requesting the current status is accepted and changes nothing.
func (e *TableEngine) RequestTransition(ctx context.Context, tableID string, to domain.TableStatus, user domain.User) (domain.Table, error) {
	return e.transition(ctx, tableID, nil, to, user, "")
}

// RequestTransitionFrom is RequestTransition for a caller that saw the table in status expected.
// If the table has moved since, the request fails with domain.ErrStale.
func (e *TableEngine) RequestTransitionFrom(ctx context.Context, tableID string, expected, to domain.TableStatus, user domain.User) (domain.Table, error) {
	return e.transition(ctx, tableID, &expected, to, user, "")
}

func (e *TableEngine) systemTransition(ctx context.Context, tableID string, to domain.TableStatus) (domain.Table, error) {
	return e.transition(ctx, tableID, nil, to, systemUser, "")
}

// seat occupies an available table for serverID. Server rules apply.
func (e *TableEngine) seat(ctx context.Context, tableID, serverID string) (domain.Table, error) {
	server := domain.User{ID: serverID, Role: domain.RoleServer}
	avail := domain.TableAvailable
	return e.transition(ctx, tableID, &avail, domain.TableOccupied, server, serverID)
}

func (e *TableEngine) transition(ctx context.Context, tableID string, expected *domain.TableStatus,
	to domain.TableStatus, user domain.User, seatFor string) (domain.Table, error) {

	if !to.Valid() {
		return domain.Table{}, &domain.TransitionError{
			Kind: domain.ErrInvalidArgument, Entity: "table", ID: tableID, To: string(to),
			Detail: "unknown table status",
		}
	}
	if !user.Role.Valid() {
		return domain.Table{}, &domain.TransitionError{
			Kind: domain.ErrForbidden, Entity: "table", ID: tableID, To: string(to), Detail: "unknown role",
		}
	}

	unlock := e.locks.Lock("table:" + tableID)
	defer unlock()

	t, err := e.store.LoadTable(ctx, tableID)
	if err != nil {
		return domain.Table{}, gatewayErr("table", tableID, err)
	}

	if expected != nil && t.Status != *expected {
		return t, &domain.TransitionError{
			Kind: domain.ErrStale, Entity: "table", ID: tableID,
			From: string(t.Status), To: string(to), Detail: "expected " + string(*expected),
		}
	}
	if t.Status == to {
		return t, nil
	}
	if err := permitted(t, to, user); err != nil {
		e.log.Info("table_transition_rejected", map[string]any{
			"table_id": tableID, "from": t.Status, "to": to, "user": user.ID, "role": user.Role, "reason": domain.Reason(err),
		})
		return t, err
	}

	saved, err := e.store.SaveTableStatus(ctx, repository.TableUpdate{
		ID:               t.ID,
		Version:          t.Version,
		Status:           to,
		AssignedServerID: nextAssignment(t, to, user, seatFor, e.clearOnDirty),
	})
	if err != nil {
		e.log.Error("table_save_failed", err, map[string]any{"table_id": tableID, "from": t.Status, "to": to})
		terr := gatewayErr("table", tableID, err)
		var te *domain.TransitionError
		if errors.As(terr, &te) {
			te.From, te.To = string(t.Status), string(to)
		}
		return t, terr
	}

	e.pub.Publish(saved.ID, saved.Status)
	e.log.Info("table_status_changed", map[string]any{
		"table_id": saved.ID, "number": saved.Number, "from": t.Status, "to": saved.Status,
		"user": user.ID, "role": user.Role, "version": saved.Version,
	})
	return saved, nil
}

// gatewayErr turns a store error into the rejection shown to the caller.
func gatewayErr(entity, id string, err error) error {
	kind := domain.ErrStoreFailure
	switch {
	case errors.Is(err, repository.ErrNotFound):
		kind = domain.ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		kind = domain.ErrStale
	}
	return &domain.TransitionError{Kind: kind, Entity: entity, ID: id, Cause: err}
}
