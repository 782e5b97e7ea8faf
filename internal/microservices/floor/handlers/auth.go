package handlers

import (
	"errors"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"restaurant-floor/internal/domain"
)

// Claims is the token body issued by the login service.
type Claims struct {
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

func newClaims(echo.Context) jwt.Claims { return new(Claims) }

var errNoIdentity = &domain.TransitionError{Kind: domain.ErrForbidden, Entity: "user", Detail: "missing or invalid identity"}

// userFrom reads the caller from the token the JWT middleware stored under "user".
func userFrom(c echo.Context) (domain.User, error) {
	tok, ok := c.Get("user").(*jwt.Token)
	if !ok || tok == nil {
		return domain.User{}, errNoIdentity
	}
	cl, ok := tok.Claims.(*Claims)
	if !ok || cl.Subject == "" || !cl.Role.Valid() {
		return domain.User{}, errNoIdentity
	}
	return domain.User{ID: cl.Subject, Name: cl.Name, Role: cl.Role}, nil
}

func requireRole(c echo.Context, roles ...domain.Role) (domain.User, error) {
	u, err := userFrom(c)
	if err != nil {
		return u, err
	}
	if !slices.Contains(roles, u.Role) {
		return u, &domain.TransitionError{
			Kind: domain.ErrForbidden, Entity: "user", ID: u.ID, Detail: string(u.Role) + " may not do this",
		}
	}
	return u, nil
}

// SignToken issues a token for u. Used by tests and local tooling.
func SignToken(secret []byte, u domain.User) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty signing secret")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Name:             u.Name,
		Role:             u.Role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: u.ID},
	})
	return tok.SignedString(secret)
}
