package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"support-widget-server/internal/auth"
	"support-widget-server/internal/db"
)

// DefaultUserName is stored when a user is created without a name.
const DefaultUserName = "Anonymous"

const maxUserNameLength = 200

type Users struct {
	Store db.Store
}

func NewUsers(store db.Store) *Users {
	return &Users{Store: store}
}

// List returns every user record, unfiltered.
func (u *Users) List(ctx context.Context) ([]db.User, error) {
	users, err := u.Store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return users, nil
}

// Create inserts a user for the identity's organization and returns its id.
// Nothing is written unless the identity is present and carries an
// organization.
func (u *Users) Create(ctx context.Context, identity *auth.Identity, name string) (string, error) {
	if identity == nil {
		return "", ErrNotAuthenticated
	}
	if identity.OrganizationID == "" {
		return "", ErrNoOrganization
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultUserName
	}
	if utf8.RuneCountInString(name) > maxUserNameLength {
		return "", fmt.Errorf("%w: name too long", ErrInvalidInput)
	}

	user, err := u.Store.CreateUser(ctx, db.User{Name: name, OrganizationID: identity.OrganizationID})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return user.ID, nil
}
