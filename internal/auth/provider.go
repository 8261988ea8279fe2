package auth

import "context"

// Account is the identity-provider side of a student.
type Account struct {
	UID   string
	Email string
}

// Provider manages student login accounts with administrative privilege, so
// creating or deleting an account never touches the operator's own session.
type Provider interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (Account, error)
	DeleteAccount(ctx context.Context, uid string) error
}
