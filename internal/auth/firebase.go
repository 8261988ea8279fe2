package auth

import (
	"context"
	"fmt"

	"mindleap-provisioning/pkg/errors"

	"firebase.google.com/go/v4/auth"
)

type FirebaseProvider struct {
	client *auth.Client
}

func NewFirebaseProvider(client *auth.Client) *FirebaseProvider {
	return &FirebaseProvider{client: client}
}

func (p *FirebaseProvider) CreateAccount(ctx context.Context, email, password, displayName string) (Account, error) {
	params := (&auth.UserToCreate{}).
		Email(email).
		Password(password).
		DisplayName(displayName)

	user, err := p.client.CreateUser(ctx, params)
	if err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return Account{}, errors.NewRemoteError("create account", fmt.Errorf("email %s: %w", email, errors.ErrAlreadyExists))
		}
		return Account{}, errors.NewRemoteError("create account", err)
	}
	return Account{UID: user.UID, Email: user.Email}, nil
}

func (p *FirebaseProvider) DeleteAccount(ctx context.Context, uid string) error {
	if err := p.client.DeleteUser(ctx, uid); err != nil {
		if auth.IsUserNotFound(err) {
			return fmt.Errorf("account %s: %w", uid, errors.ErrNotFound)
		}
		return errors.NewRemoteError("delete account", err)
	}
	return nil
}
