package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mindleap-provisioning/pkg/errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type memoryAccount struct {
	uid          string
	email        string
	passwordHash []byte
}

// MemoryProvider is an in-process identity provider for local runs and
// tests. Passwords are kept only as bcrypt hashes.
type MemoryProvider struct {
	mu      sync.Mutex
	cost    int
	byEmail map[string]*memoryAccount
	byUID   map[string]*memoryAccount
}

func NewMemoryProvider(cost int) *MemoryProvider {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return &MemoryProvider{
		cost:    cost,
		byEmail: make(map[string]*memoryAccount),
		byUID:   make(map[string]*memoryAccount),
	}
}

func (p *MemoryProvider) CreateAccount(ctx context.Context, email, password, displayName string) (Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < 6 {
		return Account{}, errors.NewRemoteError("create account", fmt.Errorf("password must be at least 6 characters"))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byEmail[email]; exists {
		return Account{}, errors.NewRemoteError("create account", fmt.Errorf("email %s: %w", email, errors.ErrAlreadyExists))
	}
	acc := &memoryAccount{uid: uuid.NewString(), email: email, passwordHash: hash}
	p.byEmail[email] = acc
	p.byUID[acc.uid] = acc
	return Account{UID: acc.uid, Email: email}, nil
}

func (p *MemoryProvider) DeleteAccount(ctx context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.byUID[uid]
	if !ok {
		return fmt.Errorf("account %s: %w", uid, errors.ErrNotFound)
	}
	delete(p.byUID, uid)
	delete(p.byEmail, acc.email)
	return nil
}

// SignIn checks credentials the way the student portal does.
func (p *MemoryProvider) SignIn(ctx context.Context, email, password string) (Account, error) {
	p.mu.Lock()
	acc, ok := p.byEmail[strings.ToLower(email)]
	p.mu.Unlock()
	if !ok {
		return Account{}, errors.ErrPermissionDenied
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return Account{}, errors.ErrPermissionDenied
	}
	return Account{UID: acc.uid, Email: acc.email}, nil
}

func (p *MemoryProvider) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byUID)
}
