// Package auth resolves who an actor is and which workflow role they hold,
// backed by the accounts and api_keys tables.
package auth

import (
	"context"
	"database/sql"
	"fmt"

	"gridpermit/internal/domain"
	"gridpermit/internal/repo"
	"gridpermit/internal/workflow"
)

// InactiveAccountError indicates a known but deactivated account.
type InactiveAccountError struct {
	AccountID string
}

func (e InactiveAccountError) Error() string {
	return fmt.Sprintf("account %s is deactivated", e.AccountID)
}

// Service provides identity lookups backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) repo() repo.Repo {
	return repo.Repo{DB: s.DB}
}

// ResolveAccount returns the active account for an ID.
func (s Service) ResolveAccount(ctx context.Context, accountID string) (domain.Account, error) {
	a, err := s.repo().GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if !a.Active {
		return domain.Account{}, InactiveAccountError{AccountID: a.ID}
	}
	return a, nil
}

// ResolveAPIKey maps a plaintext API key to its active account.
func (s Service) ResolveAPIKey(ctx context.Context, plaintext string) (domain.Account, error) {
	key, err := s.repo().GetAPIKeyByHash(ctx, repo.HashAPIKey(plaintext))
	if err != nil {
		return domain.Account{}, err
	}
	return s.ResolveAccount(ctx, key.AccountID)
}

// RoleOf returns the workflow role an account acts under. Admin accounts
// may act as any role they name; everyone else is pinned to their own.
func RoleOf(a domain.Account, requested workflow.Role) (workflow.Role, error) {
	own := workflow.Role(a.Role)
	if requested == "" || requested == own {
		return own, nil
	}
	if own == workflow.RoleAdmin {
		return requested, nil
	}
	return "", fmt.Errorf("account %s holds role %s, not %s", a.ID, a.Role, requested)
}
