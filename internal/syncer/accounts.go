package syncer

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/stayforge/adsync/internal/models"
)

// AccountSource yields the accounts a batch job should process. Credentials
// on the returned accounts are already resolved by the token module.
type AccountSource interface {
	ListEnabled(ctx context.Context) ([]models.Account, error)
}

// StaticAccounts serves a fixed account list, typically loaded from the
// accounts file at startup.
type StaticAccounts []models.Account

func (a StaticAccounts) ListEnabled(context.Context) ([]models.Account, error) {
	out := make([]models.Account, 0, len(a))
	for _, acct := range a {
		if acct.Enabled {
			out = append(out, acct)
		}
	}
	return out, nil
}

// LoadAccounts reads the account list from a JSON file.
func LoadAccounts(path string) (StaticAccounts, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	var accts []models.Account
	if err := json.Unmarshal(b, &accts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return StaticAccounts(accts), nil
}
