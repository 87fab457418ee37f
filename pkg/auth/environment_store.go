package auth

import (
	"os"
	"strconv"
	"time"
)

const (
	envRefreshToken = "PIXIVSYNC_REFRESH_TOKEN"
	envUserID       = "PIXIVSYNC_USER_ID"
	envAccountName  = "PIXIVSYNC_ACCOUNT"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only and mostly useful for CI and containers.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv(envRefreshToken)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = os.Getenv(envAccountName)
	}
	if name == "" {
		name = "default"
	}

	// A malformed id is ignored; login fills it in
	userID, _ := strconv.ParseInt(os.Getenv(envUserID), 10, 64)

	return &Account{
		Name:         name,
		RefreshToken: token,
		UserID:       userID,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(envRefreshToken) != ""
}
