// Package apikey generates admin API keys and their stored form.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/eventsync/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Prefix marks every raw key issued by eventsync.
	Prefix = "es_"

	// PrefixLen is the number of leading raw-key characters stored for lookup.
	PrefixLen = 8

	secretBytes = 24
)

// ValidScopes lists the scopes a key may carry.
var ValidScopes = []string{"admin", "read"}

// Generated is a freshly created key. Raw is only available here.
type Generated struct {
	Raw string
	Key *models.APIKey
}

// Generate creates a random key with the given name and scopes, hashed with
// bcrypt at cost.
func Generate(name string, scopes []string, cost int) (*Generated, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	for _, s := range scopes {
		if !slices.Contains(ValidScopes, s) {
			return nil, fmt.Errorf("invalid scope %q", s)
		}
	}

	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	raw := Prefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	return &Generated{
		Raw: raw,
		Key: &models.APIKey{
			ID:        uuid.New(),
			Name:      name,
			KeyHash:   string(hash),
			KeyPrefix: raw[:PrefixLen],
			Scopes:    slices.Clone(scopes),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}, nil
}
