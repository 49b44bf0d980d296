// Package store is the durable source of truth for application configuration, quota bindings,
// usage snapshots and auto-provision rules.
package store

import (
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidQuota indicates a ceiling below the unlimited sentinel or a non-positive period.
	ErrInvalidQuota = errors.New("store: invalid quota value")
)

// Store persists gateway configuration through gorm.
type Store struct {
	db *gorm.DB
}

// New constructs a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func encodeStrings(values []string) datatypes.JSON {
	cleaned := normalizeStrings(values)
	raw, _ := json.Marshal(cleaned)
	return datatypes.JSON(raw)
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var out []string
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return []string{}
	}
	return normalizeStrings(out)
}

func encodeIDs(values []uint64) datatypes.JSON {
	if values == nil {
		values = []uint64{}
	}
	raw, _ := json.Marshal(values)
	return datatypes.JSON(raw)
}

func decodeIDs(raw datatypes.JSON) []uint64 {
	if len(raw) == 0 {
		return nil
	}
	var out []uint64
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return nil
	}
	return out
}

// normalizeStrings trims, drops empties and de-duplicates while keeping order.
func normalizeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
