// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

var _ engine.IDGenerator = Generator{}

// Generator creates UUID v7 strings. Version 7 ids sort by creation time,
// which keeps item and report keys roughly chronological.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Timestamp extracts the creation time embedded in a UUID7 string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse uuid %q: %w", id, err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("uuid %q is version %d, want 7", id, parsed.Version())
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
