// Package idgen provides record code generation and short, URL-safe event
// IDs backed by nanoid.
package idgen

import (
	"context"
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Generator hands out record codes. Implementations must never return the
// same code twice, across goroutines and across service instances. The only
// non-transient failure is model.ErrGenerationExhausted.
type Generator interface {
	NextCode(ctx context.Context) (int64, error)
}

// DefaultPrefix is prepended to every generated event ID.
var DefaultPrefix = "ev-"

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// Generate returns a new unique ID using the default prefix.
func Generate() (string, error) {
	return GenerateWithPrefix(DefaultPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
