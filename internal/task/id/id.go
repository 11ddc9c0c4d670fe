// Package id provides unique identifier generation for tasks.
package id

import "github.com/google/uuid"

// Generate creates a new random task ID.
// Format: RFC 4122 version 4 UUID.
// Example: 3f2b8c1e-9a4d-4e57-b0a1-6c2d9e8f7a10
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s has the shape of an ID produced by Generate.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
