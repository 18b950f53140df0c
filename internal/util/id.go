package util

import "github.com/google/uuid"

// NewID returns a random UUID string used as a record identifier.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first n characters of a fresh ID, for receipts and
// other human-visible references.
func ShortID(n int) string {
	id := uuid.NewString()
	if n <= 0 || n >= len(id) {
		return id
	}
	return id[:n]
}
