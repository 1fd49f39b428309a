package store

import "errors"

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned when inserting a document whose key already exists
	ErrDuplicateKey = errors.New("duplicate document key")

	// ErrNotArray is returned when an array operation targets a non-array field
	ErrNotArray = errors.New("field is not an array")

	// ErrMissingKey is returned when a document has no _id
	ErrMissingKey = errors.New("document has no key")
)

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey returns true if the error is ErrDuplicateKey
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}
