package service

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// idAlphabet is the URL-safe nanoid alphabet
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_-"

// IDGenerator produces a candidate paste id of the given length.
// Uniqueness is enforced by the store, not the generator.
type IDGenerator func(length int) (string, error)

// NanoID draws ids from crypto/rand over the URL-safe alphabet
func NanoID(length int) (string, error) {
	return gonanoid.Generate(idAlphabet, length)
}
