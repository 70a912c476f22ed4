package cache

import (
	"errors"
	"fmt"
)

type Key struct {
	// Prefix - Helps better grouping and searching
	// i.e the request type the value was computed for.
	Prefix string
	// Suffix - identifies the value within the prefix, usually a request hash.
	Suffix string
}

var (
	ErrorInvalidPrefix = errors.New("invalid key prefix")
	ErrorInvalidKey    = errors.New("invalid cache key")
	ErrorInvalidValues = errors.New("invalid values to set")
)

func NewKey(prefix string, suffix string) (*Key, error) {
	if prefix == "" {
		return nil, ErrorInvalidPrefix
	}
	return &Key{Prefix: prefix, Suffix: suffix}, nil
}

// Key returns the string representation of the key.
func (key *Key) Key() (string, error) {
	if key == nil || key.Prefix == "" {
		return "", ErrorInvalidKey
	}
	if key.Suffix == "" {
		return key.Prefix, nil
	}
	return fmt.Sprintf("%s:%s", key.Prefix, key.Suffix), nil
}
