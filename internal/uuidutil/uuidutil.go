// Package uuidutil normalizes UUID column values for the storage type they
// are written to.
package uuidutil

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ParseString parses common UUID string formats and returns a normalized lower-case UUID.
func ParseString(raw string) (uuid.UUID, string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid UUID value %q", raw)
	}
	return parsed, strings.ToLower(parsed.String()), nil
}

// ToBytes returns UUID bytes in RFC order.
func ToBytes(u uuid.UUID) []byte {
	out := make([]byte, len(u))
	copy(out, u[:])
	return out
}

// IsBinaryStorageType reports whether a SQL type stores UUID values as raw bytes.
func IsBinaryStorageType(dataType string) bool {
	baseType := strings.ToLower(strings.TrimSpace(dataType))
	return baseType == "binary" || baseType == "varbinary" || baseType == "bytea"
}

// Encode converts a textual UUID into the form bound for storageType: RFC
// order bytes for binary storage, the canonical lower-case string otherwise.
// A nil value stays nil.
func Encode(value any, storageType string) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("UUID value must be a string, got %T", value)
	}
	u, canonical, err := ParseString(raw)
	if err != nil {
		return nil, err
	}
	if IsBinaryStorageType(storageType) {
		return ToBytes(u), nil
	}
	return canonical, nil
}
