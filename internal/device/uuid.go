package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SMARTPot GATT protocol constants
const (
	ServiceUUID = "6360ec7b-a2b6-41d2-87c6-be45caf92838"

	// ReadCharUUID carries the JSON sensor snapshot
	ReadCharUUID = "46f45f15-b963-4e4e-bde9-6a9a677df4b4"
	// SendConfigCharUUID accepts the configuration document
	SendConfigCharUUID = "9b3c81d2-5e0f-4a87-b3c6-2d41f7e8a910"
	// NotificationCharUUID delivers the configuration acknowledgement
	NotificationCharUUID = "c4e1a2b7-3f58-4d09-9e6a-71b0d5f2c384"
	// ReadIDCharUUID exposes the 16 byte device identity
	ReadIDCharUUID = "e7d29f04-8b13-46ac-a5f1-0c3e98b6d257"
)

// IdentityLength is the size of the raw device identity
const IdentityLength = 16

// DecodeIdentity decodes a framed identity value into its canonical UUID string.
// Empty or malformed values fail with ErrIdentityMissing.
func DecodeIdentity(v Value) (string, error) {
	if v.IsEmpty() {
		return "", &Error{Kind: IdentityMissing, Msg: "identity value is empty"}
	}
	raw, err := v.Bytes()
	if err != nil {
		return "", &Error{Kind: IdentityMissing, Msg: "identity value is not base64", Err: err}
	}
	if len(raw) != IdentityLength {
		return "", &Error{Kind: IdentityMissing, Msg: fmt.Sprintf("identity value has %d bytes, want %d", len(raw), IdentityLength)}
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return "", &Error{Kind: IdentityMissing, Err: err}
	}
	return id.String(), nil
}

// SameUUID compares two UUID strings ignoring case and dashes
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// NormalizeUUID converts a UUID string to lowercase without dashes or 0x prefix
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	return strings.ReplaceAll(s, "-", "")
}

// ValidateUUID checks that every value parses as a 128-bit UUID.
// Returns canonical (dashed, lowercase) strings.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, s := range uuids {
		if s == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		parsed, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, s)
		}
		result = append(result, parsed.String())
	}
	return result, nil
}
