package device

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Value is a characteristic value in its base64 transport encoding
type Value string

// EncodeValue frames raw bytes for the wire
func EncodeValue(b []byte) Value {
	return Value(base64.StdEncoding.EncodeToString(b))
}

// EncodeJSON marshals v and frames the UTF-8 JSON document
func EncodeJSON(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return EncodeValue(data), nil
}

// Bytes decodes the framed value
func (v Value) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(string(v))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 value: %v", ErrInvalidPayload, err)
	}
	return b, nil
}

// DecodeJSON decodes the framed UTF-8 JSON document into out
func (v Value) DecodeJSON(out any) error {
	b, err := v.Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", ErrInvalidPayload, err)
	}
	return nil
}

// IsEmpty reports whether the value carries no bytes
func (v Value) IsEmpty() bool {
	return v == ""
}
