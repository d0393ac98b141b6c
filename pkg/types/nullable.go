package types

import (
	"bytes"
	"encoding/json"
)

// Nullable tracks whether a JSON field was present, so a PATCH can tell
// "leave unchanged" (absent) apart from "clear" (explicit null).
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	n.Set = true
	if bytes.Equal(trimmed, []byte("null")) {
		n.Value = nil
		return nil
	}

	var parsed T
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return err
	}
	n.Value = &parsed
	return nil
}

// Of returns a present, non-null value.
func Of[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null returns a present, explicit null.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}
