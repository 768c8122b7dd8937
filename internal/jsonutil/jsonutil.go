// Package jsonutil provides shared JSON helpers: enum encoding, error
// context wrapping, and atomic whole-file persistence.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// StringEnum is a constraint for enum types that have a String() method.
type StringEnum interface {
	String() string
}

// MarshalEnumJSON marshals an enum value to JSON by converting it to its string representation.
func MarshalEnumJSON[T StringEnum](v T) ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalEnumJSON unmarshals an enum value from JSON by parsing the string representation.
// parseFunc should convert a string to the enum value, or return an error if the string is invalid.
func UnmarshalEnumJSON[T StringEnum](data []byte, parseFunc func(string) (T, error)) (T, error) {
	var zero T
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return zero, err
	}
	return parseFunc(s)
}

// ParseEnumError creates a standardized error message for invalid enum string values.
func ParseEnumError(enumName, value string) error {
	return fmt.Errorf("unknown %s: %s", enumName, value)
}

// EnumNames maps the values of an int-backed enum to their labels. The
// label at index i names the value T(i).
type EnumNames[T ~int] []string

// Label returns the label for v, or "unknown" when v is out of range.
func (n EnumNames[T]) Label(v T) string {
	if int(v) < 0 || int(v) >= len(n) {
		return "unknown"
	}
	return n[v]
}

// Parse returns the value whose label is s.
func (n EnumNames[T]) Parse(enumName, s string) (T, error) {
	for i, label := range n {
		if label == s {
			return T(i), nil
		}
	}
	return 0, ParseEnumError(enumName, s)
}

// UnmarshalWithContext unmarshals JSON data into v and wraps any error
// with the provided context message.
func UnmarshalWithContext(data []byte, v any, context string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", context, err)
	}
	return nil
}

// UnmarshalArrayAllowEmpty unmarshals JSON data into a slice.
// Empty input and "null" yield an empty slice.
func UnmarshalArrayAllowEmpty[T any](data []byte, context string) ([]T, error) {
	var entries []T
	if len(data) == 0 {
		return entries, nil
	}
	if err := UnmarshalWithContext(data, &entries, context); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadFile decodes the JSON file at path into v. A missing file is not an
// error; found reports whether the file existed.
func ReadFile(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return true, nil
	}
	return true, UnmarshalWithContext(data, v, "decode "+filepath.Base(path))
}

// WriteFileAtomic encodes v as indented JSON and replaces path with it via
// a temp file and rename, so readers never observe a partial write.
func WriteFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
