package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringList is a gorm-compatible column type that round-trips a
// []string through a JSON text column, used for the small ordered or
// unordered string sets on Network (Address, AllowedIPs, DNS,
// AllowedGroups).
type StringList []string

// Value implements driver.Valuer.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("db: StringList: unsupported scan type")
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// RecoveryCodes is an ordered sequence of opaque one-time codes.
// Order is preserved across Remove so spec.md's "order-preserving
// removal" testable property holds.
type RecoveryCodes []string

// Value implements driver.Valuer.
func (r RecoveryCodes) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (r *RecoveryCodes) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("db: RecoveryCodes: unsupported scan type")
	}
	if len(raw) == 0 {
		*r = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*r = out
	return nil
}

// Remove returns a copy of r with the first occurrence of code
// removed, and whether it was present.
func (r RecoveryCodes) Remove(code string) (RecoveryCodes, bool) {
	for i, c := range r {
		if c == code {
			out := make(RecoveryCodes, 0, len(r)-1)
			out = append(out, r[:i]...)
			out = append(out, r[i+1:]...)
			return out, true
		}
	}
	return r, false
}

// Contains reports whether code is present in r.
func (r RecoveryCodes) Contains(code string) bool {
	for _, c := range r {
		if c == code {
			return true
		}
	}
	return false
}
