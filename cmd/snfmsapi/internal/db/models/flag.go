package models

import (
	"database/sql/driver"
	"fmt"
)

// Flag is a boolean persisted as the literal strings 'True' and 'False'.
// Legacy tenant data stores attribute values this way, so the storage form is
// kept while Go code only ever sees a bool.
type Flag bool

const (
	FlagTrue  = "True"
	FlagFalse = "False"
)

// String returns the stored representation.
func (f Flag) String() string {
	if f {
		return FlagTrue
	}
	return FlagFalse
}

// Value implements driver.Valuer.
func (f Flag) Value() (driver.Value, error) {
	return f.String(), nil
}

// Scan implements sql.Scanner. Anything other than the exact string 'True' is false.
func (f *Flag) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = false
	case string:
		*f = Flag(v == FlagTrue)
	case []byte:
		*f = Flag(string(v) == FlagTrue)
	default:
		return fmt.Errorf("flag: unsupported source type %T", src)
	}
	return nil
}

// ParseFlag accepts only the two stored literals.
func ParseFlag(s string) (Flag, error) {
	switch s {
	case FlagTrue:
		return true, nil
	case FlagFalse:
		return false, nil
	default:
		return false, fmt.Errorf("value must be %q or %q, got %q", FlagTrue, FlagFalse, s)
	}
}
