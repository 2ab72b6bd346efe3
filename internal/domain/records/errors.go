package records

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"rollcall/internal/core/id"
)

// ErrInvalidRecord is wrapped by every shape violation.
var ErrInvalidRecord = errors.New("invalid record")

// DecodeError reports a stored row that could not be coerced into its
// validated shape. It aborts the change-feed read that produced it.
type DecodeError struct {
	Kind Kind
	ID   id.ID
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidRecord, field, reason)
}

// validateBase checks the sync fields of r and rejects NUL in every text
// column, tombstones included: an upsert writes every column and PostgreSQL
// text cannot hold 0x00.
func validateBase(r Record) error {
	if err := r.Base().ValidateSync(); err != nil {
		return err
	}

	rv := reflect.ValueOf(r).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.Anonymous {
			continue
		}
		v := rv.Field(i)
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				continue
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.String {
			continue
		}
		if strings.IndexByte(v.String(), 0) >= 0 {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			return invalid(name, "contains a NUL character")
		}
	}
	return nil
}

func requireText(field, v string, max int) error {
	if strings.TrimSpace(v) == "" {
		return invalid(field, "is required")
	}
	if utf8.RuneCountInString(v) > max {
		return invalid(field, fmt.Sprintf("exceeds %d characters", max))
	}
	return nil
}

func optionalText(field string, v *string, max int) error {
	if v != nil && utf8.RuneCountInString(*v) > max {
		return invalid(field, fmt.Sprintf("exceeds %d characters", max))
	}
	return nil
}

func requireRef(field string, v id.ID) error {
	if id.IsNil(v) {
		return invalid(field, "is required")
	}
	return nil
}

func optionalRef(field string, v *id.ID) error {
	if v != nil && id.IsNil(*v) {
		return invalid(field, "must not be the nil id")
	}
	return nil
}

// blank reports whether a required text column holds legacy garbage.
func blank(v string) bool {
	return strings.TrimSpace(v) == ""
}
