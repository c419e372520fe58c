// Package codec converts between exchange wire tokens and domain values.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"openlimits/internal/core"
)

var decimalGrammar = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// ParseDecimal parses a plain decimal literal such as "0.00100". Exponent
// forms, padding and empty strings are rejected.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if !decimalGrammar.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%q: %w", s, core.ErrInvalidNumericFormat)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q: %w: %w", s, core.ErrInvalidNumericFormat, err)
	}
	return d, nil
}

// FormatDecimal renders d in plain notation without losing digits.
func FormatDecimal(d decimal.Decimal) string {
	return d.String()
}

// Decimal is a wire decimal. It accepts a quoted literal (the usual encoding for
// monetary fields) or a bare JSON number, and remembers whether the field was
// present so callers can pick between Require and OrZero.
type Decimal struct {
	value   decimal.Decimal
	present bool
}

func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{value: d, present: true}
}

// NewOptionalDecimal returns nil for zero so the field can be omitted on the wire.
func NewOptionalDecimal(d decimal.Decimal) *Decimal {
	if d.IsZero() {
		return nil
	}
	v := NewDecimal(d)
	return &v
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = Decimal{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %w", core.ErrInvalidNumericFormat, err)
		}
		v, err := ParseDecimal(s)
		if err != nil {
			return err
		}
		*d = NewDecimal(v)
		return nil
	}
	v, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", data, core.ErrInvalidNumericFormat)
	}
	*d = NewDecimal(v)
	return nil
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	if !d.present {
		return []byte("null"), nil
	}
	return json.Marshal(FormatDecimal(d.value))
}

func (d Decimal) Present() bool {
	return d.present
}

// Require returns the value or fails when the field was absent on the wire.
func (d Decimal) Require(field string) (decimal.Decimal, error) {
	if !d.present {
		return decimal.Zero, fmt.Errorf("missing %s: %w", field, core.ErrInvalidNumericFormat)
	}
	return d.value, nil
}

// OrZero is the default-on-absent mode.
func (d Decimal) OrZero() decimal.Decimal {
	if !d.present {
		return decimal.Zero
	}
	return d.value
}

// RequireNonNegative is Require plus a sign check for increments and sizes.
func (d Decimal) RequireNonNegative(field string) (decimal.Decimal, error) {
	v, err := d.Require(field)
	if err != nil {
		return v, err
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s is negative (%s): %w", field, v, core.ErrInvalidNumericFormat)
	}
	return v, nil
}
