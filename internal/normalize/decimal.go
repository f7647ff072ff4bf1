package normalize

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNonFinite marks NaN or infinity inputs, which force rejection
// regardless of field importance.
var ErrNonFinite = errors.New("non-finite numeric value")

// ErrNotANumber marks inputs that do not parse as a decimal at all.
var ErrNotANumber = errors.New("not a decimal number")

var nonFiniteTokens = map[string]bool{
	"nan": true, "+nan": true, "-nan": true,
	"inf": true, "+inf": true, "-inf": true,
	"infinity": true, "+infinity": true, "-infinity": true,
	"∞": true, "+∞": true, "-∞": true,
}

// CanonicalDecimal parses s as an arbitrary-precision decimal and returns
// its fixed-point canonical form: no exponent, no trailing fraction zeros,
// no leading integer zeros, no negative zero. Values stay strings
// end-to-end; binary floating point is never involved.
func CanonicalDecimal(s string) (string, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", ErrNotANumber
	}
	if nonFiniteTokens[strings.ToLower(v)] {
		return "", ErrNonFinite
	}

	neg := false
	switch v[0] {
	case '+':
		v = v[1:]
	case '-':
		neg = true
		v = v[1:]
	}

	mantissa := v
	exp := 0
	if i := strings.IndexAny(v, "eE"); i >= 0 {
		mantissa = v[:i]
		var err error
		exp, err = parseExponent(v[i+1:])
		if err != nil {
			return "", err
		}
	}

	intPart := mantissa
	fracPart := ""
	if i := strings.IndexByte(mantissa, '.'); i >= 0 {
		intPart = mantissa[:i]
		fracPart = mantissa[i+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return "", ErrNotANumber
		}
	}
	if intPart == "" && fracPart == "" {
		return "", ErrNotANumber
	}
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return "", ErrNotANumber
	}

	// Shift the decimal point by the exponent, then re-split.
	digits := intPart + fracPart
	point := len(intPart) + exp
	if point < 0 {
		digits = strings.Repeat("0", -point) + digits
		point = 0
	}
	if point > len(digits) {
		digits = digits + strings.Repeat("0", point-len(digits))
	}
	intPart = digits[:point]
	fracPart = digits[point:]

	intPart = strings.TrimLeft(intPart, "0")
	fracPart = strings.TrimRight(fracPart, "0")
	if intPart == "" {
		intPart = "0"
	}

	out := intPart
	if fracPart != "" {
		out = intPart + "." + fracPart
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out, nil
}

func parseExponent(s string) (int, error) {
	if s == "" {
		return 0, ErrNotANumber
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	if !digitsOnly(s) || s == "" {
		return 0, ErrNotANumber
	}
	if len(s) > 4 {
		return 0, fmt.Errorf("%w: exponent out of range", ErrNotANumber)
	}
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
