package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"00", "0"},
		{"-0", "0"},
		{"-0.000", "0"},
		{"1", "1"},
		{"+1", "1"},
		{"007", "7"},
		{"1.500", "1.5"},
		{"0.50", "0.5"},
		{".5", "0.5"},
		{"5.", "5"},
		{"-3.14", "-3.14"},
		{" 42 ", "42"},
		{"1e3", "1000"},
		{"1.5e2", "150"},
		{"1.5E-2", "0.015"},
		{"25e-3", "0.025"},
		{"1200e-2", "12"},
		{"0.1", "0.1"},
		{"123456789.000000001", "123456789.000000001"},
	}
	for _, tt := range tests {
		got, err := CanonicalDecimal(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCanonicalDecimal_Idempotent(t *testing.T) {
	inputs := []string{"1.500", "-0", "1e3", "0.50", "007", "1.5E-2"}
	for _, in := range inputs {
		once, err := CanonicalDecimal(in)
		require.NoError(t, err)
		twice, err := CanonicalDecimal(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, in)
	}
}

func TestCanonicalDecimal_NonFinite(t *testing.T) {
	for _, in := range []string{"NaN", "nan", "-NaN", "inf", "+Inf", "-infinity", "∞", "-∞"} {
		_, err := CanonicalDecimal(in)
		assert.ErrorIs(t, err, ErrNonFinite, in)
	}
}

func TestCanonicalDecimal_NotANumber(t *testing.T) {
	for _, in := range []string{"", "  ", "abc", "1.2.3", "1e", "--1", "0x10", "1e99999", "."} {
		_, err := CanonicalDecimal(in)
		require.Error(t, err, in)
		assert.NotErrorIs(t, err, ErrNonFinite, in)
	}
}
