package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		minor    int64
		currency string
		want     string
	}{
		{5000, "BRL", "50.00"},
		{5, "usd", "0.05"},
		{-1999, "EUR", "-19.99"},
		{2500, "XAF", "2500"},
		{1234, "KWD", "1.234"},
		{0, "BRL", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			require.Equal(t, tt.want, Format(tt.minor, tt.currency))
		})
	}
}

func TestToDecimal(t *testing.T) {
	require.True(t, ToDecimal(12345, "BRL").Equal(ToDecimal(12345, "USD")))
	require.Equal(t, "123.45", ToDecimal(12345, "BRL").String())
}
