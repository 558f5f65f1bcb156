package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func TestFormatUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"0", 18, "0"},
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"-2500000", 6, "-2.5"},
		{"123", 0, "123"},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", 18,
			"115792089237316195423570985008687907853269984665640564039457.584007913129639935"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUnits(bigInt(t, tt.amount), tt.decimals), tt.amount)
	}
	assert.Equal(t, "0", FormatUnits(nil, 18))
}

func TestParseUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		decimals int
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 18, "1500000000000000000"},
		{"0.000000000000000001", 18, "1"},
		{".5", 1, "5"},
		{"2.", 2, "200"},
		{"1.2300", 2, "123"},
		{"-0.25", 2, "-25"},
		{" 42 ", 0, "42"},
	}

	for _, tt := range tests {
		got, err := ParseUnits(tt.text, tt.decimals)
		require.NoError(t, err, tt.text)
		assert.Equal(t, tt.want, got.String(), tt.text)
	}
}

func TestParseUnits_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		decimals int
	}{
		{"", 18},
		{".", 18},
		{"-", 18},
		{"1.2.3", 18},
		{"1e18", 18},
		{"0x10", 18},
		{"1.234", 2},
		{"1", -1},
		{"1", 78},
	}

	for _, tt := range tests {
		_, err := ParseUnits(tt.text, tt.decimals)
		assert.Error(t, err, tt.text)
	}
}

func TestWeiConversions(t *testing.T) {
	t.Parallel()

	wei, err := ToWei("1.5", "gwei")
	require.NoError(t, err)
	assert.Equal(t, "1500000000", wei.String())

	wei, err = ToWei("2", "Ether")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", wei.String())

	s, err := FromWei(big.NewInt(1_000_000_000_000_000), "finney")
	require.NoError(t, err)
	assert.Equal(t, "1", s)

	_, err = ToWei("1", "bitcoin")
	assert.Error(t, err)
	_, err = FromWei(big.NewInt(1), "bitcoin")
	assert.Error(t, err)
}

func TestHexHelpers(t *testing.T) {
	t.Parallel()

	dec, err := HexToDecimal("0x00ff")
	require.NoError(t, err)
	assert.Equal(t, "255", dec)

	dec, err = HexToDecimal("0x")
	require.NoError(t, err)
	assert.Equal(t, "0", dec)

	_, err = HexToDecimal("0xzz")
	assert.Error(t, err)

	hex, err := DecimalToHex("4096")
	require.NoError(t, err)
	assert.Equal(t, "0x1000", hex)

	_, err = DecimalToHex("-1")
	assert.Error(t, err)

	assert.Equal(t, "0x000000ab", PadHex("0xab", 8))
	assert.Equal(t, "0xabcdef", PadHex("abcdef", 4))

	assert.True(t, IsValidAddress("0x1111111111111111111111111111111111111111"))
	assert.False(t, IsValidAddress("0x1234"))
}
