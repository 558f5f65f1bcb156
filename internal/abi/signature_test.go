package abi

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctionSelector_KnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		signature string
		expected  string
	}{
		{"transfer(address,uint256)", "0xa9059cbb"},
		{"approve(address,uint256)", "0x095ea7b3"},
		{"transferFrom(address,address,uint256)", "0x23b872dd"},
		{"balanceOf(address)", "0x70a08231"},
		{"totalSupply()", "0x18160ddd"},
		{"decimals()", "0x313ce567"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FunctionSelector(tt.signature).Hex(), tt.signature)
	}
}

func TestEventTopic(t *testing.T) {
	topic := EventTopic("Transfer(address,address,uint256)")
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", topic.Hex())

	// 与go-ethereum的Keccak256结果一致
	assert.Equal(t, crypto.Keccak256Hash([]byte("Approval(address,address,uint256)")),
		EventTopic("Approval(address,address,uint256)"))
}

func TestFunctionSelector_Deterministic(t *testing.T) {
	sig := "submit((address,uint256[2],(string))[])"
	first := FunctionSelector(sig)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, FunctionSelector(sig))
	}
	assert.NotEqual(t, first, FunctionSelector("submit((address,uint256[2],(string)))"))
}

func TestSelectorFromBytes(t *testing.T) {
	sel, ok := SelectorFromBytes([]byte{0xa9, 0x05, 0x9c, 0xbb, 0x00})
	require.True(t, ok)
	assert.Equal(t, "0xa9059cbb", sel.Hex())

	_, ok = SelectorFromBytes([]byte{0xa9, 0x05})
	assert.False(t, ok)
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		text      string
		name      string
		inputs    int
		canonical string
	}{
		{"transfer(address,uint256)", "transfer", 2, "transfer(address,uint256)"},
		{"totalSupply()", "totalSupply", 0, "totalSupply()"},
		{"submit((address,uint256)[],bytes)", "submit", 2, "submit((address,uint256)[],bytes)"},
		{"nested((uint8,(bool,string))[2])", "nested", 1, "nested((uint8,(bool,string))[2])"},
		{" spaced(address, uint256) ", "spaced", 2, "spaced(address,uint256)"},
	}

	for _, tt := range tests {
		f, err := ParseSignature(tt.text)
		require.NoError(t, err, tt.text)
		assert.Equal(t, tt.name, f.Name)
		assert.Len(t, f.Inputs, tt.inputs)
		assert.Equal(t, tt.canonical, f.Signature())
	}
}

func TestParseSignature_Invalid(t *testing.T) {
	for _, text := range []string{"transfer", "(address)", "f(uint7)", "f((address)", "f(address))", "f(,)"} {
		_, err := ParseSignature(text)
		assert.Error(t, err, text)
	}
}
