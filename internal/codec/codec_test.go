package codec

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"contractkit/internal/abi"
	"contractkit/internal/errors"

	"github.com/chrismcguire/gobberish"
	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustType(t *testing.T, s string) *abi.Type {
	t.Helper()
	typ, err := abi.ParseType(s)
	require.NoError(t, err, s)
	return typ
}

func params(t *testing.T, types ...string) abi.Parameters {
	t.Helper()
	ps := make(abi.Parameters, len(types))
	for i, s := range types {
		ps[i] = abi.Parameter{Type: mustType(t, s)}
	}
	return ps
}

// normalize 把解码结果转为可直接比较的形式，避免big.Int内部表示差异
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case *big.Int:
		return "int:" + x.String()
	case []byte:
		return "bytes:" + hexutil.Encode(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

func TestEncode_Transfer(t *testing.T) {
	t.Parallel()

	fn, err := abi.ParseSignature("transfer(address,uint256)")
	require.NoError(t, err)

	to := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	data, err := EncodeCall(fn, []interface{}{to, big.NewInt(1000)})
	require.NoError(t, err)

	expected := "0xa9059cbb" +
		"000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" +
		"00000000000000000000000000000000000000000000000000000000000003e8"
	assert.Equal(t, expected, hexutil.Encode(data))
}

func TestDecode_Uint8(t *testing.T) {
	t.Parallel()

	data := common.LeftPadBytes([]byte{0x07}, 32)
	values, err := Decode(params(t, "uint8"), data)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, int64(7), values[0].(*big.Int).Int64())
}

func TestEncode_ArgCountMismatch(t *testing.T) {
	t.Parallel()

	inputs := params(t, "address", "uint256")
	tests := []struct {
		name string
		args []interface{}
	}{
		{"none", nil},
		{"too few", []interface{}{common.Address{}}},
		{"too many", []interface{}{common.Address{}, 1, 2}},
		{"too many strings", []interface{}{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(inputs, tt.args)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeEncode))
		})
	}
}

func TestEncode_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ   string
		value interface{}
	}{
		{"uint8", 256},
		{"uint8", -1},
		{"int8", 128},
		{"int8", -129},
		{"uint256", "not a number"},
		{"address", "0x1234"},
		{"bool", "maybe"},
		{"bytes4", []byte{1, 2, 3}},
		{"bytes", "0xzz"},
		{"uint256[2]", []interface{}{1}},
		{"string", 42},
		{"uint256", 1.5},
		{"address", nil},
	}

	for _, tt := range tests {
		_, err := Encode(params(t, tt.typ), []interface{}{tt.value})
		require.Error(t, err, "%s %v", tt.typ, tt.value)
		assert.True(t, errors.IsType(err, errors.ErrorTypeEncode), err.Error())
	}
}

func TestEncode_NegativeInt(t *testing.T) {
	t.Parallel()

	data, err := Encode(params(t, "int256"), []interface{}{-1})
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 32), data)

	values, err := Decode(params(t, "int256"), data)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), values[0].(*big.Int).Int64())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minInt256 := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))

	tests := []struct {
		name   string
		types  []string
		values []interface{}
	}{
		{"address", []string{"address"}, []interface{}{addr}},
		{"bools", []string{"bool", "bool"}, []interface{}{true, false}},
		{"uint256 max", []string{"uint256"}, []interface{}{maxUint256}},
		{"int256 min", []string{"int256"}, []interface{}{minInt256}},
		{"small ints", []string{"uint8", "int16", "uint64"}, []interface{}{big.NewInt(255), big.NewInt(-300), big.NewInt(1 << 40)}},
		{"zero", []string{"uint256"}, []interface{}{big.NewInt(0)}},
		{"bytes32", []string{"bytes32"}, []interface{}{bytes.Repeat([]byte{0xab}, 32)}},
		{"bytes1", []string{"bytes1"}, []interface{}{[]byte{0x01}}},
		{"empty bytes", []string{"bytes"}, []interface{}{[]byte{}}},
		{"long bytes", []string{"bytes"}, []interface{}{bytes.Repeat([]byte{0x11}, 70)}},
		{"string", []string{"string"}, []interface{}{"hello"}},
		{"empty string", []string{"string"}, []interface{}{""}},
		{"dynamic array", []string{"uint256[]"}, []interface{}{[]interface{}{big.NewInt(1), big.NewInt(2), big.NewInt(3)}}},
		{"empty array", []string{"address[]"}, []interface{}{[]interface{}{}}},
		{"fixed array", []string{"uint8[3]"}, []interface{}{[]interface{}{big.NewInt(1), big.NewInt(2), big.NewInt(3)}}},
		{"string array", []string{"string[]"}, []interface{}{[]interface{}{"a", "bc", strings.Repeat("x", 40)}}},
		{"fixed dynamic array", []string{"string[2]"}, []interface{}{[]interface{}{"left", "right"}}},
		{"nested arrays", []string{"uint16[][]"}, []interface{}{[]interface{}{
			[]interface{}{big.NewInt(1)},
			[]interface{}{},
			[]interface{}{big.NewInt(2), big.NewInt(3)},
		}}},
		{"mixed", []string{"address", "string", "uint256", "bytes"}, []interface{}{
			addr, "memo", big.NewInt(42), []byte{0xde, 0xad},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := params(t, tt.types...)
			data, err := Encode(ps, tt.values)
			require.NoError(t, err)
			assert.Equal(t, 0, len(data)%32)

			decoded, err := Decode(ps, data)
			require.NoError(t, err)
			assert.Equal(t, normalize(tt.values), normalize(decoded))
		})
	}
}

func TestRoundTrip_Tuple(t *testing.T) {
	t.Parallel()

	registry, err := abi.FromJSON([]byte(`[{"type":"function","name":"submit","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"order","type":"tuple","components":[
			{"name":"maker","type":"address"},
			{"name":"amounts","type":"uint256[2]"},
			{"name":"memo","type":"string"}
		]},
		{"name":"flags","type":"bool[]"}
	]}]`))
	require.NoError(t, err)
	fn, err := registry.Function("submit")
	require.NoError(t, err)

	maker := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	args := []interface{}{
		map[string]interface{}{
			"maker":   maker,
			"amounts": []interface{}{1, 2},
			"memo":    "order",
		},
		[]interface{}{true, false, true},
	}
	data, err := Encode(fn.Inputs, args)
	require.NoError(t, err)

	decoded, err := Decode(fn.Inputs, data)
	require.NoError(t, err)
	// 元组与定长数组都解码为位置列表
	expected := []interface{}{
		[]interface{}{maker, []interface{}{big.NewInt(1), big.NewInt(2)}, "order"},
		[]interface{}{true, false, true},
	}
	assert.Equal(t, normalize(expected), normalize(decoded))

	formatted := FormatValues(fn.Inputs, decoded)
	order := formatted[0].(map[string]interface{})
	assert.Equal(t, maker.Hex(), order["maker"])
	assert.Equal(t, []interface{}{"1", "2"}, order["amounts"])
}

func TestRoundTrip_RandomStrings(t *testing.T) {
	t.Parallel()

	ps := params(t, "string", "string[]")
	for i := 0; i < 50; i++ {
		s := gobberish.GenerateString(i * 3)
		list := []interface{}{gobberish.GenerateString(i), gobberish.GenerateString(2 * i)}

		data, err := Encode(ps, []interface{}{s, list})
		require.NoError(t, err)
		decoded, err := Decode(ps, data)
		require.NoError(t, err)
		assert.Equal(t, s, decoded[0])
		assert.Equal(t, list, decoded[1])
	}
}

func TestEncode_MatchesGoEthereum(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	tests := []struct {
		name   string
		types  []string
		ours   []interface{}
		theirs []interface{}
	}{
		{
			"transfer",
			[]string{"address", "uint256"},
			[]interface{}{addr, big.NewInt(1000)},
			[]interface{}{addr, big.NewInt(1000)},
		},
		{
			"dynamic",
			[]string{"string", "bytes", "uint8"},
			[]interface{}{"contract", []byte{1, 2, 3}, 9},
			[]interface{}{"contract", []byte{1, 2, 3}, uint8(9)},
		},
		{
			"arrays",
			[]string{"address[]", "uint256[2]", "bool"},
			[]interface{}{[]interface{}{addr, addr}, []interface{}{1, 2}, true},
			[]interface{}{[]common.Address{addr, addr}, [2]*big.Int{big.NewInt(1), big.NewInt(2)}, true},
		},
		{
			"signed",
			[]string{"int256", "int64"},
			[]interface{}{-5, -7},
			[]interface{}{big.NewInt(-5), int64(-7)},
		},
		{
			"string array",
			[]string{"string[]"},
			[]interface{}{[]interface{}{"a", "bb"}},
			[]interface{}{[]string{"a", "bb"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args gethabi.Arguments
			for _, s := range tt.types {
				typ, err := gethabi.NewType(s, "", nil)
				require.NoError(t, err)
				args = append(args, gethabi.Argument{Type: typ})
			}
			expected, err := args.Pack(tt.theirs...)
			require.NoError(t, err)

			actual, err := Encode(params(t, tt.types...), tt.ours)
			require.NoError(t, err)
			assert.Equal(t, hexutil.Encode(expected), hexutil.Encode(actual))
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	word := func(b ...byte) []byte { return common.LeftPadBytes(b, 32) }
	concat := func(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

	tests := []struct {
		name  string
		types []string
		data  []byte
	}{
		{"empty", []string{"uint256"}, nil},
		{"short word", []string{"uint256"}, make([]byte, 31)},
		{"offset past end", []string{"string"}, word(0x40)},
		{"offset beyond data length", []string{"bytes"}, concat(word(0xff), word(0x01))},
		{"length exceeds data", []string{"string"}, concat(word(0x20), word(0x40), make([]byte, 32))},
		{"offset overflow", []string{"bytes"}, concat(bytes.Repeat([]byte{0xff}, 32), word(0))},
		{"array length exceeds data", []string{"uint256[]"}, concat(word(0x20), word(0x05), word(1))},
		{"huge array length", []string{"uint256[]"}, concat(word(0x20), word(0x7f, 0xff, 0xff, 0xff), word(1))},
		{"bool out of range", []string{"bool"}, word(0x02)},
		{"dirty address", []string{"address"}, concat([]byte{0x01}, make([]byte, 31))},
		{"uint8 overflow", []string{"uint8"}, word(0x01, 0x00)},
		{"int8 bad sign extension", []string{"int8"}, word(0x80)},
		{"bytes2 dirty padding", []string{"bytes2"}, concat([]byte{0xaa, 0xbb, 0xcc}, make([]byte, 29))},
		{"truncated fixed array", []string{"uint256[3]"}, concat(word(1), word(2))},
		{"large fixed array", []string{"uint256[524288]"}, concat(word(1), word(2))},
		{"large dynamic fixed array", []string{"string[524288]"}, concat(word(0x20), word(0))},
		{"nested zero-size elements", []string{"uint256[0][65536][]"}, concat(word(0x20), word(0x01, 0x00, 0x00))},
		{"zero-size elements over limit", []string{"uint256[0][]"}, concat(word(0x20), word(0x01, 0x00, 0x01))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := params(t, tt.types...)
			var err error
			assert.NotPanics(t, func() {
				_, err = Decode(ps, tt.data)
			})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeDecode), err.Error())
		})
	}
}

func TestDecode_SignedIntegers(t *testing.T) {
	t.Parallel()

	ones := func(low ...byte) []byte {
		w := bytes.Repeat([]byte{0xff}, 32)
		copy(w[32-len(low):], low)
		return w
	}

	tests := []struct {
		typ      string
		data     []byte
		expected int64
	}{
		{"int256", ones(), -1},
		{"int8", ones(0x80), -128},
		{"int16", ones(0xfe, 0x0c), -500},
		{"int64", common.LeftPadBytes([]byte{0x7f}, 32), 127},
	}

	for _, tt := range tests {
		values, err := DecodeValues([]*abi.Type{mustType(t, tt.typ)}, tt.data)
		require.NoError(t, err, tt.typ)
		assert.Equal(t, tt.expected, values[0].(*big.Int).Int64(), tt.typ)
	}
}

func TestDecode_ZeroSizeElements(t *testing.T) {
	t.Parallel()

	values, err := DecodeValues([]*abi.Type{mustType(t, "uint256[0][3]")}, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{[]interface{}{}, []interface{}{}, []interface{}{}}, values[0])

	data := bytes.Join([][]byte{common.LeftPadBytes([]byte{0x20}, 32), common.LeftPadBytes([]byte{0x03, 0xe8}, 32)}, nil)
	values, err = DecodeValues([]*abi.Type{mustType(t, "uint256[0][]")}, data)
	require.NoError(t, err)
	assert.Len(t, values[0], 1000)
}

func TestDecodeCall(t *testing.T) {
	t.Parallel()

	fn, err := abi.ParseSignature("approve(address,uint256)")
	require.NoError(t, err)
	spender := common.HexToAddress("0x1111111111111111111111111111111111111111")

	data, err := EncodeCall(fn, []interface{}{spender, "0x10"})
	require.NoError(t, err)

	values, err := DecodeCall(fn, data)
	require.NoError(t, err)
	assert.Equal(t, spender, values[0])
	assert.Equal(t, int64(16), values[1].(*big.Int).Int64())

	other, err := abi.ParseSignature("transfer(address,uint256)")
	require.NoError(t, err)
	_, err = DecodeCall(other, data)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))

	_, err = DecodeCall(fn, data[:3])
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
}

func TestCoercion(t *testing.T) {
	t.Parallel()

	ps := params(t, "uint256", "bool", "bytes4", "address[]")
	args, err := ParseTextArgs([]string{
		"1000000000000000000000",
		"true",
		"0xdeadbeef",
		`["0x1111111111111111111111111111111111111111"]`,
	})
	require.NoError(t, err)

	data, err := Encode(ps, args)
	require.NoError(t, err)
	decoded, err := Decode(ps, data)
	require.NoError(t, err)

	formatted := FormatValues(ps, decoded)
	assert.Equal(t, "1000000000000000000000", formatted[0])
	assert.Equal(t, true, formatted[1])
	assert.Equal(t, "0xdeadbeef", formatted[2])
	assert.Equal(t, []interface{}{"0x1111111111111111111111111111111111111111"}, formatted[3])
}

func TestParseTextArgs_InvalidJSON(t *testing.T) {
	_, err := ParseTextArgs([]string{"[1,2"})
	assert.Error(t, err)
}
