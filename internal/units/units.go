// Package units 精确的代币数量换算，全部使用整数运算
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// 以太坊单位对应的小数位数
var unitDecimals = map[string]int{
	"wei":        0,
	"kwei":       3,
	"babbage":    3,
	"mwei":       6,
	"lovelace":   6,
	"gwei":       9,
	"shannon":    9,
	"szabo":      12,
	"microether": 12,
	"finney":     15,
	"milliether": 15,
	"ether":      18,
	"eth":        18,
}

// MaxDecimals 支持的最大小数位数
const MaxDecimals = 77

// UnitDecimals 返回单位的小数位数
func UnitDecimals(unit string) (int, error) {
	d, ok := unitDecimals[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, fmt.Errorf("未知单位: %s", unit)
	}
	return d, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// FormatUnits 把最小单位的整数格式化为十进制小数，去掉末尾的0
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}

	abs := new(big.Int).Abs(amount)
	intPart, frac := new(big.Int).QuoRem(abs, pow10(decimals), new(big.Int))

	sign := ""
	if amount.Sign() < 0 {
		sign = "-"
	}
	if frac.Sign() == 0 {
		return sign + intPart.String()
	}

	fracStr := frac.String()
	fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	fracStr = strings.TrimRight(fracStr, "0")
	return sign + intPart.String() + "." + fracStr
}

// ParseUnits 把十进制小数解析为最小单位的整数，小数位超出精度时报错
func ParseUnits(text string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("小数位数超出范围: %d", decimals)
	}

	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("数量为空")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("无效的数量: %q", text)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return nil, fmt.Errorf("无效的数量: %q", text)
	}

	trimmed := strings.TrimRight(fracPart, "0")
	if len(trimmed) > decimals {
		return nil, fmt.Errorf("数量 %q 的小数位超过 %d 位", text, decimals)
	}

	digits := intPart + trimmed + strings.Repeat("0", decimals-len(trimmed))
	if digits == "" {
		digits = "0"
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("无效的数量: %q", text)
	}
	if negative {
		v.Neg(v)
	}
	return v, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ToWei 按单位把数量换算为wei
func ToWei(text, unit string) (*big.Int, error) {
	d, err := UnitDecimals(unit)
	if err != nil {
		return nil, err
	}
	return ParseUnits(text, d)
}

// FromWei 把wei换算为给定单位的十进制表示
func FromWei(amount *big.Int, unit string) (string, error) {
	d, err := UnitDecimals(unit)
	if err != nil {
		return "", err
	}
	return FormatUnits(amount, d), nil
}

// HexToDecimal 0x十六进制转十进制字符串
func HexToDecimal(hex string) (string, error) {
	v, err := hexutil.DecodeBig(normalizeHex(hex))
	if err != nil {
		return "", fmt.Errorf("无效的十六进制数 %q: %w", hex, err)
	}
	return v.String(), nil
}

// DecimalToHex 十进制字符串转0x十六进制
func DecimalToHex(dec string) (string, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(dec), 10)
	if !ok || v.Sign() < 0 {
		return "", fmt.Errorf("无效的十进制数: %q", dec)
	}
	return hexutil.EncodeBig(v), nil
}

// normalizeHex 去掉前导0，hexutil拒绝带前导0的数量
func normalizeHex(hex string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hex), "0x"), "0X")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// PadHex 左侧补0到width个十六进制位，保留0x前缀
func PadHex(hex string, width int) string {
	s := strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return "0x" + s
}

// IsValidAddress 是否为20字节的十六进制地址
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}
