package bigint

import (
	"math/big"
	"strings"
)

var (
	Zero = big.NewInt(0)
	One  = big.NewInt(1)
)

// Clamp 限制一次处理的区块范围：(end - start + 1) 不超过 size 时返回 end，
// 否则返回 start + size - 1
func Clamp(start, end *big.Int, size uint64) *big.Int {
	temp := new(big.Int)
	count := temp.Sub(end, start).Uint64() + 1
	if count <= size {
		return end
	}
	temp.Add(start, new(big.Int).SetUint64(size-1))
	return temp
}

// StringToBigInt 解析十进制或带 0x 前缀的十六进制，失败返回 nil。
// 前导 0 仍按十进制处理，不接受下划线分隔
func StringToBigInt(value string) *big.Int {
	base := 10
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		value, base = value[2:], 16
	}
	intValue, success := new(big.Int).SetString(value, base)
	if !success {
		return nil
	}
	return intValue
}
