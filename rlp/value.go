package rlp

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Kind 是 RLP 值在线上的两种形态
type Kind uint8

const (
	String Kind = iota // 字节串，包括空串
	List               // 有序列表
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case List:
		return "list"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value 是编码器的值代数：要么是字节串，要么是值的有序列表。
// 零值是空字节串。无符号整数不是单独的变体，通过 Uint64 / Uint256 / BigInt
// 规范化成不带前导零的大端字节串，0 对应空串。
type Value struct {
	kind  Kind
	str   []byte
	items []Value
}

// Bytes 构造字节串值，不拷贝 b
func Bytes(b []byte) Value {
	return Value{kind: String, str: b}
}

// NewList 构造列表值，保持 items 的顺序
func NewList(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: List, items: items}
}

// Uint64 把无符号整数规范化为最短大端字节串
func Uint64(u uint64) Value {
	return Bytes(appendUint(nil, u))
}

// Uint256 同 Uint64，nil 视为 0
func Uint256(u *uint256.Int) Value {
	if u == nil || u.IsZero() {
		return Bytes(nil)
	}
	return Bytes(u.Bytes())
}

// BigInt 同 Uint64，负数返回 ErrNegativeInteger
func BigInt(i *big.Int) (Value, error) {
	if i == nil {
		return Bytes(nil), nil
	}
	if i.Sign() < 0 {
		return Value{}, ErrNegativeInteger
	}
	return Bytes(i.Bytes()), nil
}

func (v Value) Kind() Kind { return v.kind }

// Bytes 返回字节串内容，列表返回 nil
func (v Value) Bytes() []byte {
	if v.kind != String {
		return nil
	}
	return v.str
}

// Items 返回列表元素，字节串返回 nil
func (v Value) Items() []Value {
	if v.kind != List {
		return nil
	}
	return v.items
}

// Len 字节串返回字节数，列表返回元素个数
func (v Value) Len() int {
	if v.kind == List {
		return len(v.items)
	}
	return len(v.str)
}

// Equal 做结构比较，nil 与空字节串视为相等
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == String {
		return bytes.Equal(v.str, o.str)
	}
	if len(v.items) != len(o.items) {
		return false
	}
	for i := range v.items {
		if !v.items[i].Equal(o.items[i]) {
			return false
		}
	}
	return true
}

// AsUint64 把字节串按规范整数解释
func (v Value) AsUint64() (uint64, error) {
	b, err := v.intBytes(8)
	if err != nil {
		return 0, err
	}
	var u uint64
	for _, x := range b {
		u = u<<8 | uint64(x)
	}
	return u, nil
}

// AsUint256 把字节串按规范 256 位整数解释
func (v Value) AsUint256() (*uint256.Int, error) {
	b, err := v.intBytes(32)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b), nil
}

func (v Value) intBytes(width int) ([]byte, error) {
	if v.kind != String {
		return nil, ErrExpectedString
	}
	if len(v.str) > 0 && v.str[0] == 0 {
		return nil, ErrCanonInt
	}
	if len(v.str) > width {
		return nil, ErrUintRange
	}
	return v.str, nil
}

// String 便于测试失败时打印
func (v Value) String() string {
	if v.kind == String {
		return fmt.Sprintf("0x%x", v.str)
	}
	parts := make([]string, len(v.items))
	for i, item := range v.items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
