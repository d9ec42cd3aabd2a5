package rlp

import (
	"errors"
	"fmt"
)

// ErrMalformedEncoding 是所有解码错误的根错误，调用方用 errors.Is 判断即可。
// 编码方向永远不会返回这个错误。
var ErrMalformedEncoding = errors.New("rlp: malformed encoding")

var (
	// ErrUnexpectedEnd 表示前缀声明的长度超出了剩余输入（包括超出外层列表的范围）
	ErrUnexpectedEnd = fmt.Errorf("%w: value size exceeds available input", ErrMalformedEncoding)

	// ErrCanonSize 表示长度前缀不是最短形式：
	// 单字节 < 0x80 被包了一层前缀、长度 <= 55 却用了长格式、length-of-length 带前导零
	ErrCanonSize = fmt.Errorf("%w: non-canonical size information", ErrMalformedEncoding)

	// ErrTrailingBytes 表示顶层值之后还有未消费的字节
	ErrTrailingBytes = fmt.Errorf("%w: input contains more than one value", ErrMalformedEncoding)

	// ErrTooDeep 表示列表嵌套层数超过 MaxDepth
	ErrTooDeep = fmt.Errorf("%w: nesting exceeds maximum depth", ErrMalformedEncoding)

	ErrExpectedString = fmt.Errorf("%w: expected string, got list", ErrMalformedEncoding)
	ErrExpectedList   = fmt.Errorf("%w: expected list, got string", ErrMalformedEncoding)

	// ErrCanonInt 表示整数字段带有前导零字节
	ErrCanonInt = fmt.Errorf("%w: non-canonical integer (leading zero bytes)", ErrMalformedEncoding)

	// ErrUintRange 表示整数超出了目标类型的宽度
	ErrUintRange = fmt.Errorf("%w: integer exceeds target width", ErrMalformedEncoding)
)

// ErrNegativeInteger 在尝试编码负数时返回，RLP 只定义了无符号整数
var ErrNegativeInteger = errors.New("rlp: cannot encode negative integer")
