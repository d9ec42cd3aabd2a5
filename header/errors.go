package header

import "errors"

var (
	// ErrInvalidHeaderShape 表示扩展字段不是连续前缀，或者字段个数不在支持范围内
	ErrInvalidHeaderShape = errors.New("header: invalid header shape")

	// ErrFieldSize 表示定长字段（哈希、地址、bloom、nonce）长度不对
	ErrFieldSize = errors.New("header: invalid field size")

	// ErrIntegerOverflow 表示整数超出了字段宽度
	ErrIntegerOverflow = errors.New("header: integer overflows field")
)
