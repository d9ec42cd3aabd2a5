package rlp

import "bytes"

// MaxDepth 是 Decode 接受的最大列表嵌套层数
const MaxDepth = 64

// Decode 解码恰好一个 RLP 值，必须消费全部输入。
// 所有失败都满足 errors.Is(err, ErrMalformedEncoding)。
func Decode(b []byte) (Value, error) {
	v, rest, err := decodeValue(b, 0)
	if err != nil {
		return Value{}, err
	}
	if len(rest) > 0 {
		return Value{}, ErrTrailingBytes
	}
	return v, nil
}

func decodeValue(b []byte, depth int) (Value, []byte, error) {
	kind, content, rest, err := Split(b)
	if err != nil {
		return Value{}, nil, err
	}
	if kind == String {
		return Bytes(bytes.Clone(content)), rest, nil
	}
	if depth >= MaxDepth {
		return Value{}, nil, ErrTooDeep
	}

	items := []Value{}
	for len(content) > 0 {
		var item Value
		item, content, err = decodeValue(content, depth+1)
		if err != nil {
			return Value{}, nil, err
		}
		items = append(items, item)
	}
	return NewList(items...), rest, nil
}

// Split 解析 b 开头一个值的前缀，返回它的类型、内容以及剩余字节。
// 单字节值 (< 0x80) 的内容就是它自己。
func Split(b []byte) (k Kind, content, rest []byte, err error) {
	if len(b) == 0 {
		return 0, nil, nil, ErrUnexpectedEnd
	}
	prefix := b[0]
	switch {
	case prefix < shortString:
		return String, b[:1], b[1:], nil

	case prefix <= shortString+maxShort:
		size := uint64(prefix - shortString)
		content, rest, err = splitContent(b[1:], size)
		if err != nil {
			return 0, nil, nil, err
		}
		// 单字节 < 0x80 应该直接编码为自身
		if size == 1 && content[0] < shortString {
			return 0, nil, nil, ErrCanonSize
		}
		return String, content, rest, nil

	case prefix < shortList:
		sizeLen := int(prefix - shortString - maxShort)
		size, err := readSize(b[1:], sizeLen)
		if err != nil {
			return 0, nil, nil, err
		}
		content, rest, err = splitContent(b[1+sizeLen:], size)
		if err != nil {
			return 0, nil, nil, err
		}
		return String, content, rest, nil

	case prefix <= shortList+maxShort:
		content, rest, err = splitContent(b[1:], uint64(prefix-shortList))
		if err != nil {
			return 0, nil, nil, err
		}
		return List, content, rest, nil

	default:
		sizeLen := int(prefix - shortList - maxShort)
		size, err := readSize(b[1:], sizeLen)
		if err != nil {
			return 0, nil, nil, err
		}
		content, rest, err = splitContent(b[1+sizeLen:], size)
		if err != nil {
			return 0, nil, nil, err
		}
		return List, content, rest, nil
	}
}

// readSize 读取长格式前缀后面的大端长度，sizeLen 最大为 8
func readSize(b []byte, sizeLen int) (uint64, error) {
	if sizeLen > len(b) {
		return 0, ErrUnexpectedEnd
	}
	if b[0] == 0 {
		return 0, ErrCanonSize
	}
	var size uint64
	for _, x := range b[:sizeLen] {
		size = size<<8 | uint64(x)
	}
	if size <= maxShort {
		return 0, ErrCanonSize
	}
	return size, nil
}

func splitContent(b []byte, size uint64) ([]byte, []byte, error) {
	if size > uint64(len(b)) {
		return nil, nil, ErrUnexpectedEnd
	}
	return b[:size], b[size:], nil
}
