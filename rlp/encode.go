package rlp

import "io"

const (
	shortString = 0x80 // 0x80 + len，len <= 55
	shortList   = 0xC0 // 0xC0 + len，len <= 55
	maxShort    = 55   // 超过 55 使用长格式：tag + 55 + len(length) 再跟大端长度
)

// Encode 返回 v 的 RLP 编码。对值代数来说是全函数，不会失败。
// 先算出总长度，再一次性写入缓冲区。
func Encode(v Value) []byte {
	buf := make([]byte, 0, EncodedSize(v))
	return appendValue(buf, v)
}

// EncodeToWriter 把 v 的编码写入 w
func EncodeToWriter(w io.Writer, v Value) error {
	_, err := w.Write(Encode(v))
	return err
}

// EncodedSize 返回 v 编码后的字节数
func EncodedSize(v Value) int {
	if v.kind == List {
		n := payloadSize(v.items)
		return headSize(n) + n
	}
	if isSingleByte(v.str) {
		return 1
	}
	return headSize(len(v.str)) + len(v.str)
}

func appendValue(dst []byte, v Value) []byte {
	if v.kind == List {
		dst = appendHead(dst, shortList, payloadSize(v.items))
		for _, item := range v.items {
			dst = appendValue(dst, item)
		}
		return dst
	}
	// 单字节且 < 0x80 自定界，不需要前缀
	if isSingleByte(v.str) {
		return append(dst, v.str[0])
	}
	dst = appendHead(dst, shortString, len(v.str))
	return append(dst, v.str...)
}

func payloadSize(items []Value) int {
	n := 0
	for _, item := range items {
		n += EncodedSize(item)
	}
	return n
}

func isSingleByte(b []byte) bool {
	return len(b) == 1 && b[0] < 0x80
}

func headSize(size int) int {
	if size <= maxShort {
		return 1
	}
	return 1 + uintSize(uint64(size))
}

// appendHead 写入字符串或列表的长度前缀，tag 为 0x80 或 0xC0
func appendHead(dst []byte, tag byte, size int) []byte {
	if size <= maxShort {
		return append(dst, tag+byte(size))
	}
	dst = append(dst, tag+maxShort+byte(uintSize(uint64(size))))
	return appendUint(dst, uint64(size))
}

// appendUint 追加 u 的最短大端表示，0 不追加任何字节
func appendUint(dst []byte, u uint64) []byte {
	for n := uintSize(u); n > 0; n-- {
		dst = append(dst, byte(u>>(8*uint(n-1))))
	}
	return dst
}

func uintSize(u uint64) int {
	n := 0
	for ; u > 0; u >>= 8 {
		n++
	}
	return n
}
