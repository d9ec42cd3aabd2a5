// Package header 按分叉规则把区块头字段组织成有序列表，重新生成共识编码并计算区块哈希。
// 这里不做任何 I/O，字段由 BlockSource 提供。
package header

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"

	"github.com/WJX2001/header-hasher/rlp"
)

// Header 是校验过形状的不可变区块头，可以并发使用
type Header struct {
	fields Fields
	ext    int // 存在的扩展字段个数
}

// New 校验扩展字段的前缀约束并深拷贝 f
func New(f Fields) (*Header, error) {
	ext, err := activeExtensions(&f)
	if err != nil {
		return nil, err
	}
	return &Header{fields: f.copy(), ext: ext}, nil
}

// activeExtensions 返回连续存在的扩展字段个数，出现空洞时返回 ErrInvalidHeaderShape
func activeExtensions(f *Fields) (int, error) {
	n := 0
	for n < len(extensions) && extensions[n].present(f) {
		n++
	}
	for i := n + 1; i < len(extensions); i++ {
		if extensions[i].present(f) {
			return 0, fmt.Errorf("%w: %s present without %s", ErrInvalidHeaderShape, extensions[i].name, extensions[n].name)
		}
	}
	return n, nil
}

// Fields 返回字段的深拷贝
func (h *Header) Fields() Fields {
	return h.fields.copy()
}

// Number 返回区块号
func (h *Header) Number() uint64 {
	return h.fields.Number
}

// NumFields 返回编码列表的长度
func (h *Header) NumFields() int {
	return NumFixedFields + h.ext
}

// Fork 返回最后一个存在的扩展字段所属的分叉
func (h *Header) Fork() Fork {
	if h.ext == 0 {
		return Frontier
	}
	return extensions[h.ext-1].fork
}

// Value 把区块头转换成编码器的值树：
// 哈希、地址、bloom、extra、nonce 原样作为字节串（全零哈希仍是 32 个零字节），
// 整数字段规范化，0 变成空串。
func (h *Header) Value() rlp.Value {
	f := &h.fields
	items := make([]rlp.Value, 0, h.NumFields())
	items = append(items,
		rlp.Bytes(f.ParentHash.Bytes()),
		rlp.Bytes(f.UncleHash.Bytes()),
		rlp.Bytes(f.Coinbase.Bytes()),
		rlp.Bytes(f.Root.Bytes()),
		rlp.Bytes(f.TxHash.Bytes()),
		rlp.Bytes(f.ReceiptHash.Bytes()),
		rlp.Bytes(f.Bloom.Bytes()),
		rlp.Uint256(&f.Difficulty),
		rlp.Uint64(f.Number),
		rlp.Uint64(f.GasLimit),
		rlp.Uint64(f.GasUsed),
		rlp.Uint64(f.Time),
		rlp.Bytes(common.CopyBytes(f.Extra)),
		rlp.Bytes(f.MixDigest.Bytes()),
		nonceValue(f.Nonce),
	)

	tail := []func() rlp.Value{
		func() rlp.Value { return rlp.Uint256(f.BaseFee) },
		func() rlp.Value { return rlp.Bytes(f.WithdrawalsHash.Bytes()) },
		func() rlp.Value { return rlp.Uint64(*f.BlobGasUsed) },
		func() rlp.Value { return rlp.Uint64(*f.ExcessBlobGas) },
		func() rlp.Value { return rlp.Bytes(f.ParentBeaconRoot.Bytes()) },
		func() rlp.Value { return rlp.Bytes(f.RequestsHash.Bytes()) },
	}
	for _, fn := range tail[:h.ext] {
		items = append(items, fn())
	}
	return rlp.NewList(items...)
}

func nonceValue(n types.BlockNonce) rlp.Value {
	return rlp.Bytes(n[:])
}

// EncodeRLP 返回区块头的共识编码
func (h *Header) EncodeRLP() []byte {
	return rlp.Encode(h.Value())
}

// Hash 返回编码的 keccak-256，每次调用都重新计算
func (h *Header) Hash() common.Hash {
	return keccak256(h.EncodeRLP())
}

// ComputeHash 等价于 New(f) 后调用 Hash
func ComputeHash(f Fields) (common.Hash, error) {
	h, err := New(f)
	if err != nil {
		return common.Hash{}, err
	}
	return h.Hash(), nil
}

// Encode 等价于 New(f) 后调用 EncodeRLP
func Encode(f Fields) ([]byte, error) {
	h, err := New(f)
	if err != nil {
		return nil, err
	}
	return h.EncodeRLP(), nil
}

func keccak256(data []byte) (hash common.Hash) {
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	d.Sum(hash[:0])
	return hash
}
