package header

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BlockSource 提供区块头字段，可以是 RPC 节点、本地文件或者测试数据。
// number 为 nil 表示最新区块。找不到区块时返回 ethereum.NotFound，
// 传输错误原样返回，这里不做重试。
type BlockSource interface {
	BlockFields(ctx context.Context, number *big.Int) (Fields, error)
}

// Result 是一次计算的全部输出
type Result struct {
	Header  *Header
	Hash    common.Hash
	Encoded []byte
}

// HashBlock 从 src 取字段，校验形状后返回编码和哈希
func HashBlock(ctx context.Context, src BlockSource, number *big.Int) (*Result, error) {
	fields, err := src.BlockFields(ctx, number)
	if err != nil {
		return nil, err
	}
	h, err := New(fields)
	if err != nil {
		return nil, err
	}
	enc := h.EncodeRLP()
	return &Result{Header: h, Hash: keccak256(enc), Encoded: enc}, nil
}
