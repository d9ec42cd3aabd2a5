package header

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// FromEthHeader 把 go-ethereum 从 RPC JSON 解析出来的区块头转换成 Fields。
// 扩展字段是否存在完全取决于节点返回的内容，这里不补默认值。
func FromEthHeader(h *types.Header) (Fields, error) {
	f := Fields{
		ParentHash:  h.ParentHash,
		UncleHash:   h.UncleHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Bloom:       h.Bloom,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		Extra:       common.CopyBytes(h.Extra),
		MixDigest:   h.MixDigest,
		Nonce:       h.Nonce,

		WithdrawalsHash:  copyHash(h.WithdrawalsHash),
		BlobGasUsed:      copyUint64(h.BlobGasUsed),
		ExcessBlobGas:    copyUint64(h.ExcessBlobGas),
		ParentBeaconRoot: copyHash(h.ParentBeaconRoot),
		RequestsHash:     copyHash(h.RequestsHash),
	}

	if h.Difficulty != nil {
		d, err := toUint256("difficulty", h.Difficulty)
		if err != nil {
			return Fields{}, err
		}
		f.Difficulty = *d
	}
	if h.Number != nil {
		if !h.Number.IsUint64() {
			return Fields{}, fmt.Errorf("%w: number %s", ErrIntegerOverflow, h.Number)
		}
		f.Number = h.Number.Uint64()
	}
	if h.BaseFee != nil {
		baseFee, err := toUint256("baseFeePerGas", h.BaseFee)
		if err != nil {
			return Fields{}, err
		}
		f.BaseFee = baseFee
	}
	return f, nil
}

func toUint256(name string, b *big.Int) (*uint256.Int, error) {
	if b.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %s %s", ErrIntegerOverflow, name, b)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: %s %s", ErrIntegerOverflow, name, b)
	}
	return u, nil
}
