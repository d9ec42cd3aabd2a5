package header

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/WJX2001/header-hasher/rlp"
)

// Decode 从共识编码还原区块头
func Decode(b []byte) (*Header, error) {
	v, err := rlp.Decode(b)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

// FromValue 是 Value 的逆操作：列表长度决定存在哪些扩展字段
func FromValue(v rlp.Value) (*Header, error) {
	if v.Kind() != rlp.List {
		return nil, rlp.ErrExpectedList
	}
	if n := v.Len(); n < NumFixedFields || n > MaxFields {
		return nil, fmt.Errorf("%w: %d fields, want %d..%d", ErrInvalidHeaderShape, n, NumFixedFields, MaxFields)
	}

	r := &fieldReader{items: v.Items()}
	var f Fields
	f.ParentHash = r.hash("parentHash")
	f.UncleHash = r.hash("sha3Uncles")
	copy(f.Coinbase[:], r.fixed("miner", common.AddressLength))
	f.Root = r.hash("stateRoot")
	f.TxHash = r.hash("transactionsRoot")
	f.ReceiptHash = r.hash("receiptsRoot")
	copy(f.Bloom[:], r.fixed("logsBloom", types.BloomByteLength))
	if d := r.uint256("difficulty"); d != nil {
		f.Difficulty = *d
	}
	f.Number = r.uint64("number")
	f.GasLimit = r.uint64("gasLimit")
	f.GasUsed = r.uint64("gasUsed")
	f.Time = r.uint64("timestamp")
	f.Extra = r.bytes("extraData")
	f.MixDigest = r.hash("mixHash")
	copy(f.Nonce[:], r.fixed("nonce", len(f.Nonce)))

	if r.more() {
		f.BaseFee = r.uint256("baseFeePerGas")
	}
	if r.more() {
		h := r.hash("withdrawalsRoot")
		f.WithdrawalsHash = &h
	}
	if r.more() {
		u := r.uint64("blobGasUsed")
		f.BlobGasUsed = &u
	}
	if r.more() {
		u := r.uint64("excessBlobGas")
		f.ExcessBlobGas = &u
	}
	if r.more() {
		h := r.hash("parentBeaconBlockRoot")
		f.ParentBeaconRoot = &h
	}
	if r.more() {
		h := r.hash("requestsHash")
		f.RequestsHash = &h
	}
	if r.err != nil {
		return nil, r.err
	}
	return New(f)
}

// fieldReader 按顺序读取列表元素，第一次出错后后续读取都变成空操作
type fieldReader struct {
	items []rlp.Value
	pos   int
	err   error
}

func (r *fieldReader) more() bool {
	return r.err == nil && r.pos < len(r.items)
}

func (r *fieldReader) next(name string) (rlp.Value, bool) {
	if r.err != nil {
		return rlp.Value{}, false
	}
	v := r.items[r.pos]
	r.pos++
	if v.Kind() != rlp.String {
		r.err = fmt.Errorf("%s: %w", name, rlp.ErrExpectedString)
		return rlp.Value{}, false
	}
	return v, true
}

func (r *fieldReader) bytes(name string) []byte {
	v, ok := r.next(name)
	if !ok {
		return nil
	}
	return v.Bytes()
}

func (r *fieldReader) fixed(name string, size int) []byte {
	b := r.bytes(name)
	if r.err == nil && len(b) != size {
		r.err = fmt.Errorf("%w: %s is %d bytes, want %d", ErrFieldSize, name, len(b), size)
		return nil
	}
	return b
}

func (r *fieldReader) hash(name string) common.Hash {
	return common.BytesToHash(r.fixed(name, common.HashLength))
}

func (r *fieldReader) uint64(name string) uint64 {
	v, ok := r.next(name)
	if !ok {
		return 0
	}
	u, err := v.AsUint64()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
	}
	return u
}

func (r *fieldReader) uint256(name string) *uint256.Int {
	v, ok := r.next(name)
	if !ok {
		return nil
	}
	u, err := v.AsUint256()
	if err != nil {
		r.err = fmt.Errorf("%s: %w", name, err)
		return nil
	}
	return u
}
