package header

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// NumFixedFields 是所有版本都有的基础字段数
const NumFixedFields = 15

// Fields 是区块头的原始字段，顺序与共识编码一致。
// 扩展字段用指针表示是否存在，nil 即不存在；存在的扩展字段必须构成
// extensions 列表的连续前缀。
type Fields struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	Root        common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       types.Bloom
	Difficulty  uint256.Int
	Number      uint64
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   common.Hash
	Nonce       types.BlockNonce

	BaseFee          *uint256.Int // EIP-1559
	WithdrawalsHash  *common.Hash // EIP-4895
	BlobGasUsed      *uint64      // EIP-4844
	ExcessBlobGas    *uint64      // EIP-4844
	ParentBeaconRoot *common.Hash // EIP-4788
	RequestsHash     *common.Hash // EIP-7685
}

// Fork 标识区块头所属的编码版本
type Fork int

const (
	Frontier Fork = iota // London 之前的所有区块
	London
	Shanghai
	Cancun
	Prague
)

func (f Fork) String() string {
	switch f {
	case Frontier:
		return "frontier"
	case London:
		return "london"
	case Shanghai:
		return "shanghai"
	case Cancun:
		return "cancun"
	case Prague:
		return "prague"
	default:
		return "unknown"
	}
}

type extension struct {
	name    string
	fork    Fork
	present func(f *Fields) bool
}

// 扩展字段按激活顺序排列，后面的字段只会叠加在前面的字段之上
var extensions = []extension{
	{"baseFeePerGas", London, func(f *Fields) bool { return f.BaseFee != nil }},
	{"withdrawalsRoot", Shanghai, func(f *Fields) bool { return f.WithdrawalsHash != nil }},
	{"blobGasUsed", Cancun, func(f *Fields) bool { return f.BlobGasUsed != nil }},
	{"excessBlobGas", Cancun, func(f *Fields) bool { return f.ExcessBlobGas != nil }},
	{"parentBeaconBlockRoot", Cancun, func(f *Fields) bool { return f.ParentBeaconRoot != nil }},
	{"requestsHash", Prague, func(f *Fields) bool { return f.RequestsHash != nil }},
}

// MaxFields 是当前支持的最长字段列表
var MaxFields = NumFixedFields + len(extensions)

// copy 深拷贝，保证 Header 构造之后不受调用方修改影响
func (f *Fields) copy() Fields {
	cpy := *f
	if f.Extra != nil {
		cpy.Extra = bytes.Clone(f.Extra)
	}
	if f.BaseFee != nil {
		cpy.BaseFee = new(uint256.Int).Set(f.BaseFee)
	}
	cpy.WithdrawalsHash = copyHash(f.WithdrawalsHash)
	cpy.BlobGasUsed = copyUint64(f.BlobGasUsed)
	cpy.ExcessBlobGas = copyUint64(f.ExcessBlobGas)
	cpy.ParentBeaconRoot = copyHash(f.ParentBeaconRoot)
	cpy.RequestsHash = copyHash(f.RequestsHash)
	return cpy
}

func copyHash(h *common.Hash) *common.Hash {
	if h == nil {
		return nil
	}
	cpy := *h
	return &cpy
}

func copyUint64(u *uint64) *uint64 {
	if u == nil {
		return nil
	}
	cpy := *u
	return &cpy
}
