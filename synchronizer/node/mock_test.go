package node

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/WJX2001/header-hasher/header"
)

var errConnRefused = errors.New("dial tcp: connection refused")

// testChain 生成 n 个通过父哈希相连的 London 区块头
func testChain(n int) []header.Fields {
	chain := make([]header.Fields, n)
	var parent common.Hash
	for i := range chain {
		f := header.Fields{
			ParentHash:  parent,
			UncleHash:   types.EmptyUncleHash,
			Coinbase:    common.HexToAddress("0x95222290dd7278aa3ddd389cc1e1d165cc4bafe5"),
			Root:        common.BigToHash(big.NewInt(int64(1000 + i))),
			TxHash:      types.EmptyRootHash,
			ReceiptHash: types.EmptyRootHash,
			Difficulty:  *uint256.NewInt(uint64(131072 + i)),
			Number:      uint64(i),
			GasLimit:    30_000_000,
			GasUsed:     uint64(21000 * i),
			Time:        1_700_000_000 + uint64(12*i),
			Extra:       []byte("test chain"),
			Nonce:       types.EncodeNonce(uint64(i)),
			BaseFee:     uint256.NewInt(7),
		}
		hash, err := header.ComputeHash(f)
		if err != nil {
			panic(err)
		}
		parent = hash
		chain[i] = f
	}
	return chain
}

func ethHeader(f header.Fields) *types.Header {
	h := &types.Header{
		ParentHash:  f.ParentHash,
		UncleHash:   f.UncleHash,
		Coinbase:    f.Coinbase,
		Root:        f.Root,
		TxHash:      f.TxHash,
		ReceiptHash: f.ReceiptHash,
		Bloom:       f.Bloom,
		Difficulty:  f.Difficulty.ToBig(),
		Number:      new(big.Int).SetUint64(f.Number),
		GasLimit:    f.GasLimit,
		GasUsed:     f.GasUsed,
		Time:        f.Time,
		Extra:       f.Extra,
		MixDigest:   f.MixDigest,
		Nonce:       f.Nonce,

		WithdrawalsHash:  f.WithdrawalsHash,
		BlobGasUsed:      f.BlobGasUsed,
		ExcessBlobGas:    f.ExcessBlobGas,
		ParentBeaconRoot: f.ParentBeaconRoot,
		RequestsHash:     f.RequestsHash,
	}
	if f.BaseFee != nil {
		h.BaseFee = f.BaseFee.ToBig()
	}
	return h
}

// blockJSON 生成节点返回的区块对象，hash 字段由 go-ethereum 计算
func blockJSON(f header.Fields) json.RawMessage {
	raw, err := json.Marshal(ethHeader(f))
	if err != nil {
		panic(err)
	}
	return raw
}

// withClaimedHash 覆盖节点声称的哈希
func withClaimedHash(raw json.RawMessage, hash common.Hash) json.RawMessage {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		panic(err)
	}
	obj["hash"] = hash
	out, err := json.Marshal(obj)
	if err != nil {
		panic(err)
	}
	return out
}

type mockRPC struct {
	mu       sync.Mutex
	byNumber map[string]json.RawMessage
	byHash   map[common.Hash]json.RawMessage
	latest   string
	logs     []types.Log
	ranges   [][2]uint64 // eth_getLogs 请求过的区块范围
	failures int         // 前 failures 次调用返回连接错误
	calls    int
	batches  int
	closed   bool
}

func newMockRPC(chain []header.Fields) *mockRPC {
	m := &mockRPC{
		byNumber: make(map[string]json.RawMessage),
		byHash:   make(map[common.Hash]json.RawMessage),
	}
	for _, f := range chain {
		m.add(f, blockJSON(f))
	}
	return m
}

func (m *mockRPC) add(f header.Fields, raw json.RawMessage) {
	key := hexutil.EncodeUint64(f.Number)
	m.byNumber[key] = raw
	hash, err := header.ComputeHash(f)
	if err != nil {
		panic(err)
	}
	m.byHash[hash] = raw
	m.latest = key
}

func (m *mockRPC) lookup(method string, args []any) json.RawMessage {
	switch method {
	case "eth_getBlockByNumber":
		key := args[0].(string)
		if key == "latest" {
			key = m.latest
		}
		if raw, ok := m.byNumber[key]; ok {
			return raw
		}
	case "eth_getBlockByHash":
		if raw, ok := m.byHash[args[0].(common.Hash)]; ok {
			return raw
		}
	case "eth_getLogs":
		return m.filterLogs(args[0].(map[string]interface{}))
	}
	return json.RawMessage("null")
}

func (m *mockRPC) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockRPC) CallContext(_ context.Context, result any, method string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errConnRefused
	}
	*result.(*json.RawMessage) = m.lookup(method, args)
	return nil
}

func (m *mockRPC) BatchCallContext(_ context.Context, b []rpc.BatchElem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.failures > 0 {
		m.failures--
		return errConnRefused
	}
	for i := range b {
		*b[i].Result.(*json.RawMessage) = m.lookup(b[i].Method, b[i].Args)
	}
	return nil
}

func (m *mockRPC) filterLogs(filter map[string]interface{}) json.RawMessage {
	matched := make([]types.Log, 0)
	if hash, ok := filter["blockHash"]; ok {
		for _, lg := range m.logs {
			if lg.BlockHash == hash.(common.Hash) {
				matched = append(matched, lg)
			}
		}
	} else {
		from := hexutil.MustDecodeUint64(filter["fromBlock"].(string))
		to := hexutil.MustDecodeUint64(filter["toBlock"].(string))
		m.ranges = append(m.ranges, [2]uint64{from, to})
		for _, lg := range m.logs {
			if lg.BlockNumber >= from && lg.BlockNumber <= to {
				matched = append(matched, lg)
			}
		}
	}
	raw, err := json.Marshal(matched)
	if err != nil {
		panic(err)
	}
	return raw
}

func testLog(number uint64) types.Log {
	return types.Log{
		Address:     common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3"),
		Topics:      []common.Hash{common.HexToHash("0x01")},
		Data:        []byte{},
		BlockNumber: number,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(number)),
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(number + 1_000_000)),
	}
}
