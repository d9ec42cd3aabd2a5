package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/WJX2001/header-hasher/common/bigint"
	"github.com/WJX2001/header-hasher/header"
	"github.com/WJX2001/header-hasher/synchronizer/retry"
)

/*
	- 封装以太坊 RPC 客户端，可以配置多个节点，失败时按顺序轮换
	- 只取区块头，返回原始字段和节点声称的哈希，哈希由 header 包在本地重新计算
*/

const (
	defaultDialTimeout    = 5 * time.Second
	defaultDialAttempts   = 5
	defaultRequestTimeout = 100 * time.Second
	defaultCallAttempts   = 5
	defaultLogRange       = 800 // 单次 eth_getLogs 最多覆盖的区块数

	// Polygon 节点拒绝大批量请求，分组逐个调用
	PolygonChainId   = 137
	polygonGroupSize = 100
)

var ErrHeaderHashMismatch = errors.New("header hash mismatch")

// RemoteHeader 是节点返回的区块头：字段加上节点声称的哈希
type RemoteHeader struct {
	header.Fields
	Hash common.Hash
}

// Header 校验形状并返回本地的区块头
func (r *RemoteHeader) Header() (*header.Header, error) {
	return header.New(r.Fields)
}

type EthClient interface {
	header.BlockSource

	HeaderByNumber(ctx context.Context, number *big.Int) (*RemoteHeader, error) // number 为 nil 表示最新区块
	HeaderByHash(ctx context.Context, hash common.Hash) (*RemoteHeader, error)  // 本地重新计算的哈希必须等于 hash
	// 批量获取 [start, end] 的区块头，对 Polygon 链分组并发请求，对其他链使用标准的批量 RPC 调用
	HeadersByRange(ctx context.Context, start, end *big.Int) ([]RemoteHeader, error)
	// 查询日志，按区块范围查询时拆成不超过 LogRange 个区块的小段依次请求
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	Close()
}

type ClientConfig struct {
	ChainId        uint
	Attempts       int            // 每次调用的最大尝试次数，每次失败换下一个节点
	Strategy       retry.Strategy // 两次尝试之间的等待
	RequestTimeout time.Duration
	LogRange       uint64 // eth_getLogs 单次请求的区块数上限
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Attempts < 1 {
		c.Attempts = defaultCallAttempts
	}
	if c.Strategy == nil {
		c.Strategy = retry.Exponential()
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.LogRange == 0 {
		c.LogRange = defaultLogRange
	}
	return c
}

type clnt struct {
	cfg  ClientConfig
	rpcs []RPC
	cur  atomic.Uint32 // 当前使用的节点下标
}

// NewEthClient 用已经建立好的连接构造客户端
func NewEthClient(cfg ClientConfig, rpcs ...RPC) (EthClient, error) {
	if len(rpcs) == 0 {
		return nil, errors.New("at least one rpc endpoint is required")
	}
	return &clnt{cfg: cfg.withDefaults(), rpcs: rpcs}, nil
}

// DialEthClient 依次连接 urls 中的每个节点，全部成功才返回
func DialEthClient(ctx context.Context, urls []string, cfg ClientConfig) (EthClient, error) {
	if len(urls) == 0 {
		return nil, errors.New("no rpc url configured")
	}

	rpcs := make([]RPC, 0, len(urls))
	for _, rpcUrl := range urls {
		client, err := dial(ctx, rpcUrl)
		if err != nil {
			for _, r := range rpcs {
				r.Close()
			}
			return nil, err
		}
		rpcs = append(rpcs, NewRPC(client))
	}
	log.Info("connected to rpc endpoints", "count", len(rpcs))
	return NewEthClient(cfg, rpcs...)
}

func dial(ctx context.Context, rpcUrl string) (*rpc.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	return retry.Do(ctx, defaultDialAttempts, retry.Exponential(), func() (*rpc.Client, error) {
		if !IsURLAvailable(rpcUrl) {
			return nil, fmt.Errorf("address unavailable (%s)", rpcUrl)
		}
		client, err := rpc.DialContext(ctx, rpcUrl)
		if err != nil {
			return nil, fmt.Errorf("failed to dial address (%s): %w", rpcUrl, err)
		}
		return client, nil
	})
}

// endpoint 返回当前节点及其下标
func (c *clnt) endpoint() (RPC, uint32) {
	idx := c.cur.Load() % uint32(len(c.rpcs))
	return c.rpcs[idx], idx
}

// rotate 在 idx 仍是当前节点时切换到下一个，并发失败只轮换一次
func (c *clnt) rotate(idx uint32, method string, err error) {
	next := (idx + 1) % uint32(len(c.rpcs))
	if c.cur.CompareAndSwap(idx, next) && len(c.rpcs) > 1 {
		log.Warn("rpc call failed, switching endpoint", "method", method, "from", idx, "to", next, "err", err)
	}
}

// call 发起一次带重试的调用，返回原始 JSON。结果为 null 时返回 ethereum.NotFound，不重试
func (c *clnt) call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	return retry.Do(ctx, c.cfg.Attempts, c.cfg.Strategy, func() (json.RawMessage, error) {
		r, idx := c.endpoint()
		ctxwt, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		var raw json.RawMessage
		if err := r.CallContext(ctxwt, &raw, method, args...); err != nil {
			c.rotate(idx, method, err)
			return nil, err
		}
		if isNull(raw) {
			return nil, retry.Permanent(ethereum.NotFound)
		}
		return raw, nil
	})
}

// batchCall 把 elems 作为一次批量请求发送，整批失败时换节点重试
func (c *clnt) batchCall(ctx context.Context, elems []rpc.BatchElem) error {
	_, err := retry.Do(ctx, c.cfg.Attempts, c.cfg.Strategy, func() (struct{}, error) {
		r, idx := c.endpoint()
		ctxwt, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if err := r.BatchCallContext(ctxwt, elems); err != nil {
			c.rotate(idx, "batch", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}

func (c *clnt) BlockFields(ctx context.Context, number *big.Int) (header.Fields, error) {
	h, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return header.Fields{}, err
	}
	return h.Fields, nil
}

func (c *clnt) HeaderByNumber(ctx context.Context, number *big.Int) (*RemoteHeader, error) {
	raw, err := c.call(ctx, "eth_getBlockByNumber", toBlockNumArg(number), false)
	if err != nil {
		return nil, err
	}
	return ParseHeaderJSON(raw)
}

func (c *clnt) HeaderByHash(ctx context.Context, hash common.Hash) (*RemoteHeader, error) {
	raw, err := c.call(ctx, "eth_getBlockByHash", hash, false)
	if err != nil {
		return nil, err
	}
	remote, err := ParseHeaderJSON(raw)
	if err != nil {
		return nil, err
	}

	computed, err := header.ComputeHash(remote.Fields)
	if err != nil {
		return nil, err
	}
	if computed != hash {
		return nil, fmt.Errorf("%w: requested %s, computed %s", ErrHeaderHashMismatch, hash, computed)
	}
	return remote, nil
}

/*
根据区块高度范围，批量获取这一段的区块头信息
如果只要一个区块 -> 直接调用 HeaderByNumber
如果是普通链，用 BatchCallContext 一次性批量请求
如果是 Polygon 链，每组最多 100 个区块，每个区块单独 RPC 请求，避免节点拒绝大批量请求
*/
func (c *clnt) HeadersByRange(ctx context.Context, start, end *big.Int) ([]RemoteHeader, error) {
	if start.Cmp(end) == 0 {
		h, err := c.HeaderByNumber(ctx, start)
		if err != nil {
			return nil, err
		}
		return []RemoteHeader{*h}, nil
	}
	if start.Cmp(end) > 0 {
		return nil, fmt.Errorf("invalid range: start %s > end %s", start, end)
	}

	count := new(big.Int).Sub(end, start).Uint64() + 1
	raws := make([]json.RawMessage, count)
	height := func(i uint64) *big.Int {
		return new(big.Int).Add(start, new(big.Int).SetUint64(i))
	}

	if c.cfg.ChainId != PolygonChainId {
		elems := make([]rpc.BatchElem, count)
		for i := uint64(0); i < count; i++ {
			elems[i] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []interface{}{toBlockNumArg(height(i)), false},
				Result: &raws[i],
			}
		}
		if err := c.batchCall(ctx, elems); err != nil {
			return nil, err
		}
		for i, elem := range elems {
			if elem.Error != nil {
				return nil, fmt.Errorf("unable to query block %s: %w", height(uint64(i)), elem.Error)
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i := uint64(0); i < count; i += polygonGroupSize {
			first, last := i, min(i+polygonGroupSize, count)
			g.Go(func() error {
				for j := first; j < last; j++ {
					raw, err := c.call(gctx, "eth_getBlockByNumber", toBlockNumArg(height(j)), false)
					if err != nil {
						return fmt.Errorf("unable to query block %s: %w", height(j), err)
					}
					raws[j] = raw
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	headers := make([]RemoteHeader, 0, count)
	for i, raw := range raws {
		if isNull(raw) {
			return nil, fmt.Errorf("block %s: %w", height(uint64(i)), ethereum.NotFound)
		}
		h, err := ParseHeaderJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", height(uint64(i)), err)
		}
		headers = append(headers, *h)
	}
	return headers, nil
}

func (c *clnt) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if query.BlockHash != nil || query.FromBlock == nil || query.ToBlock == nil {
		return c.filterLogs(ctx, query)
	}
	if query.FromBlock.Cmp(query.ToBlock) > 0 {
		return nil, fmt.Errorf("invalid range: start %s > end %s", query.FromBlock, query.ToBlock)
	}

	logs := make([]types.Log, 0)
	for _, r := range splitBlockRanges(query.FromBlock, query.ToBlock, c.cfg.LogRange) {
		q := query
		q.FromBlock, q.ToBlock = r.from, r.to
		part, err := c.filterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("unable to query logs in [%s, %s]: %w", r.from, r.to, err)
		}
		logs = append(logs, part...)
	}
	return logs, nil
}

func (c *clnt) filterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	arg, err := toFilterArg(query)
	if err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "eth_getLogs", arg)
	if err != nil {
		return nil, err
	}
	var logs []types.Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("unable to decode logs: %w", err)
	}
	return logs, nil
}

type blockRange struct {
	from, to *big.Int
}

// splitBlockRanges 把 [from, to] 切成长度不超过 size 的连续区间
func splitBlockRanges(from, to *big.Int, size uint64) []blockRange {
	var ranges []blockRange
	for start := from; start.Cmp(to) <= 0; {
		end := bigint.Clamp(start, to, size)
		ranges = append(ranges, blockRange{from: start, to: end})
		start = new(big.Int).Add(end, bigint.One)
	}
	return ranges
}

func (c *clnt) Close() {
	for _, r := range c.rpcs {
		r.Close()
	}
}

// ParseHeaderJSON 解析 eth_getBlockByNumber 返回的区块对象。
// 字段交给 go-ethereum 的 JSON 解码，哈希字段单独读取，不参与本地计算。
func ParseHeaderJSON(raw []byte) (*RemoteHeader, error) {
	if isNull(raw) {
		return nil, ethereum.NotFound
	}
	var eth types.Header
	if err := json.Unmarshal(raw, &eth); err != nil {
		return nil, fmt.Errorf("unable to decode header: %w", err)
	}
	var claimed struct {
		Hash common.Hash `json:"hash"`
	}
	if err := json.Unmarshal(raw, &claimed); err != nil {
		return nil, fmt.Errorf("unable to decode header hash: %w", err)
	}

	fields, err := header.FromEthHeader(&eth)
	if err != nil {
		return nil, err
	}
	return &RemoteHeader{Fields: fields, Hash: claimed.Hash}, nil
}

func isNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

type RPC interface {
	// 关闭连接
	Close()
	// 发起一次 RPC 调用
	CallContext(ctx context.Context, result any, method string, args ...any) error
	// 一次性批量发起多个 RPC 请求
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

type rpcClient struct {
	rpc *rpc.Client
}

func NewRPC(client *rpc.Client) RPC {
	return &rpcClient{client}
}

func (c *rpcClient) Close() {
	c.rpc.Close()
}

func (c *rpcClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}

func (c *rpcClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	return c.rpc.BatchCallContext(ctx, b)
}

// 将区块号转换为 RPC 参数格式
func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	if number.Sign() >= 0 {
		return hexutil.EncodeBig(number)
	}
	return rpc.BlockNumber(number.Int64()).String()
}

// 将过滤条件转换为 eth_getLogs 的参数，blockHash 与 fromBlock/toBlock 不能同时指定
func toFilterArg(q ethereum.FilterQuery) (interface{}, error) {
	arg := map[string]interface{}{"address": q.Addresses, "topics": q.Topics}
	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
		if q.FromBlock != nil || q.ToBlock != nil {
			return nil, errors.New("cannot specify both BlockHash and From/ToBlock")
		}
	} else {
		if q.FromBlock == nil {
			arg["fromBlock"] = "0x0"
		} else {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock)
		}
		arg["toBlock"] = toBlockNumArg(q.ToBlock)
	}
	return arg, nil
}

func IsURLAvailable(address string) bool {
	u, err := url.Parse(address)
	if err != nil {
		return false
	}

	addr := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "http", "ws":
			addr += ":80"
		case "https", "wss":
			addr += ":443"
		default:
			return true
		}
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return false
	}
	return conn.Close() == nil
}
