package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/WJX2001/header-hasher/common/bigint"
	"github.com/WJX2001/header-hasher/header"
)

// 区块头遍历器

var (
	ErrHeaderTraversalAheadOfProvider            = errors.New("the HeaderTraversal's internal state is ahead of the provider")
	ErrHeaderTraversalAndProviderMismatchedState = errors.New("the HeaderTraversal and provider have diverged in state")
)

// TraversedHeader 是校验过的区块头，Hash 是本地计算的结果，Claimed 是节点返回的哈希
type TraversedHeader struct {
	Header  *header.Header
	Hash    common.Hash
	Claimed common.Hash
}

func (t *TraversedHeader) Number() *big.Int {
	return new(big.Int).SetUint64(t.Header.Number())
}

// Matches 报告节点返回的哈希是否与本地计算一致
func (t *TraversedHeader) Matches() bool {
	return t.Hash == t.Claimed
}

type HeaderTraversal struct {
	ethClient EthClient

	latestHeader        *RemoteHeader    // 最近一次从链上获取的最新区块头
	lastTraversedHeader *TraversedHeader // 上次遍历到的区块头

	blockConfirmationDepth *big.Int // 区块确认深度，只处理已经确认的区块
}

// NewHeaderTraversal 从 fromHeader 之后开始遍历，fromHeader 为 nil 时从创世区块开始
func NewHeaderTraversal(ethClient EthClient, fromHeader *header.Header, confDepth *big.Int) *HeaderTraversal {
	var last *TraversedHeader
	if fromHeader != nil {
		hash := fromHeader.Hash()
		last = &TraversedHeader{Header: fromHeader, Hash: hash, Claimed: hash}
	}
	return &HeaderTraversal{
		ethClient:              ethClient,
		lastTraversedHeader:    last,
		blockConfirmationDepth: confDepth,
	}
}

func (f *HeaderTraversal) LatestHeader() *RemoteHeader {
	return f.latestHeader
}

func (f *HeaderTraversal) LastTraversedHeader() *TraversedHeader {
	return f.lastTraversedHeader
}

// NextHeaders 从上次遍历的区块头继续，获取下一批已确认的区块头并在本地重新计算哈希。
// 父哈希用本地计算的哈希校验，不信任节点返回的 hash 字段。
func (f *HeaderTraversal) NextHeaders(ctx context.Context, maxSize uint64) ([]TraversedHeader, error) {
	latestHeader, err := f.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to query latest block: %w", err)
	}
	f.latestHeader = latestHeader

	endHeight := new(big.Int).Sub(new(big.Int).SetUint64(latestHeader.Number), f.blockConfirmationDepth)
	if endHeight.Sign() < 0 {
		return nil, nil
	}

	nextHeight := bigint.Zero
	if f.lastTraversedHeader != nil {
		last := f.lastTraversedHeader.Number()
		cmp := last.Cmp(endHeight)
		if cmp == 0 {
			return nil, nil
		} else if cmp > 0 {
			return nil, ErrHeaderTraversalAheadOfProvider
		}
		nextHeight = new(big.Int).Add(last, bigint.One)
	}

	endHeight = bigint.Clamp(nextHeight, endHeight, maxSize)
	remotes, err := f.ethClient.HeadersByRange(ctx, nextHeight, endHeight)
	if err != nil {
		return nil, fmt.Errorf("error querying blocks by range: %w", err)
	}
	if len(remotes) == 0 {
		return nil, nil
	}

	headers := make([]TraversedHeader, len(remotes))
	for i := range remotes {
		h, err := remotes[i].Header()
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", remotes[i].Number, err)
		}
		headers[i] = TraversedHeader{Header: h, Hash: h.Hash(), Claimed: remotes[i].Hash}
	}

	// 校验链连续性：批次内部和上一批的最后一个区块
	prev := f.lastTraversedHeader
	for i := range headers {
		if prev != nil && headers[i].Header.Fields().ParentHash != prev.Hash {
			log.Error("header traversal diverged from provider",
				"last", prev.Header.Number(), "next", headers[i].Header.Number(), "batch", len(headers))
			return nil, ErrHeaderTraversalAndProviderMismatchedState
		}
		prev = &headers[i]
	}

	f.lastTraversedHeader = &headers[len(headers)-1]
	return headers, nil
}
