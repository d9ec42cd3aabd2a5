package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/WJX2001/header-hasher/common/tasks"
	"github.com/WJX2001/header-hasher/database/common"
	"github.com/WJX2001/header-hasher/header"
	"github.com/WJX2001/header-hasher/synchronizer/node"
)

const (
	defaultLoopInterval     = 5 * time.Second
	defaultHeaderBufferSize = 500
)

// ErrHashMismatch 表示本地重新计算的哈希与节点返回的不一致
var ErrHashMismatch = errors.New("recomputed header hash does not match provider")

// Store 保存索引结果，database.DB 实现了它
type Store interface {
	LatestBlockHeader() (*common.BlockHeader, error)
	StoreBlockHeaders([]common.BlockHeader) error
}

type Config struct {
	LoopInterval     time.Duration // 同步循环间隔
	HeaderBufferSize uint64        // 每批最多处理的区块数
	Confirmations    uint64        // 确认深度
	StartHeight      *big.Int      // 数据库为空时从这个高度开始，nil 表示创世区块
	AllowMismatch    bool          // 为 true 时只记录哈希不一致，不停止
}

type Synchronizer struct {
	ethClient node.EthClient
	store     Store

	loopInterval     time.Duration
	headerBufferSize uint64
	allowMismatch    bool
	headerTraversal  *node.HeaderTraversal
	headers          []node.TraversedHeader // 上次写入失败的批次，下次重试

	resourceCtx    context.Context
	resourceCancel context.CancelFunc
	tasks          tasks.Group
}

// NewSynchronizer 从数据库里最新的区块（或 cfg.StartHeight）之后继续同步
func NewSynchronizer(ctx context.Context, cfg Config, store Store, client node.EthClient, shutdown context.CancelCauseFunc) (*Synchronizer, error) {
	latest, err := store.LatestBlockHeader()
	if err != nil {
		return nil, fmt.Errorf("unable to query latest indexed header: %w", err)
	}

	var fromHeader *header.Header
	switch {
	case latest != nil && latest.RLPHeader != nil:
		log.Info("sync detected last indexed block", "number", latest.Number, "hash", latest.Hash)
		fromHeader = latest.RLPHeader
	case cfg.StartHeight != nil && cfg.StartHeight.Sign() > 0:
		prev := new(big.Int).Sub(cfg.StartHeight, big.NewInt(1))
		remote, err := client.HeaderByNumber(ctx, prev)
		if err != nil {
			return nil, fmt.Errorf("unable to fetch header before starting height %s: %w", cfg.StartHeight, err)
		}
		if fromHeader, err = remote.Header(); err != nil {
			return nil, err
		}
		log.Info("no indexed state, starting from configured height", "height", cfg.StartHeight)
	default:
		log.Info("no indexed state, starting from genesis")
	}

	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = defaultLoopInterval
	}
	if cfg.HeaderBufferSize == 0 {
		cfg.HeaderBufferSize = defaultHeaderBufferSize
	}

	resCtx, resCancel := context.WithCancel(context.Background())
	return &Synchronizer{
		ethClient:        client,
		store:            store,
		loopInterval:     cfg.LoopInterval,
		headerBufferSize: cfg.HeaderBufferSize,
		allowMismatch:    cfg.AllowMismatch,
		headerTraversal:  node.NewHeaderTraversal(client, fromHeader, new(big.Int).SetUint64(cfg.Confirmations)),
		resourceCtx:      resCtx,
		resourceCancel:   resCancel,
		tasks: tasks.Group{HandleCrit: func(err error) {
			shutdown(fmt.Errorf("critical error in synchronizer: %w", err))
		}},
	}, nil
}

func (syncer *Synchronizer) Start() error {
	tickerSyncer := time.NewTicker(syncer.loopInterval)
	syncer.tasks.Go(func() error {
		defer tickerSyncer.Stop()
		for {
			select {
			case <-syncer.resourceCtx.Done():
				log.Info("stopping synchronizer")
				return nil
			case <-tickerSyncer.C:
			}

			err := syncer.tick(syncer.resourceCtx)
			switch {
			case err == nil:
			case errors.Is(err, ErrHashMismatch):
				syncer.tasks.HandleCrit(err)
				return err
			case errors.Is(err, context.Canceled):
				return nil
			default:
				log.Error("synchronizer tick failed", "err", err)
			}
		}
	})
	return nil
}

func (syncer *Synchronizer) Close() error {
	syncer.resourceCancel()
	if err := syncer.tasks.Wait(); err != nil && !errors.Is(err, ErrHashMismatch) {
		return err
	}
	return nil
}

// tick 取下一批已确认的区块头，校验后写入存储。上一批没有写入成功时先重试上一批
func (syncer *Synchronizer) tick(ctx context.Context) error {
	if len(syncer.headers) == 0 {
		headers, err := syncer.headerTraversal.NextHeaders(ctx, syncer.headerBufferSize)
		if err != nil {
			return err
		}
		if len(headers) == 0 {
			return nil
		}
		syncer.headers = headers
	} else {
		log.Info("retrying previous batch", "size", len(syncer.headers))
	}

	if err := syncer.processBatch(syncer.headers); err != nil {
		return err
	}
	syncer.headers = nil
	return nil
}

func (syncer *Synchronizer) processBatch(headers []node.TraversedHeader) error {
	first, last := headers[0].Header.Number(), headers[len(headers)-1].Header.Number()
	batchLog := log.New("batch_start_block_number", first, "batch_end_block_number", last)

	if err := VerifyHeaders(headers); err != nil {
		if !syncer.allowMismatch {
			batchLog.Error("header hash mismatch", "err", err)
			return err
		}
		batchLog.Warn("header hash mismatch, storing anyway", "err", err)
	}

	rows := make([]common.BlockHeader, len(headers))
	for i := range headers {
		rows[i] = common.NewBlockHeader(headers[i].Header, headers[i].Claimed)
	}
	if err := syncer.store.StoreBlockHeaders(rows); err != nil {
		batchLog.Error("unable to store block headers", "err", err)
		return err
	}
	batchLog.Info("indexed block headers", "size", len(rows))
	return nil
}

// VerifyHeaders 检查每个区块头本地计算的哈希是否与节点返回的一致，返回第一个不一致
func VerifyHeaders(headers []node.TraversedHeader) error {
	for i := range headers {
		if !headers[i].Matches() {
			return fmt.Errorf("%w: block %d computed %s, provider %s",
				ErrHashMismatch, headers[i].Header.Number(), headers[i].Hash, headers[i].Claimed)
		}
	}
	return nil
}
