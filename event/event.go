package event

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/WJX2001/header-hasher/common/bigint"
	"github.com/WJX2001/header-hasher/common/tasks"
	eventdb "github.com/WJX2001/header-hasher/database/event"
	"github.com/WJX2001/header-hasher/synchronizer/node"
)

/*
	事件处理器：扫描区块头预言机合约的日志
		1. 取已确认的区块范围，eth_getLogs 按段查询（由 node 客户端拆分）
		2. 解码四种事件，按被请求的区块号合并到已有的记录上
		3. 合并结果和扫描进度在一个事务里写入数据库
*/

const defaultEventsStep = 10_000

type LogClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*node.RemoteHeader, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Store 保存合并后的请求，database.DB 实现了它
type Store interface {
	EventProgress(chainId uint64, contract common.Address) (*eventdb.EventProgress, error)
	HeaderRequestsByBlock(chainId uint64, number *big.Int) ([]eventdb.HeaderRequest, error)
	StoreEventBatch(progress eventdb.EventProgress, blocks []eventdb.BlockRequests) error
}

type EventsHandlerConfig struct {
	ChainId       uint64
	OracleAddress common.Address // 预言机合约地址
	StartHeight   *big.Int       // 没有扫描进度时的起始区块
	Confirmations uint64
	BlocksStep    uint64 // 每轮最多扫描的区块数
	LoopInterval  time.Duration
}

type EventsHandler struct {
	cfg     EventsHandlerConfig
	client  LogClient
	store   Store
	decoder *Decoder

	nextBlock *big.Int // 下一个要扫描的区块

	resourceCtx    context.Context
	resourceCancel context.CancelFunc
	tasks          tasks.Group
}

func NewEventsHandler(cfg EventsHandlerConfig, store Store, client LogClient, shutdown context.CancelCauseFunc) (*EventsHandler, error) {
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}

	progress, err := store.EventProgress(cfg.ChainId, cfg.OracleAddress)
	if err != nil {
		return nil, fmt.Errorf("unable to query event progress: %w", err)
	}
	nextBlock := new(big.Int)
	switch {
	case progress != nil && progress.NextBlock != nil:
		nextBlock.Set(progress.NextBlock)
		log.Info("events resume from stored progress", "chain", cfg.ChainId, "next", nextBlock)
	case cfg.StartHeight != nil:
		nextBlock.Set(cfg.StartHeight)
	}

	if cfg.BlocksStep == 0 {
		cfg.BlocksStep = defaultEventsStep
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 5 * time.Second
	}

	resCtx, resCancel := context.WithCancel(context.Background())
	return &EventsHandler{
		cfg:            cfg,
		client:         client,
		store:          store,
		decoder:        decoder,
		nextBlock:      nextBlock,
		resourceCtx:    resCtx,
		resourceCancel: resCancel,
		tasks: tasks.Group{HandleCrit: func(err error) {
			shutdown(fmt.Errorf("critical error in events handler: %w", err))
		}},
	}, nil
}

func (eh *EventsHandler) Start() error {
	log.Info("starting events handler...", "oracle", eh.cfg.OracleAddress, "from", eh.nextBlock)
	ticker := time.NewTicker(eh.cfg.LoopInterval)
	eh.tasks.Go(func() error {
		defer ticker.Stop()
		for {
			select {
			case <-eh.resourceCtx.Done():
				log.Info("stopping events handler")
				return nil
			case <-ticker.C:
			}
			if _, err := eh.ProcessEvents(eh.resourceCtx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error("process events fail", "err", err)
			}
		}
	})
	return nil
}

func (eh *EventsHandler) Close() error {
	eh.resourceCancel()
	return eh.tasks.Wait()
}

// NextBlock 返回下一个要扫描的区块
func (eh *EventsHandler) NextBlock() *big.Int {
	return new(big.Int).Set(eh.nextBlock)
}

// ProcessEvents 扫描下一段已确认的区块，返回本轮处理的事件数。失败时进度不变，下一轮重扫同一段
func (eh *EventsHandler) ProcessEvents(ctx context.Context) (int, error) {
	latest, err := eh.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("unable to query latest block: %w", err)
	}
	end := new(big.Int).Sub(new(big.Int).SetUint64(latest.Number), new(big.Int).SetUint64(eh.cfg.Confirmations))
	if end.Cmp(eh.nextBlock) < 0 {
		log.Debug("no confirmed blocks for events", "next", eh.nextBlock, "latest", latest.Number)
		return 0, nil
	}
	from := eh.nextBlock
	to := bigint.Clamp(from, end, eh.cfg.BlocksStep)

	logs, err := eh.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{eh.cfg.OracleAddress},
		Topics:    eh.decoder.Topics(),
	})
	if err != nil {
		return 0, err
	}

	blocks, count, err := eh.merge(logs, time.Now())
	if err != nil {
		return 0, err
	}

	next := new(big.Int).Add(to, bigint.One)
	progress := eventdb.EventProgress{
		ChainId:   eh.cfg.ChainId,
		Contract:  eh.cfg.OracleAddress,
		NextBlock: next,
		UpdatedAt: time.Now(),
	}
	if err := eh.store.StoreEventBatch(progress, blocks); err != nil {
		return 0, fmt.Errorf("unable to store events: %w", err)
	}

	eh.nextBlock = next
	log.Info("processed oracle events", "from", from, "to", to, "events", count, "blocks", len(blocks))
	return count, nil
}

// merge 把日志按被请求的区块分组，合并到数据库里已有的行上
func (eh *EventsHandler) merge(logs []types.Log, now time.Time) ([]eventdb.BlockRequests, int, error) {
	var blocks []eventdb.BlockRequests
	byNumber := make(map[string]int)
	count := 0

	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := eh.decoder.Decode(lg)
		if errors.Is(err, ErrUnknownEvent) {
			log.Warn("skipping unknown log", "tx", lg.TxHash, "index", lg.Index)
			continue
		} else if err != nil {
			return nil, 0, err
		}

		key := ev.BlockNumber.String()
		i, ok := byNumber[key]
		if !ok {
			existing, err := eh.store.HeaderRequestsByBlock(eh.cfg.ChainId, ev.BlockNumber)
			if err != nil {
				return nil, 0, fmt.Errorf("unable to load requests for block %s: %w", ev.BlockNumber, err)
			}
			blocks = append(blocks, eventdb.BlockRequests{BlockNumber: ev.BlockNumber, Entries: existing})
			i = len(blocks) - 1
			byNumber[key] = i
		}
		blocks[i].Entries = Apply(blocks[i].Entries, eh.cfg.ChainId, ev, now)
		count++
	}
	return blocks, count, nil
}
