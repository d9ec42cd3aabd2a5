package headerhasher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/WJX2001/header-hasher/config"
	"github.com/WJX2001/header-hasher/database"
	"github.com/WJX2001/header-hasher/event"
	"github.com/WJX2001/header-hasher/synchronizer"
	"github.com/WJX2001/header-hasher/synchronizer/node"
	"github.com/WJX2001/header-hasher/synchronizer/retry"
)

// HeaderHasher 是 index 命令的服务：从节点同步已确认的区块头，
// 在本地重新计算哈希，与节点返回的哈希比对后写入数据库。
// 配置了预言机合约时，同时扫描它的事件
type HeaderHasher struct {
	ethClient     node.EthClient
	db            *database.DB
	synchronizer  *synchronizer.Synchronizer
	eventsHandler *event.EventsHandler // 未配置合约时为 nil

	shutdown context.CancelCauseFunc
	stopped  atomic.Bool
}

func NewHeaderHasher(ctx context.Context, cfg *config.Config, shutdown context.CancelCauseFunc) (*HeaderHasher, error) {
	ethClient, err := node.DialEthClient(ctx, cfg.Chain.RpcUrls, ClientConfig(cfg.Chain))
	if err != nil {
		log.Error("new eth client fail", "err", err)
		return nil, err
	}

	db, err := database.NewDB(ctx, cfg.MasterDB)
	if err != nil {
		log.Error("new database fail", "err", err)
		ethClient.Close()
		return nil, err
	}

	syncer, err := synchronizer.NewSynchronizer(ctx, synchronizer.Config{
		LoopInterval:     cfg.Chain.MainLoopInterval,
		HeaderBufferSize: cfg.Chain.BlockStep,
		Confirmations:    cfg.Chain.Confirmations,
		StartHeight:      new(big.Int).SetUint64(cfg.Chain.StartingHeight),
		AllowMismatch:    cfg.Chain.AllowMismatch,
	}, db, ethClient, shutdown)
	if err != nil {
		log.Error("new synchronizer fail", "err", err)
		ethClient.Close()
		return nil, errors.Join(err, db.Close())
	}

	var eventsHandler *event.EventsHandler
	if cfg.Chain.OracleAddress != "" {
		eventsHandler, err = event.NewEventsHandler(event.EventsHandlerConfig{
			ChainId:       uint64(cfg.Chain.ChainId),
			OracleAddress: common.HexToAddress(cfg.Chain.OracleAddress),
			StartHeight:   new(big.Int).SetUint64(cfg.Chain.EventStartHeight),
			Confirmations: cfg.Chain.Confirmations,
			BlocksStep:    cfg.Chain.BlockStep,
			LoopInterval:  cfg.Chain.MainLoopInterval,
		}, db, ethClient, shutdown)
		if err != nil {
			log.Error("new events handler fail", "err", err)
			ethClient.Close()
			return nil, errors.Join(err, db.Close())
		}
	}

	return &HeaderHasher{
		ethClient:     ethClient,
		db:            db,
		synchronizer:  syncer,
		eventsHandler: eventsHandler,
		shutdown:      shutdown,
	}, nil
}

// ClientConfig 把链配置转换成 RPC 客户端配置
func ClientConfig(chain config.ChainConfig) node.ClientConfig {
	strategy := retry.Exponential()
	if chain.RpcRetryInterval > 0 {
		strategy = retry.Fixed(chain.RpcRetryInterval)
	}
	return node.ClientConfig{
		ChainId:  chain.ChainId,
		Attempts: chain.RpcAttempts,
		Strategy: strategy,
		LogRange: chain.LogRange,
	}
}

func (hh *HeaderHasher) Start(ctx context.Context) error {
	if err := hh.synchronizer.Start(); err != nil {
		return fmt.Errorf("failed to start synchronizer: %w", err)
	}
	if hh.eventsHandler != nil {
		if err := hh.eventsHandler.Start(); err != nil {
			return fmt.Errorf("failed to start events handler: %w", err)
		}
	}
	log.Info("header hasher started")
	return nil
}

func (hh *HeaderHasher) Stop(ctx context.Context) error {
	var result error
	if hh.eventsHandler != nil {
		if err := hh.eventsHandler.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close events handler: %w", err))
		}
	}
	if hh.synchronizer != nil {
		if err := hh.synchronizer.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close synchronizer: %w", err))
		}
	}
	if hh.ethClient != nil {
		hh.ethClient.Close()
	}
	if hh.db != nil {
		if err := hh.db.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close db: %w", err))
		}
	}
	hh.stopped.Store(true)
	log.Info("header hasher stopped")
	return result
}

func (hh *HeaderHasher) Stopped() bool {
	return hh.stopped.Load()
}
