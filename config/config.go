package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/WJX2001/header-hasher/flags"
)

const (
	defaultConfirmations = 64
	defaultLoopInterval  = 5 * time.Second
	defaultBlockStep     = 500
	defaultRpcAttempts   = 5
)

type Config struct {
	Migrations string      // 数据库迁移文件路径
	CacheDir   string      // 区块头缓存目录，为空时不使用缓存
	Chain      ChainConfig // 区块链配置
	MasterDB   DBConfig    // 数据库配置
}

type ChainConfig struct {
	RpcUrls          []string      // 节点 RPC 地址，失败时按顺序轮换
	RpcAttempts      int           // 每次调用的最大尝试次数
	ChainId          uint          // 链ID
	StartingHeight   uint64        // 数据库为空时的起始区块高度
	Confirmations    uint64        // 确认数
	BlockStep        uint64        // 每批最多处理的区块数
	MainLoopInterval time.Duration // 主循环执行间隔
	AllowMismatch    bool          // 哈希不一致时是否继续
	RpcRetryInterval time.Duration // 大于 0 时 RPC 重试使用固定间隔
	LogRange         uint64        // eth_getLogs 单次请求的区块数上限
	OracleAddress    string        // 预言机合约地址，为空时不扫描事件
	EventStartHeight uint64        // 没有扫描进度时的事件起始区块
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// LoadConfig 从命令行参数和环境变量读取配置，补上默认值
func LoadConfig(cliCtx *cli.Context) (Config, error) {
	cfg := NewConfig(cliCtx)

	if cfg.Chain.Confirmations == 0 {
		cfg.Chain.Confirmations = defaultConfirmations
	}
	if cfg.Chain.MainLoopInterval == 0 {
		cfg.Chain.MainLoopInterval = defaultLoopInterval
	}
	if cfg.Chain.BlockStep == 0 {
		cfg.Chain.BlockStep = defaultBlockStep
	}
	if cfg.Chain.RpcAttempts < 1 {
		cfg.Chain.RpcAttempts = defaultRpcAttempts
	}

	if cfg.Chain.OracleAddress != "" && !common.IsHexAddress(cfg.Chain.OracleAddress) {
		return cfg, fmt.Errorf("invalid oracle address %q", cfg.Chain.OracleAddress)
	}

	log.Info("loaded chain config", "config", cfg.Chain)
	return cfg, nil
}

func NewConfig(ctx *cli.Context) Config {
	return Config{
		Migrations: ctx.String(flags.MigrationsFlag.Name),
		CacheDir:   ctx.String(flags.CacheDirFlag.Name),
		Chain: ChainConfig{
			RpcUrls:          ctx.StringSlice(flags.ChainRpcFlag.Name),
			RpcAttempts:      ctx.Int(flags.RpcAttemptsFlag.Name),
			ChainId:          ctx.Uint(flags.ChainIdFlag.Name),
			StartingHeight:   ctx.Uint64(flags.StartingHeightFlag.Name),
			Confirmations:    ctx.Uint64(flags.ConfirmationsFlag.Name),
			BlockStep:        ctx.Uint64(flags.BlocksStepFlag.Name),
			MainLoopInterval: ctx.Duration(flags.MainIntervalFlag.Name),
			AllowMismatch:    ctx.Bool(flags.AllowMismatchFlag.Name),
			RpcRetryInterval: ctx.Duration(flags.RpcRetryIntervalFlag.Name),
			LogRange:         ctx.Uint64(flags.LogRangeFlag.Name),
			OracleAddress:    ctx.String(flags.OracleAddressFlag.Name),
			EventStartHeight: ctx.Uint64(flags.EventStartingHeightFlag.Name),
		},
		MasterDB: DBConfig{
			Host:     ctx.String(flags.MasterDbHostFlag.Name),
			Port:     ctx.Int(flags.MasterDbPortFlag.Name),
			Name:     ctx.String(flags.MasterDbNameFlag.Name),
			User:     ctx.String(flags.MasterDbUserFlag.Name),
			Password: ctx.String(flags.MasterDbPasswordFlag.Name),
		},
	}
}
