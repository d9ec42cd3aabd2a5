package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const evnVarPrefix = "HEADER_HASHER"

func prefixEnvVars(name string) []string {
	return []string{evnVarPrefix + "_" + name}
}

var (
	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Value:   "./migrations",
		Usage:   "path for database migrations",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
	}
	// Chain
	ChainIdFlag = &cli.UintFlag{
		Name:    "chain-id",
		Usage:   "chain id of the rpc endpoints, 137 switches range queries to per-block calls",
		Value:   1,
		EnvVars: prefixEnvVars("CHAIN_ID"),
	}
	ChainRpcFlag = &cli.StringSliceFlag{
		Name:    "rpc-url",
		Usage:   "json-rpc endpoint, repeat to rotate between several nodes",
		Value:   cli.NewStringSlice("http://127.0.0.1:8545"),
		EnvVars: prefixEnvVars("RPC_URL"),
	}
	RpcAttemptsFlag = &cli.IntFlag{
		Name:    "rpc-attempts",
		Usage:   "attempts per rpc call before giving up, each failure switches to the next endpoint",
		Value:   5,
		EnvVars: prefixEnvVars("RPC_ATTEMPTS"),
	}
	StartingHeightFlag = &cli.Uint64Flag{
		Name:    "starting-height",
		Usage:   "first block to index when the database is empty",
		EnvVars: prefixEnvVars("STARTING_HEIGHT"),
	}
	ConfirmationsFlag = &cli.Uint64Flag{
		Name:    "confirmations",
		Usage:   "number of confirmations before a block is indexed",
		Value:   64,
		EnvVars: prefixEnvVars("CONFIRMATIONS"),
	}
	BlocksStepFlag = &cli.Uint64Flag{
		Name:    "blocks-step",
		Usage:   "maximum number of blocks per batch",
		Value:   500,
		EnvVars: prefixEnvVars("BLOCKS_STEP"),
	}
	MainIntervalFlag = &cli.DurationFlag{
		Name:    "main-loop-interval",
		Usage:   "interval of the synchronizer loop",
		Value:   time.Second * 5,
		EnvVars: prefixEnvVars("MAIN_LOOP_INTERVAL"),
	}
	AllowMismatchFlag = &cli.BoolFlag{
		Name:    "allow-mismatch",
		Usage:   "keep indexing when a recomputed hash differs from the node's",
		EnvVars: prefixEnvVars("ALLOW_MISMATCH"),
	}
	RpcRetryIntervalFlag = &cli.DurationFlag{
		Name:    "rpc-retry-interval",
		Usage:   "fixed wait between rpc attempts, zero uses exponential backoff",
		EnvVars: prefixEnvVars("RPC_RETRY_INTERVAL"),
	}
	LogRangeFlag = &cli.Uint64Flag{
		Name:    "log-range",
		Usage:   "maximum number of blocks per eth_getLogs request",
		Value:   800,
		EnvVars: prefixEnvVars("LOG_RANGE"),
	}
	// Events
	OracleAddressFlag = &cli.StringFlag{
		Name:    "oracle-address",
		Usage:   "header oracle contract to index events from, empty disables event indexing",
		EnvVars: prefixEnvVars("ORACLE_ADDRESS"),
	}
	EventStartingHeightFlag = &cli.Uint64Flag{
		Name:    "event-starting-height",
		Usage:   "first block to scan for oracle events when no progress is stored",
		EnvVars: prefixEnvVars("EVENT_STARTING_HEIGHT"),
	}
	CacheDirFlag = &cli.StringFlag{
		Name:    "cache-dir",
		Usage:   "leveldb directory caching encoded headers, empty disables the cache",
		EnvVars: prefixEnvVars("CACHE_DIR"),
	}

	// MasterDb
	MasterDbHostFlag = &cli.StringFlag{
		Name:    "master-db-host",
		Usage:   "The host of the master database",
		Value:   "127.0.0.1",
		EnvVars: prefixEnvVars("MASTER_DB_HOST"),
	}
	MasterDbPortFlag = &cli.IntFlag{
		Name:    "master-db-port",
		Usage:   "The port of the master database",
		Value:   5432,
		EnvVars: prefixEnvVars("MASTER_DB_PORT"),
	}
	MasterDbUserFlag = &cli.StringFlag{
		Name:    "master-db-user",
		Usage:   "The user of the master database",
		Value:   "postgres",
		EnvVars: prefixEnvVars("MASTER_DB_USER"),
	}
	MasterDbPasswordFlag = &cli.StringFlag{
		Name:    "master-db-password",
		Usage:   "The password of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PASSWORD"),
	}
	MasterDbNameFlag = &cli.StringFlag{
		Name:    "master-db-name",
		Usage:   "The db name of the master database",
		Value:   "header_hasher",
		EnvVars: prefixEnvVars("MASTER_DB_NAME"),
	}
)

// RPCFlags 是只访问节点的命令（hash）需要的参数
var RPCFlags = []cli.Flag{
	ChainIdFlag,
	ChainRpcFlag,
	RpcAttemptsFlag,
	RpcRetryIntervalFlag,
	CacheDirFlag,
}

var dbFlags = []cli.Flag{
	MigrationsFlag,
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
}

var indexFlags = []cli.Flag{
	StartingHeightFlag,
	ConfirmationsFlag,
	BlocksStepFlag,
	MainIntervalFlag,
	AllowMismatchFlag,
	LogRangeFlag,
	OracleAddressFlag,
	EventStartingHeightFlag,
}

// Flags 包含所有参数，index 和 migrate 命令使用
var Flags []cli.Flag

func init() {
	Flags = append(Flags, RPCFlags...)
	Flags = append(Flags, indexFlags...)
	Flags = append(Flags, dbFlags...)
}
