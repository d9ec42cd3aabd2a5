package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	headerhasher "github.com/WJX2001/header-hasher"
	"github.com/WJX2001/header-hasher/common/bigint"
	"github.com/WJX2001/header-hasher/common/cliapp"
	"github.com/WJX2001/header-hasher/common/opio"
	"github.com/WJX2001/header-hasher/config"
	"github.com/WJX2001/header-hasher/database"
	flag2 "github.com/WJX2001/header-hasher/flags"
	"github.com/WJX2001/header-hasher/header"
	"github.com/WJX2001/header-hasher/synchronizer/cache"
	"github.com/WJX2001/header-hasher/synchronizer/fixture"
	"github.com/WJX2001/header-hasher/synchronizer/node"
)

var (
	FixtureFlag = &cli.StringFlag{
		Name:  "fixture",
		Usage: "read the block from a saved eth_getBlockByNumber response (file or directory) instead of a node",
	}
	VerifyFlag = &cli.BoolFlag{
		Name:  "verify",
		Usage: "compare the computed hash with the hash reported by the source and fail on mismatch",
	}
)

// claimSource 返回区块字段以及来源声称的哈希
type claimSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*node.RemoteHeader, error)
}

func runIndex(ctx *cli.Context, shutdown context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	log.Info("run header hasher")
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return nil, err
	}
	return headerhasher.NewHeaderHasher(ctx.Context, &cfg, shutdown)
}

func runMigrations(ctx *cli.Context) error {
	log.Info("Running migrations...")
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}

	ctx.Context = opio.CancelOnInterrupt(ctx.Context)
	db, err := database.NewDB(ctx.Context, cfg.MasterDB)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer func(db *database.DB) {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "err", err)
		}
	}(db)
	return db.ExecuteSQLMigration(cfg.Migrations)
}

// parseBlockNumber 解析区块号参数，空或 latest 表示最新区块
func parseBlockNumber(arg string) (*big.Int, error) {
	if arg == "" || arg == "latest" {
		return nil, nil
	}
	number := bigint.StringToBigInt(arg)
	if number == nil || number.Sign() < 0 || !number.IsUint64() {
		return nil, fmt.Errorf("invalid block number %q", arg)
	}
	return number, nil
}

// openSource 根据参数选择数据来源：--fixture 指定的文件，否则是 RPC 节点
func openSource(ctx *cli.Context, cfg config.Config) (claimSource, header.BlockSource, func(), error) {
	if path := ctx.String(FixtureFlag.Name); path != "" {
		src, err := fixture.New(path)
		if err != nil {
			return nil, nil, nil, err
		}
		return src, src, func() {}, nil
	}

	client, err := node.DialEthClient(ctx.Context, cfg.Chain.RpcUrls, headerhasher.ClientConfig(cfg.Chain))
	if err != nil {
		return nil, nil, nil, err
	}
	return client, client, client.Close, nil
}

func runHash(ctx *cli.Context) error {
	number, err := parseBlockNumber(ctx.Args().First())
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}

	ctx.Context = opio.CancelOnInterrupt(ctx.Context)
	claims, src, closeSrc, err := openSource(ctx, cfg)
	if err != nil {
		log.Error("failed to open block source", "err", err)
		return err
	}
	defer closeSrc()

	if cfg.CacheDir != "" {
		cached, err := cache.Open(cfg.CacheDir, uint64(cfg.Chain.ChainId), src)
		if err != nil {
			log.Error("failed to open header cache", "dir", cfg.CacheDir, "err", err)
			return err
		}
		defer func() {
			hits, misses := cached.Stats()
			log.Debug("header cache", "hits", hits, "misses", misses)
			if err := cached.Close(); err != nil {
				log.Error("failed to close header cache", "err", err)
			}
		}()
		src = cached
	}

	res, err := header.HashBlock(ctx.Context, src, number)
	if err != nil {
		return fmt.Errorf("unable to hash block: %w", err)
	}
	log.Info("computed block hash", "number", res.Header.Number(), "fork", res.Header.Fork(), "fields", res.Header.NumFields())

	out := ctx.App.Writer
	fmt.Fprintf(out, "FAKE_BLOCK_HASH=%s\n", res.Hash.Hex())
	fmt.Fprintf(out, "BLOCK_HEADER_HEX=%s\n", common.Bytes2Hex(res.Encoded))

	if !ctx.Bool(VerifyFlag.Name) {
		return nil
	}
	remote, err := claims.HeaderByNumber(ctx.Context, new(big.Int).SetUint64(res.Header.Number()))
	if err != nil {
		return fmt.Errorf("unable to fetch reported hash: %w", err)
	}
	if remote.Hash != res.Hash {
		log.Warn("computed hash differs from source", "number", res.Header.Number(), "computed", res.Hash, "reported", remote.Hash)
		return fmt.Errorf("block %d: computed %s, source reports %s", res.Header.Number(), res.Hash, remote.Hash)
	}
	log.Info("computed hash matches source", "number", res.Header.Number())
	return nil
}

func runDecode(ctx *cli.Context) error {
	arg := strings.TrimSpace(ctx.Args().First())
	if arg == "" {
		return errors.New("missing encoded header")
	}
	if !strings.HasPrefix(arg, "0x") {
		arg = "0x" + arg
	}
	enc, err := hexutil.Decode(arg)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	h, err := header.Decode(enc)
	if err != nil {
		return err
	}
	out := ctx.App.Writer
	fmt.Fprintf(out, "NUMBER=%d\n", h.Number())
	fmt.Fprintf(out, "FORK=%s\n", h.Fork())
	fmt.Fprintf(out, "NUM_FIELDS=%d\n", h.NumFields())
	fmt.Fprintf(out, "FAKE_BLOCK_HASH=%s\n", h.Hash().Hex())
	return nil
}

func NewCli(GitCommit string, GitDate string) *cli.App {
	flags := flag2.Flags
	version := "v0.0.1"
	if GitCommit != "" {
		version += "-" + GitCommit
	}
	return &cli.App{
		Version:              version,
		Description:          "Recomputes Ethereum block hashes from header fields and indexes them",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "hash",
				ArgsUsage:   "[block number|latest]",
				Flags:       append([]cli.Flag{FixtureFlag, VerifyFlag}, flag2.RPCFlags...),
				Description: "Fetches one block header, prints its hash and RLP encoding",
				Action:      runHash,
			},
			{
				Name:        "decode",
				ArgsUsage:   "<header rlp hex>",
				Description: "Decodes an RLP encoded header and prints its hash",
				Action:      runDecode,
			},
			{
				Name:        "index",
				Flags:       flags,
				Description: "Runs the indexing service",
				Action:      cliapp.LifecycleCmd(runIndex),
			},
			{
				Name:        "migrate",
				Flags:       flags,
				Description: "Runs the database migrations",
				Action:      runMigrations,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}
