package database

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/WJX2001/header-hasher/config"
	"github.com/WJX2001/header-hasher/database/common"
	"github.com/WJX2001/header-hasher/database/event"
	_ "github.com/WJX2001/header-hasher/database/utils/serializers"
	"github.com/WJX2001/header-hasher/synchronizer/retry"
)

// DB 封装 GORM 连接
type DB struct {
	gorm           *gorm.DB
	Blocks         common.BlocksDB        // 重新计算过哈希的区块头
	HeaderRequests event.HeaderRequestsDB // 预言机合约的请求和扫描进度
}

// DSN 按配置拼出 postgres 连接串，未配置的项不写
func DSN(dbConfig config.DBConfig) string {
	dsn := fmt.Sprintf("host=%s dbname=%s sslmode=disable", dbConfig.Host, dbConfig.Name)
	if dbConfig.Port != 0 {
		dsn += fmt.Sprintf(" port=%d", dbConfig.Port)
	}
	if dbConfig.User != "" {
		dsn += fmt.Sprintf(" user=%s", dbConfig.User)
	}
	if dbConfig.Password != "" {
		dsn += fmt.Sprintf(" password=%s", dbConfig.Password)
	}
	return dsn
}

func NewDB(ctx context.Context, dbConfig config.DBConfig) (*DB, error) {
	gormConfig := gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        3_000,
	}

	retryStrategy := &retry.Backoff{Initial: time.Second, Max: 20 * time.Second, Jitter: 250 * time.Millisecond}
	gormDB, err := retry.Do(ctx, 10, retryStrategy, func() (*gorm.DB, error) {
		gormDB, err := gorm.Open(postgres.Open(DSN(dbConfig)), &gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return gormDB, nil
	})
	if err != nil {
		return nil, err
	}

	return New(gormDB), nil
}

// New 用已有的连接构造 DB
func New(gormDB *gorm.DB) *DB {
	return &DB{
		gorm:           gormDB,
		Blocks:         common.NewBlocksDB(gormDB),
		HeaderRequests: event.NewHeaderRequestsDB(gormDB),
	}
}

// Transaction 让 fn 在同一个事务中执行，返回错误时回滚
func (db *DB) Transaction(fn func(db *DB) error) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

func (db *DB) Close() error {
	sql, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sql.Close()
}

// ExecuteSQLMigration 递归扫描目录中的 .sql 文件，按文件名顺序执行
func (db *DB) ExecuteSQLMigration(migrationsFolder string) error {
	var files []string
	err := filepath.Walk(migrationsFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Failed to process migration file: %s", path))
		}
		if !info.IsDir() && filepath.Ext(path) == ".sql" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, path := range files {
		fileContent, readErr := os.ReadFile(path)
		if readErr != nil {
			return errors.Wrap(readErr, fmt.Sprintf("Error reading SQL file: %s", path))
		}
		if execErr := db.gorm.Exec(string(fileContent)).Error; execErr != nil {
			return errors.Wrap(execErr, fmt.Sprintf("Error executing SQL script: %s", path))
		}
		log.Info("applied migration", "file", path)
	}
	return nil
}

// LatestBlockHeader 返回已索引的最高区块，没有记录时返回 nil
func (db *DB) LatestBlockHeader() (*common.BlockHeader, error) {
	return db.Blocks.LatestBlockHeader()
}

// StoreBlockHeaders 在一个事务中写入一批区块头
func (db *DB) StoreBlockHeaders(headers []common.BlockHeader) error {
	return db.Transaction(func(tx *DB) error {
		return tx.Blocks.StoreBlockHeaders(headers)
	})
}

func (db *DB) EventProgress(chainId uint64, contract gethcommon.Address) (*event.EventProgress, error) {
	return db.HeaderRequests.EventProgress(chainId, contract)
}

func (db *DB) HeaderRequestsByBlock(chainId uint64, number *big.Int) ([]event.HeaderRequest, error) {
	return db.HeaderRequests.HeaderRequestsByBlock(chainId, number)
}

// StoreEventBatch 覆盖本轮涉及的区块的请求行并推进扫描进度，全部在一个事务里
func (db *DB) StoreEventBatch(progress event.EventProgress, blocks []event.BlockRequests) error {
	return db.Transaction(func(tx *DB) error {
		for _, block := range blocks {
			if err := tx.HeaderRequests.ReplaceBlockRequests(block, progress.ChainId); err != nil {
				return fmt.Errorf("unable to store requests for block %s: %w", block.BlockNumber, err)
			}
		}
		return tx.HeaderRequests.StoreEventProgress(progress)
	})
}
