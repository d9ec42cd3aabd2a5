package event

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
	预言机合约的四种事件按“被请求的区块号 + 请求序号”合并成 header_requests 表的一行：
		- Requested / Responded / Refunded 带 headerIndex，落到对应的行
		- Committed 只有区块号，作用于该区块的所有行；还没有其他行时单独占一行（header_index 为 NULL）
	event_progress 记录每条链、每个合约下一次要扫描的区块
*/

// LogRef 指向产生事件的那条日志
type LogRef struct {
	BlockNumber     uint64      `json:"blockNumber"`
	TransactionHash common.Hash `json:"transactionHash"`
	BlockHash       common.Hash `json:"blockHash"`
	LogIndex        uint        `json:"logIndex"`
}

type Request struct {
	ContractAddress common.Address `json:"contractAddress"`
	RewardAmount    *big.Int       `json:"rewardAmount"`
	LogRef
}

type Response struct {
	ContractAddress common.Address `json:"contractAddress"`
	Responder       common.Address `json:"responder"`
	LogRef
}

type HeaderRequest struct {
	GUID        uuid.UUID `gorm:"primaryKey"`
	ChainId     uint64
	BlockNumber *big.Int   `gorm:"serializer:u256"`
	HeaderIndex *big.Int   `gorm:"serializer:u256"` // 为 nil 时这一行只记录提交事件
	Request     *Request   `gorm:"serializer:json"`
	Responses   []Response `gorm:"serializer:json"`
	Commit      *LogRef    `gorm:"serializer:json"`
	Refund      *LogRef    `gorm:"serializer:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (HeaderRequest) TableName() string {
	return "header_requests"
}

// BlockRequests 是同一个被请求区块的全部行
type BlockRequests struct {
	BlockNumber *big.Int
	Entries     []HeaderRequest
}

type EventProgress struct {
	ChainId   uint64         `gorm:"primaryKey"`
	Contract  common.Address `gorm:"primaryKey;serializer:bytes"`
	NextBlock *big.Int       `gorm:"serializer:u256"`
	UpdatedAt time.Time
}

func (EventProgress) TableName() string {
	return "event_progress"
}

type HeaderRequestsView interface {
	HeaderRequestsByBlock(chainId uint64, number *big.Int) ([]HeaderRequest, error)
	EventProgress(chainId uint64, contract common.Address) (*EventProgress, error)
}

type HeaderRequestsDB interface {
	HeaderRequestsView
	ReplaceBlockRequests(BlockRequests, uint64) error
	StoreEventProgress(EventProgress) error
}

type headerRequestsDB struct {
	gorm *gorm.DB
}

func NewHeaderRequestsDB(db *gorm.DB) HeaderRequestsDB {
	return &headerRequestsDB{gorm: db}
}

func (db *headerRequestsDB) HeaderRequestsByBlock(chainId uint64, number *big.Int) ([]HeaderRequest, error) {
	var entries []HeaderRequest
	filter := HeaderRequest{ChainId: chainId, BlockNumber: number}
	result := db.gorm.Where(&filter).Order("created_at ASC").Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}

// ReplaceBlockRequests 用合并后的结果覆盖一个区块的全部行，需要在事务里调用
func (db *headerRequestsDB) ReplaceBlockRequests(block BlockRequests, chainId uint64) error {
	filter := HeaderRequest{ChainId: chainId, BlockNumber: block.BlockNumber}
	if err := db.gorm.Where(&filter).Delete(&HeaderRequest{}).Error; err != nil {
		return err
	}
	if len(block.Entries) == 0 {
		return nil
	}
	return db.gorm.CreateInBatches(&block.Entries, len(block.Entries)).Error
}

// EventProgress 没有记录时返回 nil, nil
func (db *headerRequestsDB) EventProgress(chainId uint64, contract common.Address) (*EventProgress, error) {
	var progress EventProgress
	result := db.gorm.Where(&EventProgress{ChainId: chainId, Contract: contract}).Take(&progress)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &progress, nil
}

func (db *headerRequestsDB) StoreEventProgress(progress EventProgress) error {
	return db.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}, {Name: "contract"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_block", "updated_at"}),
	}).Create(&progress).Error
}
