package common

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/gorm"

	"github.com/WJX2001/header-hasher/header"
)

// BlockHeader 是 block_headers 表的一行：本地重新计算的哈希和节点声称的哈希都保存下来
type BlockHeader struct {
	GUID        uuid.UUID      `gorm:"primaryKey;DEFAULT replace(uuid_generate_v4()::text,'-','')"`
	Hash        common.Hash    `gorm:"serializer:bytes"`
	ParentHash  common.Hash    `gorm:"serializer:bytes"`
	ClaimedHash common.Hash    `gorm:"serializer:bytes"`
	Number      *big.Int       `gorm:"serializer:u256"`
	Timestamp   uint64
	Fork        string
	NumFields   int
	Difficulty  *uint256.Int   `gorm:"serializer:u256"`
	BaseFee     *uint256.Int   `gorm:"serializer:u256;column:base_fee_per_gas"`
	RLPHeader   *header.Header `gorm:"serializer:rlp;column:rlp_bytes"`
}

func (BlockHeader) TableName() string {
	return "block_headers"
}

// NewBlockHeader 从校验过的区块头构造一行，claimed 是节点返回的哈希
func NewBlockHeader(h *header.Header, claimed common.Hash) BlockHeader {
	f := h.Fields()
	return BlockHeader{
		Hash:        h.Hash(),
		ParentHash:  f.ParentHash,
		ClaimedHash: claimed,
		Number:      new(big.Int).SetUint64(f.Number),
		Timestamp:   f.Time,
		Fork:        h.Fork().String(),
		NumFields:   h.NumFields(),
		Difficulty:  &f.Difficulty,
		BaseFee:     f.BaseFee,
		RLPHeader:   h,
	}
}

type BlocksView interface {
	BlockHeader(common.Hash) (*BlockHeader, error)
	BlockHeaderByNumber(*big.Int) (*BlockHeader, error)
	BlockHeaderWithFilter(BlockHeader) (*BlockHeader, error)
	BlockHeaderWithScope(func(db *gorm.DB) *gorm.DB) (*BlockHeader, error)
	LatestBlockHeader() (*BlockHeader, error)
	MismatchedBlockHeaders(limit int) ([]BlockHeader, error)
}

type BlocksDB interface {
	BlocksView
	StoreBlockHeaders([]BlockHeader) error
}

type blocksDB struct {
	gorm *gorm.DB
}

func NewBlocksDB(db *gorm.DB) BlocksDB {
	return &blocksDB{gorm: db}
}

func (b *blocksDB) StoreBlockHeaders(headers []BlockHeader) error {
	if len(headers) == 0 {
		return nil
	}
	result := b.gorm.Table("block_headers").Omit("guid").CreateInBatches(&headers, len(headers))
	return result.Error
}

func (b *blocksDB) BlockHeader(hash common.Hash) (*BlockHeader, error) {
	return b.BlockHeaderWithFilter(BlockHeader{Hash: hash})
}

func (b *blocksDB) BlockHeaderByNumber(number *big.Int) (*BlockHeader, error) {
	return b.BlockHeaderWithFilter(BlockHeader{Number: number})
}

func (b *blocksDB) BlockHeaderWithFilter(filter BlockHeader) (*BlockHeader, error) {
	return b.BlockHeaderWithScope(func(gorm *gorm.DB) *gorm.DB { return gorm.Where(&filter) })
}

// BlockHeaderWithScope 查询一条记录，不存在时返回 nil, nil
func (b *blocksDB) BlockHeaderWithScope(scope func(db *gorm.DB) *gorm.DB) (*BlockHeader, error) {
	var blockHeader BlockHeader
	result := b.gorm.Table("block_headers").Scopes(scope).Take(&blockHeader)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &blockHeader, nil
}

func (b *blocksDB) LatestBlockHeader() (*BlockHeader, error) {
	return b.BlockHeaderWithScope(func(db *gorm.DB) *gorm.DB {
		return db.Order("number DESC")
	})
}

// MismatchedBlockHeaders 返回本地哈希与节点哈希不一致的记录，按区块号升序
func (b *blocksDB) MismatchedBlockHeaders(limit int) ([]BlockHeader, error) {
	var headers []BlockHeader
	result := b.gorm.Table("block_headers").Where("hash <> claimed_hash").Order("number ASC").Limit(limit).Find(&headers)
	if result.Error != nil {
		return nil, result.Error
	}
	return headers, nil
}
