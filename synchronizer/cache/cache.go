// Package cache 用 LevelDB 缓存重新编码后的区块头，避免重复请求节点。
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/WJX2001/header-hasher/header"
)

const headerPrefix = "header_"

// ErrNumberMismatch 表示 inner 返回的区块号与请求的不一致，这样的结果不会写入缓存
var ErrNumberMismatch = errors.New("source returned a different block number")

// Source 是 BlockSource 的装饰器：按链 ID 和区块号缓存共识编码。
// 最新区块（number 为 nil）会变化，直接转发给 inner。
type Source struct {
	db      *leveldb.DB
	chainId uint64
	inner   header.BlockSource

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Open 在 path 打开（或创建）缓存目录，同一个目录可以被多条链共用
func Open(path string, chainId uint64, inner header.BlockSource) (*Source, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open header cache: %w", err)
	}
	return &Source{db: db, chainId: chainId, inner: inner}, nil
}

// NewWithStorage 使用给定的存储，测试里传 storage.NewMemStorage()
func NewWithStorage(stor storage.Storage, chainId uint64, inner header.BlockSource) (*Source, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open header cache: %w", err)
	}
	return &Source{db: db, chainId: chainId, inner: inner}, nil
}

func (s *Source) Close() error {
	return s.db.Close()
}

func (s *Source) BlockFields(ctx context.Context, number *big.Int) (header.Fields, error) {
	if number == nil || !number.IsUint64() {
		return s.inner.BlockFields(ctx, number)
	}
	key := headerKey(s.chainId, number.Uint64())

	enc, err := s.db.Get(key, nil)
	switch {
	case err == nil:
		h, decErr := header.Decode(enc)
		if decErr == nil && h.Number() != number.Uint64() {
			decErr = fmt.Errorf("%w: cached %d", ErrNumberMismatch, h.Number())
		}
		if decErr == nil {
			s.hits.Add(1)
			return h.Fields(), nil
		}
		log.Warn("dropping unusable cached header", "chain", s.chainId, "number", number, "err", decErr)
		if err := s.db.Delete(key, nil); err != nil {
			return header.Fields{}, err
		}
	case !errors.Is(err, leveldb.ErrNotFound):
		return header.Fields{}, err
	}

	s.misses.Add(1)
	fields, err := s.inner.BlockFields(ctx, number)
	if err != nil {
		return header.Fields{}, err
	}
	if fields.Number != number.Uint64() {
		return header.Fields{}, fmt.Errorf("%w: requested %s, got %d", ErrNumberMismatch, number, fields.Number)
	}
	h, err := header.New(fields)
	if err != nil {
		return header.Fields{}, err
	}
	if err := s.db.Put(key, h.EncodeRLP(), nil); err != nil {
		return header.Fields{}, fmt.Errorf("failed to cache header %d: %w", h.Number(), err)
	}
	return fields, nil
}

// Stats 返回命中和未命中的次数
func (s *Source) Stats() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}

// headerKey 是 "header_" + 链 ID + 区块号，两者都是 8 字节大端序
func headerKey(chainId, number uint64) []byte {
	key := make([]byte, len(headerPrefix)+16)
	copy(key, headerPrefix)
	binary.BigEndian.PutUint64(key[len(headerPrefix):], chainId)
	binary.BigEndian.PutUint64(key[len(headerPrefix)+8:], number)
	return key
}
