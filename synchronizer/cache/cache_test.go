package cache

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/WJX2001/header-hasher/header"
)

type countingSource struct {
	fields map[uint64]header.Fields
	calls  int
}

func (c *countingSource) BlockFields(_ context.Context, number *big.Int) (header.Fields, error) {
	c.calls++
	if number == nil {
		return c.fields[uint64(len(c.fields)-1)], nil
	}
	f, ok := c.fields[number.Uint64()]
	if !ok {
		return header.Fields{}, ethereum.NotFound
	}
	return f, nil
}

func testFields(number uint64) header.Fields {
	withdrawals := types.EmptyWithdrawalsHash
	blobGas, excess := uint64(0), uint64(0)
	beacon := common.HexToHash("0x01")
	return header.Fields{
		ParentHash:       common.BigToHash(new(big.Int).SetUint64(number)),
		UncleHash:        types.EmptyUncleHash,
		TxHash:           types.EmptyRootHash,
		ReceiptHash:      types.EmptyRootHash,
		Number:           number,
		GasLimit:         30_000_000,
		Time:             1_710_338_135 + number*12,
		Extra:            []byte("cached"),
		BaseFee:          uint256.NewInt(1_000_000_000),
		WithdrawalsHash:  &withdrawals,
		BlobGasUsed:      &blobGas,
		ExcessBlobGas:    &excess,
		ParentBeaconRoot: &beacon,
	}
}

const testChainId = 1

func newTestCache(t *testing.T, inner header.BlockSource) *Source {
	c, err := NewWithStorage(storage.NewMemStorage(), testChainId, inner)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheHitAndMiss(t *testing.T) {
	inner := &countingSource{fields: map[uint64]header.Fields{1: testFields(1), 2: testFields(2)}}
	c := newTestCache(t, inner)
	ctx := context.Background()

	want, err := header.ComputeHash(testFields(1))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := header.HashBlock(ctx, c, big.NewInt(1))
		require.NoError(t, err)
		require.Equal(t, want, res.Hash)
		require.Equal(t, header.Cancun, res.Header.Fork())
	}
	require.Equal(t, 1, inner.calls)
	hits, misses := c.Stats()
	require.Equal(t, uint64(2), hits)
	require.Equal(t, uint64(1), misses)
}

func TestCacheLatestBypassed(t *testing.T) {
	inner := &countingSource{fields: map[uint64]header.Fields{0: testFields(0), 1: testFields(1)}}
	c := newTestCache(t, inner)

	for i := 0; i < 2; i++ {
		f, err := c.BlockFields(context.Background(), nil)
		require.NoError(t, err)
		require.Equal(t, uint64(1), f.Number)
	}
	require.Equal(t, 2, inner.calls)
}

func TestCacheNotFound(t *testing.T) {
	inner := &countingSource{fields: map[uint64]header.Fields{}}
	c := newTestCache(t, inner)

	_, err := c.BlockFields(context.Background(), big.NewInt(9))
	require.ErrorIs(t, err, ethereum.NotFound)
	_, err = c.BlockFields(context.Background(), big.NewInt(9))
	require.ErrorIs(t, err, ethereum.NotFound)
	require.Equal(t, 2, inner.calls)
}

func TestCacheRejectsInvalidShape(t *testing.T) {
	bad := testFields(3)
	bad.WithdrawalsHash = nil
	inner := &countingSource{fields: map[uint64]header.Fields{3: bad}}
	c := newTestCache(t, inner)

	_, err := c.BlockFields(context.Background(), big.NewInt(3))
	require.ErrorIs(t, err, header.ErrInvalidHeaderShape)

	has, err := c.db.Has(headerKey(testChainId, 3), nil)
	require.NoError(t, err)
	require.False(t, has)
}

func TestCacheDropsCorruptEntry(t *testing.T) {
	inner := &countingSource{fields: map[uint64]header.Fields{4: testFields(4)}}
	c := newTestCache(t, inner)
	require.NoError(t, c.db.Put(headerKey(testChainId, 4), []byte{0xc1}, nil))

	f, err := c.BlockFields(context.Background(), big.NewInt(4))
	require.NoError(t, err)
	require.Equal(t, uint64(4), f.Number)
	require.Equal(t, 1, inner.calls)

	enc, err := c.db.Get(headerKey(testChainId, 4), nil)
	require.NoError(t, err)
	h, err := header.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, uint64(4), h.Number())
}

func TestHeaderKeyOrdering(t *testing.T) {
	require.Len(t, headerKey(1, 1), len(headerPrefix)+16)
	require.Less(t, string(headerKey(1, 255)), string(headerKey(1, 256)))
	require.NotEqual(t, headerKey(1, 7), headerKey(137, 7))
}

func TestCacheSeparatesChains(t *testing.T) {
	stor := storage.NewMemStorage()
	mainnet := &countingSource{fields: map[uint64]header.Fields{5: testFields(5)}}
	c, err := NewWithStorage(stor, 1, mainnet)
	require.NoError(t, err)
	_, err = c.BlockFields(context.Background(), big.NewInt(5))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	other := testFields(5)
	other.Extra = []byte("polygon")
	polygon := &countingSource{fields: map[uint64]header.Fields{5: other}}
	c, err = NewWithStorage(stor, 137, polygon)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	f, err := c.BlockFields(context.Background(), big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, []byte("polygon"), f.Extra)
	require.Equal(t, 1, polygon.calls)
}

func TestCacheRejectsWrongNumber(t *testing.T) {
	inner := &countingSource{fields: map[uint64]header.Fields{6: testFields(9)}}
	c := newTestCache(t, inner)

	_, err := c.BlockFields(context.Background(), big.NewInt(6))
	require.ErrorIs(t, err, ErrNumberMismatch)
	has, err := c.db.Has(headerKey(testChainId, 6), nil)
	require.NoError(t, err)
	require.False(t, has)

	// 缓存里的编码属于另一个区块时当作损坏处理
	h, err := header.New(testFields(9))
	require.NoError(t, err)
	require.NoError(t, c.db.Put(headerKey(testChainId, 6), h.EncodeRLP(), nil))
	inner.fields[6] = testFields(6)

	f, err := c.BlockFields(context.Background(), big.NewInt(6))
	require.NoError(t, err)
	require.Equal(t, uint64(6), f.Number)
}
