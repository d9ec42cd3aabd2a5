package synchronizer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/WJX2001/header-hasher/database/common"
	"github.com/WJX2001/header-hasher/header"
	"github.com/WJX2001/header-hasher/synchronizer/node"
)

func testChain(n int) []header.Fields {
	chain := make([]header.Fields, n)
	var parent gethcommon.Hash
	for i := range chain {
		withdrawals := types.EmptyWithdrawalsHash
		chain[i] = header.Fields{
			ParentHash:      parent,
			UncleHash:       types.EmptyUncleHash,
			Root:            gethcommon.BigToHash(big.NewInt(int64(i + 1))),
			TxHash:          types.EmptyRootHash,
			ReceiptHash:     types.EmptyRootHash,
			Number:          uint64(i),
			GasLimit:        36_000_000,
			Time:            1_700_000_000 + uint64(i)*12,
			Extra:           []byte("synchronizer"),
			BaseFee:         uint256.NewInt(uint64(1_000 + i)),
			WithdrawalsHash: &withdrawals,
		}
		hash, err := header.ComputeHash(chain[i])
		if err != nil {
			panic(err)
		}
		parent = hash
	}
	return chain
}

type fakeClient struct {
	mu     sync.Mutex
	chain  []header.Fields
	claims map[uint64]gethcommon.Hash
}

func newFakeClient(chain []header.Fields) *fakeClient {
	return &fakeClient{chain: chain, claims: make(map[uint64]gethcommon.Hash)}
}

func (c *fakeClient) remote(n uint64) (*node.RemoteHeader, error) {
	if n >= uint64(len(c.chain)) {
		return nil, ethereum.NotFound
	}
	hash, err := header.ComputeHash(c.chain[n])
	if err != nil {
		return nil, err
	}
	if claimed, ok := c.claims[n]; ok {
		hash = claimed
	}
	return &node.RemoteHeader{Fields: c.chain[n], Hash: hash}, nil
}

func (c *fakeClient) BlockFields(ctx context.Context, number *big.Int) (header.Fields, error) {
	h, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return header.Fields{}, err
	}
	return h.Fields, nil
}

func (c *fakeClient) HeaderByNumber(_ context.Context, number *big.Int) (*node.RemoteHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number == nil {
		return c.remote(uint64(len(c.chain) - 1))
	}
	return c.remote(number.Uint64())
}

func (c *fakeClient) HeaderByHash(context.Context, gethcommon.Hash) (*node.RemoteHeader, error) {
	return nil, ethereum.NotFound
}

func (c *fakeClient) HeadersByRange(_ context.Context, start, end *big.Int) ([]node.RemoteHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []node.RemoteHeader
	for n := start.Uint64(); n <= end.Uint64(); n++ {
		h, err := c.remote(n)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}

func (c *fakeClient) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (c *fakeClient) Close() {}

type memStore struct {
	mu       sync.Mutex
	rows     []common.BlockHeader
	failures int
}

func (s *memStore) LatestBlockHeader() (*common.BlockHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rows) == 0 {
		return nil, nil
	}
	latest := s.rows[len(s.rows)-1]
	return &latest, nil
}

func (s *memStore) StoreBlockHeaders(rows []common.BlockHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("database unavailable")
	}
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *memStore) numbers() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.Number.Uint64()
	}
	return out
}

func newTestSynchronizer(t *testing.T, cfg Config, store Store, client node.EthClient) *Synchronizer {
	syncer, err := NewSynchronizer(context.Background(), cfg, store, client, func(cause error) {
		t.Errorf("unexpected shutdown: %v", cause)
	})
	require.NoError(t, err)
	return syncer
}

func drain(t *testing.T, syncer *Synchronizer) {
	for i := 0; i < 20; i++ {
		require.NoError(t, syncer.tick(context.Background()))
	}
}

func TestSynchronizerIndexesConfirmedHeaders(t *testing.T) {
	chain := testChain(10)
	store := &memStore{}
	syncer := newTestSynchronizer(t, Config{HeaderBufferSize: 3, Confirmations: 2}, store, newFakeClient(chain))

	drain(t, syncer)
	require.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7}, store.numbers())

	for i, row := range store.rows {
		want, err := header.ComputeHash(chain[i])
		require.NoError(t, err)
		require.Equal(t, want, row.Hash)
		require.Equal(t, want, row.ClaimedHash)
		require.Equal(t, "shanghai", row.Fork)
		require.Equal(t, 17, row.NumFields)
		require.Equal(t, want, row.RLPHeader.Hash())
	}
}

func TestSynchronizerResumesFromStore(t *testing.T) {
	chain := testChain(8)
	last, err := header.New(chain[4])
	require.NoError(t, err)
	store := &memStore{rows: []common.BlockHeader{common.NewBlockHeader(last, last.Hash())}}

	syncer := newTestSynchronizer(t, Config{HeaderBufferSize: 10}, store, newFakeClient(chain))
	drain(t, syncer)
	require.Equal(t, []uint64{4, 5, 6, 7}, store.numbers())
}

func TestSynchronizerStartHeight(t *testing.T) {
	store := &memStore{}
	syncer := newTestSynchronizer(t, Config{HeaderBufferSize: 10, StartHeight: big.NewInt(3)}, store, newFakeClient(testChain(6)))
	drain(t, syncer)
	require.Equal(t, []uint64{3, 4, 5}, store.numbers())

	_, err := NewSynchronizer(context.Background(), Config{StartHeight: big.NewInt(100)}, &memStore{}, newFakeClient(testChain(2)), func(error) {})
	require.ErrorIs(t, err, ethereum.NotFound)
}

func TestSynchronizerHashMismatch(t *testing.T) {
	chain := testChain(6)
	client := newFakeClient(chain)
	client.claims[2] = gethcommon.HexToHash("0xbad")

	store := &memStore{}
	syncer := newTestSynchronizer(t, Config{HeaderBufferSize: 10}, store, client)
	err := syncer.tick(context.Background())
	require.ErrorIs(t, err, ErrHashMismatch)
	require.Empty(t, store.numbers())

	tolerant := &memStore{}
	syncer = newTestSynchronizer(t, Config{HeaderBufferSize: 10, AllowMismatch: true}, tolerant, client)
	require.NoError(t, syncer.tick(context.Background()))
	require.Len(t, tolerant.rows, 6)
	require.NotEqual(t, tolerant.rows[2].Hash, tolerant.rows[2].ClaimedHash)
	require.Equal(t, tolerant.rows[3].Hash, tolerant.rows[3].ClaimedHash)
}

func TestSynchronizerRetriesFailedBatch(t *testing.T) {
	store := &memStore{failures: 1}
	syncer := newTestSynchronizer(t, Config{HeaderBufferSize: 3}, store, newFakeClient(testChain(6)))

	require.Error(t, syncer.tick(context.Background()))
	require.Empty(t, store.numbers())

	require.NoError(t, syncer.tick(context.Background()))
	require.Equal(t, []uint64{0, 1, 2}, store.numbers())

	drain(t, syncer)
	require.Equal(t, []uint64{0, 1, 2, 3, 4, 5}, store.numbers())
}

func TestVerifyHeaders(t *testing.T) {
	chain := testChain(2)
	h0, err := header.New(chain[0])
	require.NoError(t, err)
	h1, err := header.New(chain[1])
	require.NoError(t, err)

	ok := []node.TraversedHeader{
		{Header: h0, Hash: h0.Hash(), Claimed: h0.Hash()},
		{Header: h1, Hash: h1.Hash(), Claimed: h1.Hash()},
	}
	require.NoError(t, VerifyHeaders(ok))
	require.NoError(t, VerifyHeaders(nil))

	ok[1].Claimed = gethcommon.HexToHash("0x01")
	err = VerifyHeaders(ok)
	require.ErrorIs(t, err, ErrHashMismatch)
	require.Contains(t, err.Error(), "block 1")
}

func TestSynchronizerLoop(t *testing.T) {
	store := &memStore{}
	syncer := newTestSynchronizer(t, Config{LoopInterval: 5 * time.Millisecond, HeaderBufferSize: 2}, store, newFakeClient(testChain(7)))

	require.NoError(t, syncer.Start())
	require.Eventually(t, func() bool { return len(store.numbers()) == 7 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, syncer.Close())
}

func TestSynchronizerLoopStopsOnMismatch(t *testing.T) {
	client := newFakeClient(testChain(4))
	client.claims[1] = gethcommon.HexToHash("0xbad")

	var mu sync.Mutex
	var cause error
	syncer, err := NewSynchronizer(context.Background(), Config{LoopInterval: 5 * time.Millisecond}, &memStore{}, client, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		cause = err
	})
	require.NoError(t, err)

	require.NoError(t, syncer.Start())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(cause, ErrHashMismatch)
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, syncer.Close())
}
