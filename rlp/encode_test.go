package rlp_test

import (
	"bytes"
	"math/big"
	"math/rand"
	"testing"

	gethrlp "github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/WJX2001/header-hasher/rlp"
)

type encTest struct {
	name string
	val  rlp.Value
	want []byte
}

func repeat(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func encTests() []encTest {
	return []encTest{
		{"empty string", rlp.Bytes(nil), []byte{0x80}},
		{"single zero byte", rlp.Bytes([]byte{0x00}), []byte{0x00}},
		{"single byte 0x7f", rlp.Bytes([]byte{0x7f}), []byte{0x7f}},
		{"single byte 0x80", rlp.Bytes([]byte{0x80}), []byte{0x81, 0x80}},
		{"dog", rlp.Bytes([]byte("dog")), []byte{0x83, 'd', 'o', 'g'}},
		{"55 bytes", rlp.Bytes(repeat(0xaa, 55)), concat([]byte{0xb7}, repeat(0xaa, 55))},
		{"56 bytes", rlp.Bytes(repeat(0xaa, 56)), concat([]byte{0xb8, 56}, repeat(0xaa, 56))},
		{"1024 bytes", rlp.Bytes(repeat(0x01, 1024)), concat([]byte{0xb9, 0x04, 0x00}, repeat(0x01, 1024))},
		{"zero hash", rlp.Bytes(make([]byte, 32)), concat([]byte{0xa0}, make([]byte, 32))},
		{"empty list", rlp.NewList(), []byte{0xc0}},
		{
			"cat dog",
			rlp.NewList(rlp.Bytes([]byte("cat")), rlp.Bytes([]byte("dog"))),
			[]byte{0xc8, 0x83, 'c', 'a', 't', 0x83, 'd', 'o', 'g'},
		},
		{
			"set theoretic three",
			rlp.NewList(
				rlp.NewList(),
				rlp.NewList(rlp.NewList()),
				rlp.NewList(rlp.NewList(), rlp.NewList(rlp.NewList())),
			),
			[]byte{0xc7, 0xc0, 0xc1, 0xc0, 0xc3, 0xc0, 0xc1, 0xc0},
		},
		{
			"list payload 55",
			rlp.NewList(rlp.Bytes(repeat(0x11, 54))),
			concat([]byte{0xf7, 0xb6}, repeat(0x11, 54)),
		},
		{
			"list payload 56",
			rlp.NewList(rlp.Bytes(repeat(0x11, 55))),
			concat([]byte{0xf8, 56, 0xb7}, repeat(0x11, 55)),
		},
		{"uint 0", rlp.Uint64(0), []byte{0x80}},
		{"uint 15", rlp.Uint64(15), []byte{0x0f}},
		{"uint 127", rlp.Uint64(127), []byte{0x7f}},
		{"uint 128", rlp.Uint64(128), []byte{0x81, 0x80}},
		{"uint 1024", rlp.Uint64(1024), []byte{0x82, 0x04, 0x00}},
		{"uint max", rlp.Uint64(^uint64(0)), concat([]byte{0x88}, repeat(0xff, 8))},
		{"uint256 nil", rlp.Uint256(nil), []byte{0x80}},
		{"uint256 zero", rlp.Uint256(uint256.NewInt(0)), []byte{0x80}},
		{
			"uint256 2^255",
			rlp.Uint256(new(uint256.Int).Lsh(uint256.NewInt(1), 255)),
			concat([]byte{0xa0, 0x80}, make([]byte, 31)),
		},
	}
}

func TestEncode(t *testing.T) {
	for _, tt := range encTests() {
		t.Run(tt.name, func(t *testing.T) {
			got := rlp.Encode(tt.val)
			require.Equal(t, tt.want, got)
			require.Equal(t, len(got), rlp.EncodedSize(tt.val))

			var buf bytes.Buffer
			require.NoError(t, rlp.EncodeToWriter(&buf, tt.val))
			require.Equal(t, tt.want, buf.Bytes())
		})
	}
}

// 0 编码为空串；全零 32 字节哈希编码为 33 字节，不会被折叠
func TestCanonicalZero(t *testing.T) {
	require.Empty(t, rlp.Uint64(0).Bytes())
	require.Empty(t, rlp.Uint256(new(uint256.Int)).Bytes())

	zero, err := rlp.BigInt(new(big.Int))
	require.NoError(t, err)
	require.Empty(t, zero.Bytes())

	enc := rlp.Encode(rlp.Bytes(make([]byte, 32)))
	require.Len(t, enc, 33)
	require.Equal(t, byte(0xa0), enc[0])
}

func TestSingleByteRule(t *testing.T) {
	for b := 0; b < 0x80; b++ {
		require.Equal(t, []byte{byte(b)}, rlp.Encode(rlp.Bytes([]byte{byte(b)})))
	}
	for b := 0x80; b <= 0xff; b++ {
		require.Equal(t, []byte{0x81, byte(b)}, rlp.Encode(rlp.Bytes([]byte{byte(b)})))
	}
}

func TestBigIntNegative(t *testing.T) {
	_, err := rlp.BigInt(big.NewInt(-1))
	require.ErrorIs(t, err, rlp.ErrNegativeInteger)

	v, err := rlp.BigInt(big.NewInt(0x0400))
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x00}, v.Bytes())
}

// randomValue 生成随机的值树，同时生成 go-ethereum rlp 能编码的等价结构
func randomValue(rng *rand.Rand, depth int) (rlp.Value, interface{}) {
	if depth > 3 || rng.Intn(3) > 0 {
		var b []byte
		switch rng.Intn(4) {
		case 0:
			b = []byte{byte(rng.Intn(256))}
		case 1:
			b = make([]byte, rng.Intn(56))
		default:
			b = make([]byte, rng.Intn(300))
		}
		rng.Read(b)
		return rlp.Bytes(b), b
	}
	n := rng.Intn(6)
	items := make([]rlp.Value, n)
	ref := make([]interface{}, n)
	for i := range items {
		items[i], ref[i] = randomValue(rng, depth+1)
	}
	return rlp.NewList(items...), ref
}

func TestEncodeMatchesGethRLP(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		val, ref := randomValue(rng, 0)
		want, err := gethrlp.EncodeToBytes(ref)
		require.NoError(t, err)
		require.Equal(t, want, rlp.Encode(val), "value %s", val)
	}
}

func TestUintMatchesGethRLP(t *testing.T) {
	for _, u := range []uint64{0, 1, 0x7f, 0x80, 0xff, 0x100, 0xffff, 1 << 24, 1 << 40, ^uint64(0)} {
		want, err := gethrlp.EncodeToBytes(u)
		require.NoError(t, err)
		require.Equal(t, want, rlp.Encode(rlp.Uint64(u)), "uint %d", u)

		want, err = gethrlp.EncodeToBytes(new(big.Int).SetUint64(u))
		require.NoError(t, err)
		require.Equal(t, want, rlp.Encode(rlp.Uint256(uint256.NewInt(u))), "uint256 %d", u)
	}
}
