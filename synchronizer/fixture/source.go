// Package fixture 从磁盘读取 eth_getBlockByNumber 的返回结果，离线计算区块哈希时使用。
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum"

	"github.com/WJX2001/header-hasher/header"
	"github.com/WJX2001/header-hasher/synchronizer/node"
)

const latestFile = "latest.json"

// Source 是基于文件的 BlockSource。
// path 是目录时按 <number>.json 查找，最新区块读 latest.json；
// path 是单个文件时，只有文件里的区块号与请求一致（或请求最新区块）才返回。
type Source struct {
	path  string
	isDir bool
}

func New(path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open fixture: %w", err)
	}
	return &Source{path: path, isDir: info.IsDir()}, nil
}

func (s *Source) BlockFields(ctx context.Context, number *big.Int) (header.Fields, error) {
	remote, err := s.HeaderByNumber(ctx, number)
	if err != nil {
		return header.Fields{}, err
	}
	return remote.Fields, nil
}

// HeaderByNumber 返回文件中的字段和其中记录的哈希
func (s *Source) HeaderByNumber(ctx context.Context, number *big.Int) (*node.RemoteHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file := s.path
	if s.isDir {
		name := latestFile
		if number != nil {
			name = number.String() + ".json"
		}
		file = filepath.Join(s.path, name)
	}

	raw, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ethereum.NotFound
	} else if err != nil {
		return nil, err
	}

	remote, err := node.ParseHeaderJSON(unwrapResponse(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if number != nil && (!number.IsUint64() || remote.Number != number.Uint64()) {
		if s.isDir {
			return nil, fmt.Errorf("%s: contains block %d", file, remote.Number)
		}
		return nil, ethereum.NotFound
	}
	return remote, nil
}

// unwrapResponse 同时接受完整的 JSON-RPC 响应和裸的区块对象
func unwrapResponse(raw []byte) []byte {
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil && len(resp.Result) > 0 {
		return resp.Result
	}
	return raw
}
