package event

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	eventdb "github.com/WJX2001/header-hasher/database/event"
)

// HeaderOracleABI 是区块头预言机合约的事件定义
const HeaderOracleABI = `[
	{"type":"event","name":"BlockHeaderRequested","anonymous":false,"inputs":[
		{"name":"contractAddress","type":"address","indexed":true},
		{"name":"blockNumber","type":"uint256","indexed":true},
		{"name":"headerIndex","type":"uint256","indexed":true},
		{"name":"rewardAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"BlockHeaderResponded","anonymous":false,"inputs":[
		{"name":"contractAddress","type":"address","indexed":true},
		{"name":"blockNumber","type":"uint256","indexed":true},
		{"name":"headerIndex","type":"uint256","indexed":false},
		{"name":"responder","type":"address","indexed":true}]},
	{"type":"event","name":"BlockHeaderCommitted","anonymous":false,"inputs":[
		{"name":"blockNumber","type":"uint256","indexed":true}]},
	{"type":"event","name":"BlockHeaderRefunded","anonymous":false,"inputs":[
		{"name":"blockNumber","type":"uint256","indexed":true},
		{"name":"headerIndex","type":"uint256","indexed":true}]}
]`

var ErrUnknownEvent = errors.New("unknown event")

type Kind uint8

const (
	Requested Kind = iota + 1
	Responded
	Committed
	Refunded
)

var kindNames = map[Kind]string{
	Requested: "BlockHeaderRequested",
	Responded: "BlockHeaderResponded",
	Committed: "BlockHeaderCommitted",
	Refunded:  "BlockHeaderRefunded",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event 是解码后的合约事件。BlockNumber 是被请求的区块号，Log.BlockNumber 是事件所在的区块
type Event struct {
	Kind            Kind
	BlockNumber     *big.Int
	HeaderIndex     *big.Int // Committed 没有
	ContractAddress common.Address
	Responder       common.Address
	RewardAmount    *big.Int
	Log             eventdb.LogRef
}

type Decoder struct {
	abi   abi.ABI
	kinds map[common.Hash]Kind
}

func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(HeaderOracleABI))
	if err != nil {
		return nil, fmt.Errorf("unable to parse header oracle abi: %w", err)
	}
	kinds := make(map[common.Hash]Kind, len(kindNames))
	for kind, name := range kindNames {
		ev, ok := parsed.Events[name]
		if !ok {
			return nil, fmt.Errorf("header oracle abi has no event %s", name)
		}
		kinds[ev.ID] = kind
	}
	return &Decoder{abi: parsed, kinds: kinds}, nil
}

// Topics 返回 eth_getLogs 的 topics 条件：topic0 是四种事件之一
func (d *Decoder) Topics() [][]common.Hash {
	ids := make([]common.Hash, 0, len(d.kinds))
	for kind := Requested; kind <= Refunded; kind++ {
		ids = append(ids, d.abi.Events[kind.String()].ID)
	}
	return [][]common.Hash{ids}
}

// Decode 解析一条日志，不是预言机事件时返回 ErrUnknownEvent
func (d *Decoder) Decode(lg types.Log) (*Event, error) {
	if len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	kind, ok := d.kinds[lg.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, lg.Topics[0])
	}
	abiEvent := d.abi.Events[kind.String()]

	values := make(map[string]interface{})
	if len(abiEvent.Inputs.NonIndexed()) > 0 {
		if err := d.abi.UnpackIntoMap(values, abiEvent.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("unable to unpack %s data: %w", kind, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range abiEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("unable to parse %s topics: %w", kind, err)
	}

	ev := &Event{
		Kind: kind,
		Log: eventdb.LogRef{
			BlockNumber:     lg.BlockNumber,
			TransactionHash: lg.TxHash,
			BlockHash:       lg.BlockHash,
			LogIndex:        lg.Index,
		},
	}
	ev.BlockNumber, _ = values["blockNumber"].(*big.Int)
	ev.HeaderIndex, _ = values["headerIndex"].(*big.Int)
	ev.RewardAmount, _ = values["rewardAmount"].(*big.Int)
	ev.ContractAddress, _ = values["contractAddress"].(common.Address)
	ev.Responder, _ = values["responder"].(common.Address)

	if ev.BlockNumber == nil || (kind != Committed && ev.HeaderIndex == nil) {
		return nil, fmt.Errorf("%s in tx %s is missing its block number or header index", kind, lg.TxHash)
	}
	return ev, nil
}
