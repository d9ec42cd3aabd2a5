package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	eventdb "github.com/WJX2001/header-hasher/database/event"
)

// Apply 把 ev 合并进同一个被请求区块的行，返回更新后的行。
// 同一笔交易的重复响应只记录一次；提交事件最终出现在该区块的每一行上。
func Apply(entries []eventdb.HeaderRequest, chainId uint64, ev *Event, now time.Time) []eventdb.HeaderRequest {
	idx := -1
	for i := range entries {
		if matches(&entries[i], ev) {
			idx = i
			break
		}
	}
	if idx < 0 {
		entries = append(entries, eventdb.HeaderRequest{
			GUID:        uuid.New(),
			ChainId:     chainId,
			BlockNumber: ev.BlockNumber,
			HeaderIndex: ev.HeaderIndex,
			CreatedAt:   now,
		})
		idx = len(entries) - 1
	}

	entry := &entries[idx]
	entry.UpdatedAt = now
	ref := ev.Log
	switch ev.Kind {
	case Requested:
		entry.Request = &eventdb.Request{
			ContractAddress: ev.ContractAddress,
			RewardAmount:    ev.RewardAmount,
			LogRef:          ref,
		}
	case Responded:
		if !hasResponse(entry.Responses, ref.TransactionHash) {
			entry.Responses = append(entry.Responses, eventdb.Response{
				ContractAddress: ev.ContractAddress,
				Responder:       ev.Responder,
				LogRef:          ref,
			})
		}
	case Committed:
		entry.Commit = &ref
	case Refunded:
		entry.Refund = &ref
	}
	return normalizeCommit(entries, now)
}

// matches: 提交事件落到只有提交的那一行，其他事件按 headerIndex 匹配
func matches(entry *eventdb.HeaderRequest, ev *Event) bool {
	if ev.Kind == Committed {
		return entry.HeaderIndex == nil
	}
	return entry.HeaderIndex != nil && entry.HeaderIndex.Cmp(ev.HeaderIndex) == 0
}

func hasResponse(responses []eventdb.Response, txHash common.Hash) bool {
	for _, r := range responses {
		if r.TransactionHash == txHash {
			return true
		}
	}
	return false
}

// normalizeCommit 让提交信息覆盖该区块的所有请求行：
// 存在只有提交的行且有其他行时，把它的提交复制过去并删掉这一行；
// 否则把已有的提交补到还没有提交的行上
func normalizeCommit(entries []eventdb.HeaderRequest, now time.Time) []eventdb.HeaderRequest {
	commitOnly := -1
	for i := range entries {
		if entries[i].HeaderIndex == nil {
			commitOnly = i
			break
		}
	}

	if commitOnly >= 0 {
		if len(entries) == 1 {
			return entries
		}
		commit := entries[commitOnly].Commit
		out := make([]eventdb.HeaderRequest, 0, len(entries)-1)
		for i := range entries {
			if i == commitOnly {
				continue
			}
			entry := entries[i]
			if commit != nil {
				c := *commit
				entry.Commit = &c
				entry.UpdatedAt = now
			}
			out = append(out, entry)
		}
		return out
	}

	var commit *eventdb.LogRef
	for i := range entries {
		if entries[i].Commit != nil {
			commit = entries[i].Commit
			break
		}
	}
	if commit == nil {
		return entries
	}
	for i := range entries {
		if entries[i].Commit == nil {
			c := *commit
			entries[i].Commit = &c
			entries[i].UpdatedAt = now
		}
	}
	return entries
}
