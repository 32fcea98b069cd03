package storage

import (
	"strings"

	"github.com/betbot/p2pbuy/pkg/kvstore"
)

const seenPrefix = "seen/settled/"

// Badges 已展示过的已结算交易 id（仅用于通知角标，丢失后从空重建即可）
type Badges struct {
	kv *kvstore.Store
}

func NewBadges(kv *kvstore.Store) *Badges {
	return &Badges{kv: kv}
}

// MarkSeen 记录已展示
func (b *Badges) MarkSeen(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := make(map[string][]byte, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			batch[seenPrefix+id] = nil
		}
	}
	return b.kv.SetMany(batch)
}

// Unseen 返回 settledIDs 中尚未展示过的 id，保持输入顺序
func (b *Badges) Unseen(settledIDs []string) ([]string, error) {
	var out []string
	for _, id := range settledIDs {
		ok, err := b.kv.Has(seenPrefix + id)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Seen 全部已展示的 id
func (b *Badges) Seen() ([]string, error) {
	keys, err := b.kv.Keys(seenPrefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, seenPrefix)
	}
	return keys, nil
}

// Reset 清空记录
func (b *Badges) Reset() error {
	return b.kv.DropPrefix(seenPrefix)
}
