package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"dinguscord/pkg/logger"
)

const (
	roomKeyPrefix = "room:"
	roomKeySuffix = ":messages"
	docKeyPrefix  = "message:"
)

// Entry 缓存条目，Doc为消息的JSON文档
type Entry struct {
	ID    string
	Score int64 // created_at 毫秒时间戳
	Doc   []byte
}

// KV 缓存依赖的最小键值接口
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	ZAdd(ctx context.Context, key string, members ...*goredis.Z) error
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...interface{}) error
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
}

// MessageCache 每房间有界的最近消息缓存
// 有序集合存消息ID按时间排序，文档另存一份，超出容量淘汰最旧的
type MessageCache struct {
	kv     KV
	cap    int64
	logger logger.Logger
}

// NewMessageCache 创建缓存，cap为每房间保留的消息条数上限
func NewMessageCache(kv KV, cap int64, log logger.Logger) *MessageCache {
	return &MessageCache{
		kv:     kv,
		cap:    cap,
		logger: log,
	}
}

func roomKey(roomID string) string {
	return roomKeyPrefix + roomID + roomKeySuffix
}

func docKey(id string) string {
	return docKeyPrefix + id
}

// Put 写入一条消息并淘汰超出容量的旧消息
func (c *MessageCache) Put(ctx context.Context, roomID string, entry Entry) error {
	if err := c.kv.Set(ctx, docKey(entry.ID), string(entry.Doc), 0); err != nil {
		return fmt.Errorf("cache doc %s: %w", entry.ID, err)
	}

	rk := roomKey(roomID)
	if err := c.kv.ZAdd(ctx, rk, &goredis.Z{Score: float64(entry.Score), Member: entry.ID}); err != nil {
		return fmt.Errorf("cache index %s: %w", roomID, err)
	}

	// 超出容量的ID落在倒序排名cap之后，先取出再整体裁剪
	evicted, err := c.kv.ZRevRange(ctx, rk, c.cap, -1)
	if err != nil {
		return fmt.Errorf("cache trim scan %s: %w", roomID, err)
	}
	if len(evicted) == 0 {
		return nil
	}

	if err := c.kv.ZRemRangeByRank(ctx, rk, 0, -(c.cap + 1)); err != nil {
		return fmt.Errorf("cache trim %s: %w", roomID, err)
	}

	docKeys := make([]string, len(evicted))
	for i, id := range evicted {
		docKeys[i] = docKey(id)
	}
	if err := c.kv.Del(ctx, docKeys...); err != nil {
		// 索引已裁掉，文档会被下一次写入覆盖或由运维清理
		c.logger.Warn(ctx, "Evicted message docs not deleted",
			logger.F("roomID", roomID), logger.F("error", err.Error()))
	}
	return nil
}

// GetRecent 按时间顺序返回最近limit条消息
// 返回条数少于limit说明缓存覆盖不全，调用方应回源补齐
func (c *MessageCache) GetRecent(ctx context.Context, roomID string, limit int64) ([]Entry, error) {
	if limit <= 0 || limit > c.cap {
		limit = c.cap
	}

	ids, err := c.kv.ZRevRange(ctx, roomKey(roomID), 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", roomID, err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		doc, err := c.kv.Get(ctx, docKey(id))
		if err != nil {
			if err != goredis.Nil {
				c.logger.Warn(ctx, "Cached message doc missing",
					logger.F("messageID", id), logger.F("error", err.Error()))
			}
			continue
		}
		entries = append(entries, Entry{ID: id, Doc: []byte(doc)})
	}

	// ZRevRange是新到旧，调用方要旧到新
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Remove 删除一条消息的缓存
func (c *MessageCache) Remove(ctx context.Context, roomID, messageID string) error {
	if err := c.kv.ZRem(ctx, roomKey(roomID), messageID); err != nil {
		return fmt.Errorf("cache evict index %s: %w", messageID, err)
	}
	if err := c.kv.Del(ctx, docKey(messageID)); err != nil {
		return fmt.Errorf("cache evict doc %s: %w", messageID, err)
	}
	return nil
}

// Merge 合并缓存页和回源页，按ID去重，按时间排序
func Merge(primary, fallback []Entry) []Entry {
	seen := make(map[string]struct{}, len(primary))
	merged := make([]Entry, 0, len(primary)+len(fallback))

	for _, e := range primary {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}
	for _, e := range fallback {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score < merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
