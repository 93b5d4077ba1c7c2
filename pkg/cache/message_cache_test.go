package cache

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"dinguscord/pkg/logger"
)

// fakeKV 内存实现的有序集合和字符串键
type fakeKV struct {
	strings map[string]string
	zsets   map[string]map[string]float64
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		strings: make(map[string]string),
		zsets:   make(map[string]map[string]float64),
	}
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.strings[key] = value.(string)
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	val, ok := f.strings[key]
	if !ok {
		return "", goredis.Nil
	}
	return val, nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.strings, k)
	}
	return nil
}

func (f *fakeKV) ZAdd(ctx context.Context, key string, members ...*goredis.Z) error {
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	for _, z := range members {
		f.zsets[key][z.Member.(string)] = z.Score
	}
	return nil
}

// sortedAsc 按分数升序的成员列表
func (f *fakeKV) sortedAsc(key string) []string {
	zset := f.zsets[key]
	members := make([]string, 0, len(zset))
	for m := range zset {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if zset[members[i]] != zset[members[j]] {
			return zset[members[i]] < zset[members[j]]
		}
		return members[i] < members[j]
	})
	return members
}

func (f *fakeKV) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	asc := f.sortedAsc(key)
	n := int64(len(asc))
	desc := make([]string, n)
	for i, m := range asc {
		desc[n-1-int64(i)] = m
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	return desc[start : stop+1], nil
}

func (f *fakeKV) ZRem(ctx context.Context, key string, members ...interface{}) error {
	for _, m := range members {
		delete(f.zsets[key], m.(string))
	}
	return nil
}

func (f *fakeKV) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	asc := f.sortedAsc(key)
	n := int64(len(asc))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	for i := start; i <= stop && i < n; i++ {
		delete(f.zsets[key], asc[i])
	}
	return nil
}

func entry(id string, score int64) Entry {
	return Entry{ID: id, Score: score, Doc: []byte(fmt.Sprintf(`{"id":%q}`, id))}
}

// TestPutAndGetRecent 测试写入和按时间序读取
func TestPutAndGetRecent(t *testing.T) {
	ctx := context.Background()
	c := NewMessageCache(newFakeKV(), 100, logger.GetLogger())

	for i := 1; i <= 5; i++ {
		if err := c.Put(ctx, "r1", entry(fmt.Sprintf("m%d", i), int64(i*1000))); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	entries, err := c.GetRecent(ctx, "r1", 3)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("应返回3条, got %d", len(entries))
	}
	// 最近3条按时间正序
	want := []string{"m3", "m4", "m5"}
	for i, e := range entries {
		if e.ID != want[i] {
			t.Errorf("第%d条: got %s, want %s", i, e.ID, want[i])
		}
	}
}

// TestCapEviction 测试超出容量淘汰最旧消息
func TestCapEviction(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	c := NewMessageCache(kv, 3, logger.GetLogger())

	for i := 1; i <= 5; i++ {
		if err := c.Put(ctx, "r1", entry(fmt.Sprintf("m%d", i), int64(i*1000))); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	entries, err := c.GetRecent(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	want := []string{"m3", "m4", "m5"}
	if len(entries) != len(want) {
		t.Fatalf("容量3应只剩3条, got %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != want[i] {
			t.Errorf("第%d条: got %s, want %s", i, e.ID, want[i])
		}
	}

	// 被淘汰消息的文档键也要清掉
	if _, err := kv.Get(ctx, docKey("m1")); err != goredis.Nil {
		t.Error("被淘汰消息m1的文档应已删除")
	}
	if _, err := kv.Get(ctx, docKey("m2")); err != goredis.Nil {
		t.Error("被淘汰消息m2的文档应已删除")
	}
}

// TestRemove 测试删除单条消息
func TestRemove(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	c := NewMessageCache(kv, 100, logger.GetLogger())

	for i := 1; i <= 3; i++ {
		if err := c.Put(ctx, "r1", entry(fmt.Sprintf("m%d", i), int64(i*1000))); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	if err := c.Remove(ctx, "r1", "m2"); err != nil {
		t.Fatalf("删除失败: %v", err)
	}

	entries, err := c.GetRecent(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	for _, e := range entries {
		if e.ID == "m2" {
			t.Error("m2应已从缓存移除")
		}
	}
	if len(entries) != 2 {
		t.Errorf("应剩2条, got %d", len(entries))
	}
}

// TestShortPage 测试缓存覆盖不全时返回短页
func TestShortPage(t *testing.T) {
	ctx := context.Background()
	c := NewMessageCache(newFakeKV(), 100, logger.GetLogger())

	if err := c.Put(ctx, "r1", entry("m1", 1000)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	entries, err := c.GetRecent(ctx, "r1", 50)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("缓存只有1条时应返回短页, got %d", len(entries))
	}
}

// TestMergeDedup 测试合并去重
func TestMergeDedup(t *testing.T) {
	primary := []Entry{entry("m2", 2000), entry("m3", 3000)}
	fallback := []Entry{entry("m1", 1000), entry("m2", 2000), entry("m4", 4000)}

	merged := Merge(primary, fallback)

	want := []string{"m1", "m2", "m3", "m4"}
	if len(merged) != len(want) {
		t.Fatalf("合并后应%d条, got %d", len(want), len(merged))
	}
	for i, e := range merged {
		if e.ID != want[i] {
			t.Errorf("第%d条: got %s, want %s", i, e.ID, want[i])
		}
	}
}
