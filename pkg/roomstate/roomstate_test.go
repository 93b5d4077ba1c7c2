package roomstate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// fakeKV 内存键值实现，Incr用锁保证原子性
type fakeKV struct {
	mu      sync.Mutex
	strings map[string]string
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		hashes:  make(map[string]map[string]string),
	}
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.strings[key]
	if !ok {
		return "", goredis.Nil
	}
	return val, nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.strings, k)
	}
	return nil
}

func (f *fakeKV) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := strconv.ParseInt(f.strings[key], 10, 64)
	n++
	f.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (f *fakeKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.strings {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeKV) SAdd(ctx context.Context, key string, members ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		f.sets[key][fmt.Sprintf("%v", m)] = struct{}{}
	}
	return nil
}

func (f *fakeKV) SRem(ctx context.Context, key string, members ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], fmt.Sprintf("%v", m))
	}
	return nil
}

func (f *fakeKV) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (f *fakeKV) HSet(ctx context.Context, key, field string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeKV) HDel(ctx context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	return nil
}

func (f *fakeKV) HExists(ctx context.Context, key, field string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.hashes[key][field]
	return ok, nil
}

func (f *fakeKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

// TestMembership 测试房间成员集合语义
func TestMembership(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeKV())

	if err := s.JoinRoom(ctx, "r1", "u1"); err != nil {
		t.Fatalf("加入失败: %v", err)
	}
	// 重复加入是幂等的
	if err := s.JoinRoom(ctx, "r1", "u1"); err != nil {
		t.Fatalf("重复加入失败: %v", err)
	}
	if err := s.JoinRoom(ctx, "r1", "u2"); err != nil {
		t.Fatalf("加入失败: %v", err)
	}

	members, err := s.Members(ctx, "r1")
	if err != nil {
		t.Fatalf("查询成员失败: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("成员应为2个, got %v", members)
	}

	rooms, err := s.RoomsOf(ctx, "u1")
	if err != nil {
		t.Fatalf("查询反向索引失败: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "r1" {
		t.Errorf("u1的房间应为[r1], got %v", rooms)
	}

	if err := s.LeaveRoom(ctx, "r1", "u1"); err != nil {
		t.Fatalf("离开失败: %v", err)
	}
	members, _ = s.Members(ctx, "r1")
	if len(members) != 1 || members[0] != "u2" {
		t.Errorf("离开后成员应为[u2], got %v", members)
	}
	rooms, _ = s.RoomsOf(ctx, "u1")
	if len(rooms) != 0 {
		t.Errorf("离开后反向索引应为空, got %v", rooms)
	}
}

// TestTyping 测试输入状态标记
func TestTyping(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeKV())

	if err := s.SetTyping(ctx, "r1", "u1", 5*time.Second); err != nil {
		t.Fatalf("标记失败: %v", err)
	}
	if err := s.SetTyping(ctx, "r1", "u2", 5*time.Second); err != nil {
		t.Fatalf("标记失败: %v", err)
	}
	if err := s.SetTyping(ctx, "r2", "u3", 5*time.Second); err != nil {
		t.Fatalf("标记失败: %v", err)
	}

	users, err := s.TypingUsers(ctx, "r1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	sort.Strings(users)
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("r1正在输入的应为[u1 u2], got %v", users)
	}

	if err := s.ClearTyping(ctx, "r1", "u1"); err != nil {
		t.Fatalf("清除失败: %v", err)
	}
	users, _ = s.TypingUsers(ctx, "r1")
	if len(users) != 1 || users[0] != "u2" {
		t.Errorf("清除后应剩[u2], got %v", users)
	}
}

// TestUnreadCounters 测试未读计数
func TestUnreadCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeKV())

	// 无记录视为0
	n, err := s.GetUnread(ctx, "u1", "r1")
	if err != nil || n != 0 {
		t.Fatalf("初始未读应为0, got %d, err=%v", n, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.IncrUnread(ctx, "u1", "r1"); err != nil {
			t.Fatalf("递增失败: %v", err)
		}
	}
	n, _ = s.GetUnread(ctx, "u1", "r1")
	if n != 3 {
		t.Errorf("未读应为3, got %d", n)
	}

	if err := s.ClearUnread(ctx, "u1", "r1"); err != nil {
		t.Fatalf("清零失败: %v", err)
	}
	n, _ = s.GetUnread(ctx, "u1", "r1")
	if n != 0 {
		t.Errorf("清零后应为0, got %d", n)
	}
	// 重复清零是幂等的
	if err := s.ClearUnread(ctx, "u1", "r1"); err != nil {
		t.Errorf("重复清零不应报错: %v", err)
	}
}

// TestUnreadConcurrent 测试并发递增不丢计数
func TestUnreadConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeKV())

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if _, err := s.IncrUnread(ctx, "u1", "r1"); err != nil {
					t.Errorf("递增失败: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.GetUnread(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if n != goroutines*perGoroutine {
		t.Errorf("并发递增后应为%d, got %d", goroutines*perGoroutine, n)
	}
}

// TestSocketOnline 测试socket在线表
func TestSocketOnline(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeKV())

	online, err := s.IsSocketOnline(ctx, "u1")
	if err != nil || online {
		t.Fatalf("初始应离线, got %v, err=%v", online, err)
	}

	if err := s.MarkSocketOnline(ctx, "u1", "conn-1"); err != nil {
		t.Fatalf("上线失败: %v", err)
	}
	online, _ = s.IsSocketOnline(ctx, "u1")
	if !online {
		t.Error("标记后应在线")
	}

	all, err := s.SocketOnlineUsers(ctx)
	if err != nil {
		t.Fatalf("查询在线表失败: %v", err)
	}
	if all["u1"] != "conn-1" {
		t.Errorf("在线表应含u1->conn-1, got %v", all)
	}

	if err := s.MarkSocketOffline(ctx, "u1"); err != nil {
		t.Fatalf("下线失败: %v", err)
	}
	online, _ = s.IsSocketOnline(ctx, "u1")
	if online {
		t.Error("下线后应离线")
	}
}
