package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"dinguscord/pkg/logger"
)

// fakeKV 内存键值存储，fail置位后所有操作报错
type fakeKV struct {
	data map[string]string
	fail bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

var errKV = errors.New("kv unavailable")

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if f.fail {
		return errKV
	}
	f.data[key] = value.(string)
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	if f.fail {
		return "", errKV
	}
	val, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return val, nil
}

func (f *fakeKV) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if f.fail {
		return nil, errKV
	}
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			vals[i] = v
		}
	}
	return vals, nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	if f.fail {
		return errKV
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func newTestTracker(kv KV, now time.Time) *Tracker {
	tr := NewTracker(kv, 120*time.Second, logger.GetLogger())
	tr.now = func() time.Time { return now }
	return tr
}

// TestHeartbeatWindow 测试心跳窗口判定
func TestHeartbeatWindow(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	base := time.Unix(1700000000, 0)

	tr := newTestTracker(kv, base)
	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("心跳失败: %v", err)
	}

	cases := []struct {
		name    string
		elapsed time.Duration
		online  bool
	}{
		{"窗口内在线", 30 * time.Second, true},
		{"接近窗口仍在线", 119 * time.Second, true},
		{"刚好到窗口算离线", 120 * time.Second, false},
		{"超出窗口离线", 300 * time.Second, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr.now = func() time.Time { return base.Add(tc.elapsed) }
			if got := tr.IsOnline(ctx, "u1"); got != tc.online {
				t.Errorf("elapsed=%v: got online=%v, want %v", tc.elapsed, got, tc.online)
			}
		})
	}
}

// TestHeartbeatRefresh 测试后续心跳刷新窗口
func TestHeartbeatRefresh(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	base := time.Unix(1700000000, 0)

	tr := newTestTracker(kv, base)
	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("心跳失败: %v", err)
	}

	// 100秒后再次心跳，窗口从新心跳起算
	tr.now = func() time.Time { return base.Add(100 * time.Second) }
	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("二次心跳失败: %v", err)
	}

	tr.now = func() time.Time { return base.Add(210 * time.Second) }
	if !tr.IsOnline(ctx, "u1") {
		t.Error("刷新心跳后110秒应在线")
	}

	tr.now = func() time.Time { return base.Add(221 * time.Second) }
	if tr.IsOnline(ctx, "u1") {
		t.Error("刷新心跳后121秒应离线")
	}
}

// TestLogout 测试显式下线
func TestLogout(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	base := time.Unix(1700000000, 0)

	tr := newTestTracker(kv, base)
	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("心跳失败: %v", err)
	}
	if !tr.IsOnline(ctx, "u1") {
		t.Fatal("心跳后应在线")
	}

	if err := tr.Logout(ctx, "u1"); err != nil {
		t.Fatalf("下线失败: %v", err)
	}
	if tr.IsOnline(ctx, "u1") {
		t.Error("下线后应立即离线")
	}

	// 重复下线是幂等的
	if err := tr.Logout(ctx, "u1"); err != nil {
		t.Errorf("重复下线不应报错: %v", err)
	}
}

// TestQueryOnlineBatch 测试批量查询
func TestQueryOnlineBatch(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	base := time.Unix(1700000000, 0)

	tr := newTestTracker(kv, base)
	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("心跳失败: %v", err)
	}
	// u2的记录不是合法时间戳
	kv.data[keyPrefix+"u2"] = "garbage"

	got := tr.QueryOnlineBatch(ctx, []string{"u1", "u2", "u3"})
	want := map[string]bool{"u1": true, "u2": false, "u3": false}
	for id, online := range want {
		if got[id] != online {
			t.Errorf("用户%s: got %v, want %v", id, got[id], online)
		}
	}
	if len(got) != 3 {
		t.Errorf("结果应覆盖全部查询ID, got %d", len(got))
	}
}

// TestDegradeToOffline 测试存储故障降级为离线
func TestDegradeToOffline(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	base := time.Unix(1700000000, 0)

	tr := newTestTracker(kv, base)
	if err := tr.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("心跳失败: %v", err)
	}

	kv.fail = true
	if tr.IsOnline(ctx, "u1") {
		t.Error("存储故障时应按离线处理")
	}

	got := tr.QueryOnlineBatch(ctx, []string{"u1", "u2"})
	for id, online := range got {
		if online {
			t.Errorf("存储故障时用户%s应按离线处理", id)
		}
	}

	// 写路径的错误要暴露给调用方
	if err := tr.Heartbeat(ctx, "u1"); err == nil {
		t.Error("存储故障时心跳应报错")
	}
}

// TestEmptyUserID 测试空用户ID校验
func TestEmptyUserID(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(newFakeKV(), time.Unix(1700000000, 0))

	if err := tr.Heartbeat(ctx, ""); err == nil {
		t.Error("空用户ID的心跳应报错")
	}
	if err := tr.Logout(ctx, ""); err == nil {
		t.Error("空用户ID的下线应报错")
	}
}
