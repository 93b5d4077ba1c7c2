package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"dinguscord/pkg/logger"
)

const keyPrefix = "presence:user:"

// KV 心跳存储依赖的最小键值接口，生产环境由Redis客户端满足
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	MGet(ctx context.Context, keys ...string) ([]interface{}, error)
	Del(ctx context.Context, keys ...string) error
}

// Tracker 心跳在线状态跟踪器
// 记录每个用户最近一次心跳时间，按存活窗口判定在线
type Tracker struct {
	kv     KV
	window time.Duration
	logger logger.Logger
	now    func() time.Time
}

// NewTracker 创建跟踪器，window为存活窗口
func NewTracker(kv KV, window time.Duration, log logger.Logger) *Tracker {
	return &Tracker{
		kv:     kv,
		window: window,
		logger: log,
		now:    time.Now,
	}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Heartbeat 刷新用户的心跳时间
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("empty user id")
	}

	ts := strconv.FormatInt(t.now().UnixMilli(), 10)
	// TTL取两倍窗口，窗口外的记录读出来也判离线，过期只是兜底回收
	if err := t.kv.Set(ctx, key(userID), ts, 2*t.window); err != nil {
		return fmt.Errorf("heartbeat %s: %w", userID, err)
	}
	return nil
}

// Logout 显式下线，删除心跳记录
func (t *Tracker) Logout(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("empty user id")
	}
	if err := t.kv.Del(ctx, key(userID)); err != nil {
		return fmt.Errorf("logout %s: %w", userID, err)
	}
	return nil
}

// IsOnline 查询单个用户是否在线
// 存储故障降级为离线，查询路径永不报错
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	val, err := t.kv.Get(ctx, key(userID))
	if err != nil {
		if err != goredis.Nil {
			t.logger.Warn(ctx, "Presence lookup failed, treating as offline",
				logger.F("userID", userID), logger.F("error", err.Error()))
		}
		return false
	}
	return t.alive(val)
}

// QueryOnlineBatch 批量查询在线状态，结果覆盖传入的全部ID
func (t *Tracker) QueryOnlineBatch(ctx context.Context, userIDs []string) map[string]bool {
	result := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = key(id)
	}

	vals, err := t.kv.MGet(ctx, keys...)
	if err != nil || len(vals) != len(userIDs) {
		if err != nil {
			t.logger.Warn(ctx, "Presence batch lookup failed, treating all as offline",
				logger.F("count", len(userIDs)), logger.F("error", err.Error()))
		}
		for _, id := range userIDs {
			result[id] = false
		}
		return result
	}

	for i, id := range userIDs {
		s, ok := vals[i].(string)
		result[id] = ok && t.alive(s)
	}
	return result
}

// alive 判定心跳值是否在窗口内，刚好等于窗口算离线
func (t *Tracker) alive(val string) bool {
	last, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	return t.now().UnixMilli()-last < t.window.Milliseconds()
}
