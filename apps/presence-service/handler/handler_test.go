package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"

	"dinguscord/apps/presence-service/model"
	"dinguscord/apps/presence-service/service"
	"dinguscord/pkg/logger"
	"dinguscord/pkg/presence"
)

// fakeKV 内存键值实现，fail开关模拟存储故障
type fakeKV struct {
	strings map[string]string
	fail    bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{strings: make(map[string]string)}
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if f.fail {
		return errors.New("store down")
	}
	f.strings[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	if f.fail {
		return "", errors.New("store down")
	}
	val, ok := f.strings[key]
	if !ok {
		return "", goredis.Nil
	}
	return val, nil
}

func (f *fakeKV) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.strings[k]; ok {
			vals[i] = v
		}
	}
	return vals, nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	if f.fail {
		return errors.New("store down")
	}
	for _, k := range keys {
		delete(f.strings, k)
	}
	return nil
}

func newTestRouter(kv *fakeKV, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	// 认证中间件在测试里用注入身份代替
	engine.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("userID", userID)
		}
		c.Next()
	})

	tracker := presence.NewTracker(kv, 120*time.Second, logger.GetLogger())
	h := NewHandler(service.NewService(tracker), logger.GetLogger())
	h.RegisterRoutes(engine)
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("请求编码失败: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// TestHeartbeatAndQuery 测试心跳后在窗口内可查到在线
func TestHeartbeatAndQuery(t *testing.T) {
	kv := newFakeKV()
	engine := newTestRouter(kv, "u1")

	w := doJSON(t, engine, "/presence/heartbeat", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("心跳应返回200, got %d: %s", w.Code, w.Body.String())
	}
	var hb model.HeartbeatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &hb); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if !hb.Success || hb.Timestamp == 0 {
		t.Errorf("心跳响应不完整: %+v", hb)
	}

	w = doJSON(t, engine, "/presence/users", model.UsersRequest{UserIDs: []string{"u1", "u2"}})
	if w.Code != http.StatusOK {
		t.Fatalf("批量查询应返回200, got %d", w.Code)
	}
	var resp model.UsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if !resp.OnlineStatus["u1"] {
		t.Error("刚发过心跳的u1应在线")
	}
	if resp.OnlineStatus["u2"] {
		t.Error("没有心跳记录的u2应离线")
	}
}

// TestLogoutTurnsOffline 测试显式下线立即生效
func TestLogoutTurnsOffline(t *testing.T) {
	kv := newFakeKV()
	engine := newTestRouter(kv, "u1")

	doJSON(t, engine, "/presence/heartbeat", nil)
	w := doJSON(t, engine, "/presence/logout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("下线应返回200, got %d", w.Code)
	}

	w = doJSON(t, engine, "/presence/users", model.UsersRequest{UserIDs: []string{"u1"}})
	var resp model.UsersResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.OnlineStatus["u1"] {
		t.Error("下线后u1应离线")
	}
}

// TestMissingIdentity 测试无身份请求被拒绝
func TestMissingIdentity(t *testing.T) {
	engine := newTestRouter(newFakeKV(), "")

	w := doJSON(t, engine, "/presence/heartbeat", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("无身份应返回401, got %d", w.Code)
	}
}

// TestStoreDownDegradesToOffline 测试存储故障时查询降级为离线
func TestStoreDownDegradesToOffline(t *testing.T) {
	kv := newFakeKV()
	engine := newTestRouter(kv, "u1")

	doJSON(t, engine, "/presence/heartbeat", nil)
	kv.fail = true

	// 查询降级返回200，全部按离线
	w := doJSON(t, engine, "/presence/users", model.UsersRequest{UserIDs: []string{"u1"}})
	if w.Code != http.StatusOK {
		t.Fatalf("存储故障时查询仍应返回200, got %d", w.Code)
	}
	var resp model.UsersResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.OnlineStatus["u1"] {
		t.Error("存储故障时应降级为离线")
	}

	// 写路径直接暴露故障
	w = doJSON(t, engine, "/presence/heartbeat", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("存储故障时心跳应返回503, got %d", w.Code)
	}
}
