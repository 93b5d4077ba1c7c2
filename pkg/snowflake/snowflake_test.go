package snowflake

import (
	"testing"
	"time"
)

// TestGenerateUnique 测试并发生成不重复
func TestGenerateUnique(t *testing.T) {
	sf, err := NewSnowflake(1)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	const total = 10000
	seen := make(map[int64]struct{}, total)
	for i := 0; i < total; i++ {
		id := sf.Generate()
		if _, dup := seen[id]; dup {
			t.Fatalf("ID重复: %d", id)
		}
		seen[id] = struct{}{}
	}
}

// TestGenerateMonotonic 测试同一节点生成的ID单调递增
func TestGenerateMonotonic(t *testing.T) {
	sf, err := NewSnowflake(2)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	prev := sf.Generate()
	for i := 0; i < 1000; i++ {
		id := sf.Generate()
		if id <= prev {
			t.Fatalf("ID应递增: %d <= %d", id, prev)
		}
		prev = id
	}
}

// TestTimestamp 测试从ID还原时间戳
func TestTimestamp(t *testing.T) {
	sf, err := NewSnowflake(3)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	before := time.Now().UnixMilli()
	id := sf.Generate()
	after := time.Now().UnixMilli()

	ts := sf.Timestamp(id)
	if ts < before || ts > after {
		t.Errorf("时间戳应落在[%d, %d], got %d", before, after, ts)
	}
}

// TestInvalidMachineID 测试非法节点ID
func TestInvalidMachineID(t *testing.T) {
	if _, err := NewSnowflake(-1); err == nil {
		t.Error("负的节点ID应报错")
	}
	if _, err := NewSnowflake(1024); err == nil {
		t.Error("超出范围的节点ID应报错")
	}
}
