package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// TestGenerateAndValidate 测试签发和校验回环
func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateJWT("u1", "alice", "secret")
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	claims, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" {
		t.Errorf("身份字段不符: %+v", claims)
	}
}

// TestWrongSecret 测试密钥不匹配
func TestWrongSecret(t *testing.T) {
	token, err := GenerateJWT("u1", "alice", "secret")
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	if _, err := ValidateJWT(token, "other-secret"); err == nil {
		t.Error("密钥不匹配应校验失败")
	}
}

// TestEmptyToken 测试空token
func TestEmptyToken(t *testing.T) {
	if _, err := ValidateJWT("", "secret"); err == nil {
		t.Error("空token应校验失败")
	}
}

// TestSubjectFallback 测试subject承载用户ID的签发方
func TestSubjectFallback(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "u42",
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	claims, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if claims.UserID != "u42" {
		t.Errorf("应回退到subject, got %s", claims.UserID)
	}
}

// TestMissingIdentity 测试无身份信息的token
func TestMissingIdentity(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).
		SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	if _, err := ValidateJWT(token, "secret"); err == nil {
		t.Error("无身份信息的token应校验失败")
	}
}
