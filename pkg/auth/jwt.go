package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 认证服务签发的身份信息
// 连接绑定的身份只能来自这里，不信任客户端自报的用户ID
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ValidateJWT 校验token并返回身份信息
func ValidateJWT(tokenString, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("empty token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// 校验签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		// 兼容 subject 承载用户ID的签发方
		if claims.Subject == "" {
			return nil, fmt.Errorf("token missing user identity")
		}
		claims.UserID = claims.Subject
	}

	return claims, nil
}

// GenerateJWT 生成token，测试和本地联调用
func GenerateJWT(userID, username, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:   userID,
		Username: username,
	})
	return token.SignedString([]byte(secret))
}
