package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

// clockSkew 是校验 exp/iat/nbf 时容忍的时钟偏差。
const clockSkew = 60 * time.Second

// Claims 是本地签发 token 的载荷。
type Claims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier 校验并签发 HS256 token。
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTVerifier 创建 HS256 校验器。
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Verify 实现 Verifier。
func (v *JWTVerifier) Verify(_ context.Context, token string) (user.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return user.Identity{}, unauthorized("missing token", nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return user.Identity{}, unauthorized("invalid token", err)
	}
	if claims.Subject == "" {
		return user.Identity{}, unauthorized("token has no subject", nil)
	}

	return user.Identity{
		SubjectID:   claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}, nil
}

// Issue 为 id 签发一个有效期为 ttl 的 token，供本地开发与测试使用。
func (v *JWTVerifier) Issue(id user.Identity, ttl time.Duration) (string, error) {
	if id.SubjectID == "" {
		return "", fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := v.now()
	claims := Claims{
		Email:   id.Email,
		Name:    id.DisplayName,
		Picture: id.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
