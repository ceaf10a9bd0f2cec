package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	xerrors "LobsterMarket/internal/errors"
)

// Claims 是会话令牌中携带的声明：sub、wallet、role、exp、iat。
type Claims struct {
	Wallet string `json:"wallet"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// UserID 返回令牌主体。
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// JWTIssuer 使用 HS256 签发会话令牌。
type JWTIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewJWTIssuer 构造 JWTIssuer。
func NewJWTIssuer(secret string) (*JWTIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret must be configured")
	}
	return &JWTIssuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue 签发有效期为 ttl 的令牌。
func (j *JWTIssuer) Issue(userID, wallet, role string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		Wallet: wallet,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInternal, err, "签发令牌失败")
	}
	return token, nil
}

// Verify 校验签名与过期时间并返回声明。
func (j *JWTIssuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil || !parsed.Valid {
		return nil, xerrors.Wrap(CodeInvalidToken, err, "invalid token")
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
