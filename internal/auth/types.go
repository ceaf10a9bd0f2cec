package auth

import (
	"context"
	"time"

	xerrors "LobsterMarket/internal/errors"
)

const (
	// RoleUser 是新注册用户的默认角色。
	RoleUser = "user"
	// RoleAdmin 拥有管理权限。
	RoleAdmin = "admin"
)

const (
	CodeNonceMissing    xerrors.Code = "AUTH_NONCE_MISSING"
	CodeMessageMismatch xerrors.Code = "AUTH_MESSAGE_MISMATCH"
	CodeInvalidToken    xerrors.Code = "AUTH_INVALID_TOKEN"
	CodeSuspended       xerrors.Code = "AUTH_ACCOUNT_SUSPENDED"
	CodeUserNotFound    xerrors.Code = "AUTH_USER_NOT_FOUND"
	CodeWalletNotFound  xerrors.Code = "AUTH_WALLET_NOT_FOUND"
	CodeIdentityExists  xerrors.Code = "AUTH_IDENTITY_EXISTS"
)

func init() {
	xerrors.Register(CodeNonceMissing, xerrors.Attributes{Message: "nonce expired or not found", Kind: xerrors.KindUnauthorized, Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeMessageMismatch, xerrors.Attributes{Message: "message mismatch", Kind: xerrors.KindBadRequest, Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{Message: "invalid token", Kind: xerrors.KindUnauthorized, Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeSuspended, xerrors.Attributes{Message: "account is suspended", Kind: xerrors.KindForbidden, Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeUserNotFound, xerrors.Attributes{Message: "user not found", Kind: xerrors.KindNotFound, Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeWalletNotFound, xerrors.Attributes{Message: "wallet not found", Kind: xerrors.KindNotFound, Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeIdentityExists, xerrors.Attributes{Message: "wallet already bound", Kind: xerrors.KindConflict, Severity: xerrors.SeverityInfo})
}

// 认证子系统返回的错误。
var (
	ErrNonceMissing    = xerrors.New(CodeNonceMissing, "nonce expired or not found")
	ErrMessageMismatch = xerrors.New(CodeMessageMismatch, "message mismatch")
	ErrInvalidToken    = xerrors.New(CodeInvalidToken, "invalid token")
	ErrMissingToken    = xerrors.New(CodeInvalidToken, "missing bearer token")
	ErrSuspended       = xerrors.New(CodeSuspended, "account is suspended")
	ErrUserNotFound    = xerrors.New(CodeUserNotFound, "user not found")
	ErrWalletNotFound  = xerrors.New(CodeWalletNotFound, "wallet not found")
	ErrIdentityExists  = xerrors.New(CodeIdentityExists, "wallet already bound to a user")
)

// User 是平台账户，可绑定多个钱包。
type User struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        string    `json:"role" db:"role"`
	ClientScore float64   `json:"client_score" db:"client_score"`
	Suspended   bool      `json:"is_suspended" db:"is_suspended"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Wallet 是已验证的钱包身份，验证后只属于一个用户。
type Wallet struct {
	UserID     string    `json:"user_id" db:"user_id"`
	Address    string    `json:"address" db:"address"`
	Family     string    `json:"family" db:"family"`
	Primary    bool      `json:"is_primary" db:"is_primary"`
	VerifiedAt time.Time `json:"verified_at" db:"verified_at"`
}

// IdentityStore 持久化用户与钱包。实现必须支持并发访问。
type IdentityStore interface {
	FindWallet(ctx context.Context, address string) (*Wallet, error)
	GetUser(ctx context.Context, id string) (*User, error)
	// CreateIdentity 原子地创建用户及其首个钱包，钱包已存在时返回 ErrIdentityExists。
	CreateIdentity(ctx context.Context, user *User, wallet *Wallet) error
	SetSuspended(ctx context.Context, userID string, suspended bool) error
}

// NonceStore 是带 TTL 的键值存储。Consume 必须原子地读取并删除，保证同一 nonce 只能使用一次。
type NonceStore interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	Consume(ctx context.Context, key string) (string, bool, error)
}

// SessionIssuer 签发与校验会话令牌。
type SessionIssuer interface {
	Issue(userID, wallet, role string, ttl time.Duration) (string, error)
	Verify(token string) (*Claims, error)
}

// Challenge 是下发给客户端的签名挑战。
type Challenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyRequest 是钱包签名登录请求。
type VerifyRequest struct {
	Wallet     string `json:"wallet"`
	Signature  string `json:"signature"`
	Message    string `json:"message"`
	WalletType string `json:"wallet_type,omitempty"`
}

// Session 是登录成功后的结果。
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// NonceKey 返回钱包 nonce 在存储中的键。
func NonceKey(wallet string) string {
	return "nonce:" + wallet
}
