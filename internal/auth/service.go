package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/wallet"
	"LobsterMarket/pkg/logger"
)

const (
	nonceLength   = 32
	nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	defaultNonceTTL   = 300 * time.Second
	defaultSessionTTL = 72 * time.Hour
)

// Config 是挑战协调器的显式配置。
type Config struct {
	Domain     string
	NonceTTL   time.Duration
	SessionTTL time.Duration
}

// Service 协调钱包挑战的签发与校验，并在成功后签发会话。
type Service struct {
	cfg        Config
	nonces     NonceStore
	identities IdentityStore
	sessions   SessionIssuer
	audit      *slog.Logger
	now        func() time.Time
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config, nonces NonceStore, identities IdentityStore, sessions SessionIssuer) (*Service, error) {
	if nonces == nil || identities == nil || sessions == nil {
		return nil, errors.New("auth service requires nonce store, identity store and session issuer")
	}
	if strings.TrimSpace(cfg.Domain) == "" {
		cfg.Domain = "localhost"
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = defaultNonceTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	return &Service{
		cfg:        cfg,
		nonces:     nonces,
		identities: identities,
		sessions:   sessions,
		audit:      logger.Audit(),
		now:        time.Now,
	}, nil
}

// IssueChallenge 为钱包生成一次性 nonce 与待签名消息，重复请求会覆盖旧 nonce。
func (s *Service) IssueChallenge(ctx context.Context, address string) (*Challenge, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet is required")
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInternal, err, "生成 nonce 失败")
	}
	if err := s.nonces.Put(ctx, NonceKey(address), nonce, s.cfg.NonceTTL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 nonce 失败")
	}
	return &Challenge{
		Nonce:     nonce,
		Message:   wallet.BuildChallenge(s.cfg.Domain, nonce, address),
		ExpiresAt: s.now().Add(s.cfg.NonceTTL).UTC(),
	}, nil
}

// VerifyWallet 消费 nonce、核对消息与签名，按需创建用户并签发会话。
// nonce 在任何校验之前被原子消费，失败的尝试同样使其失效。
func (s *Service) VerifyWallet(ctx context.Context, req VerifyRequest) (*Session, error) {
	address := strings.TrimSpace(req.Wallet)
	if address == "" || req.Signature == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet and signature are required")
	}
	nonce, ok, err := s.nonces.Consume(ctx, NonceKey(address))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 nonce 失败")
	}
	if !ok {
		return nil, ErrNonceMissing
	}
	if req.Message != wallet.BuildChallenge(s.cfg.Domain, nonce, address) {
		return nil, ErrMessageMismatch
	}
	family, err := wallet.Resolve(req.WalletType, address)
	if err != nil {
		return nil, err
	}
	if err := wallet.Verify(family, address, req.Signature, req.Message); err != nil {
		s.audit.Warn("wallet_rejected",
			slog.String("wallet", address),
			slog.String("family", family.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	user, err := s.findOrCreate(ctx, address, family)
	if err != nil {
		return nil, err
	}
	if user.Suspended {
		return nil, ErrSuspended
	}
	token, err := s.sessions.Issue(user.ID, address, user.Role, s.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	s.audit.Info("wallet_verified",
		slog.String("user_id", user.ID),
		slog.String("wallet", address),
		slog.String("family", family.Name()),
	)
	return &Session{
		Token:     token,
		ExpiresAt: s.now().Add(s.cfg.SessionTTL).UTC(),
		User:      user,
	}, nil
}

func (s *Service) findOrCreate(ctx context.Context, address string, family wallet.Family) (*User, error) {
	existing, err := s.identities.FindWallet(ctx, address)
	switch {
	case err == nil:
		return s.identities.GetUser(ctx, existing.UserID)
	case !errors.Is(err, ErrWalletNotFound):
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:          uuid.NewString(),
		DisplayName: DisplayName(address),
		Role:        RoleUser,
		CreatedAt:   now,
	}
	w := &Wallet{
		UserID:     user.ID,
		Address:    address,
		Family:     family.Name(),
		Primary:    true,
		VerifiedAt: now,
	}
	if err := s.identities.CreateIdentity(ctx, user, w); err != nil {
		if errors.Is(err, ErrIdentityExists) {
			// 并发登录同一钱包，以先写入者为准。
			existing, findErr := s.identities.FindWallet(ctx, address)
			if findErr != nil {
				return nil, findErr
			}
			return s.identities.GetUser(ctx, existing.UserID)
		}
		return nil, err
	}
	s.audit.Info("user_created",
		slog.String("user_id", user.ID),
		slog.String("wallet", address),
	)
	return user, nil
}

// AuthenticateRequest 校验 Authorization 头中的 Bearer 令牌。
func (s *Service) AuthenticateRequest(authorization string) (*Claims, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.sessions.Verify(token)
}

// DisplayName 由钱包地址首尾各四个字符生成默认昵称。
func DisplayName(address string) string {
	runes := []rune(address)
	if len(runes) <= 8 {
		return address
	}
	return string(runes[:4]) + "…" + string(runes[len(runes)-4:])
}

func randomNonce() (string, error) {
	limit := big.NewInt(int64(len(nonceAlphabet)))
	buf := make([]byte, nonceLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = nonceAlphabet[n.Int64()]
	}
	return string(buf), nil
}
