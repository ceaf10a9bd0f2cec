package auth_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LobsterMarket/internal/auth"
	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/storage/memory"
	"LobsterMarket/internal/wallet"
)

type signer struct {
	address string
	key     ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return signer{address: base58.Encode(pub), key: priv}
}

func (s signer) sign(message string) string {
	return base58.Encode(ed25519.Sign(s.key, []byte(message)))
}

type harness struct {
	svc    *auth.Service
	db     *memory.DB
	nonces *auth.MemoryNonceStore
	issuer *auth.JWTIssuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	issuer, err := auth.NewJWTIssuer("test-secret")
	require.NoError(t, err)
	db := memory.New()
	nonces := auth.NewMemoryNonceStore()
	svc, err := auth.NewService(auth.Config{Domain: "lobster.test", NonceTTL: time.Minute, SessionTTL: time.Hour}, nonces, db, issuer)
	require.NoError(t, err)
	return &harness{svc: svc, db: db, nonces: nonces, issuer: issuer}
}

func (h *harness) login(t *testing.T, s signer) (*auth.Session, error) {
	t.Helper()
	ch, err := h.svc.IssueChallenge(context.Background(), s.address)
	require.NoError(t, err)
	return h.svc.VerifyWallet(context.Background(), auth.VerifyRequest{
		Wallet:    s.address,
		Signature: s.sign(ch.Message),
		Message:   ch.Message,
	})
}

func TestChallengeFormat(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	ch, err := h.svc.IssueChallenge(context.Background(), s.address)
	require.NoError(t, err)
	assert.Len(t, ch.Nonce, 32)
	for _, r := range ch.Nonce {
		assert.True(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), "nonce must be alphanumeric")
	}
	assert.Equal(t, wallet.BuildChallenge("lobster.test", ch.Nonce, s.address), ch.Message)

	stored, ok, err := h.nonces.Get(context.Background(), auth.NonceKey(s.address))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ch.Nonce, stored)
}

func TestVerifyWalletCreatesUserAndSession(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)

	session, err := h.login(t, s)
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	assert.Equal(t, auth.RoleUser, session.User.Role)
	assert.Equal(t, auth.DisplayName(s.address), session.User.DisplayName)

	claims, err := h.issuer.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID())
	assert.Equal(t, s.address, claims.Wallet)

	w, err := h.db.FindWallet(context.Background(), s.address)
	require.NoError(t, err)
	assert.True(t, w.Primary)
	assert.Equal(t, wallet.Ed25519.Name(), w.Family)

	again, err := h.login(t, s)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, again.User.ID, "second login reuses the identity")
}

func TestNonceIsSingleUse(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	ch, err := h.svc.IssueChallenge(context.Background(), s.address)
	require.NoError(t, err)
	req := auth.VerifyRequest{Wallet: s.address, Signature: s.sign(ch.Message), Message: ch.Message}

	_, err = h.svc.VerifyWallet(context.Background(), req)
	require.NoError(t, err)
	_, err = h.svc.VerifyWallet(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindUnauthorized, xerrors.KindOf(err))
}

func TestConcurrentReplayHasSingleWinner(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	ch, err := h.svc.IssueChallenge(context.Background(), s.address)
	require.NoError(t, err)
	req := auth.VerifyRequest{Wallet: s.address, Signature: s.sign(ch.Message), Message: ch.Message}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.VerifyWallet(context.Background(), req); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestVerifyWalletFailures(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	ctx := context.Background()

	_, err := h.svc.VerifyWallet(ctx, auth.VerifyRequest{Wallet: s.address, Signature: "x", Message: "m"})
	assert.ErrorIs(t, err, auth.ErrNonceMissing)

	ch, err := h.svc.IssueChallenge(ctx, s.address)
	require.NoError(t, err)
	tampered := strings.Replace(ch.Message, "lobster.test", "evil.test", 1)
	_, err = h.svc.VerifyWallet(ctx, auth.VerifyRequest{Wallet: s.address, Signature: s.sign(tampered), Message: tampered})
	assert.ErrorIs(t, err, auth.ErrMessageMismatch)
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(err))

	// nonce 已在上一次尝试中被消费。
	_, err = h.svc.VerifyWallet(ctx, auth.VerifyRequest{Wallet: s.address, Signature: s.sign(ch.Message), Message: ch.Message})
	assert.ErrorIs(t, err, auth.ErrNonceMissing)

	other := newSigner(t)
	ch, err = h.svc.IssueChallenge(ctx, s.address)
	require.NoError(t, err)
	_, err = h.svc.VerifyWallet(ctx, auth.VerifyRequest{Wallet: s.address, Signature: other.sign(ch.Message), Message: ch.Message})
	require.Error(t, err)
	assert.Equal(t, xerrors.KindUnauthorized, xerrors.KindOf(err))
}

func TestSuspendedAccountIsForbidden(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	session, err := h.login(t, s)
	require.NoError(t, err)
	require.NoError(t, h.db.SetSuspended(context.Background(), session.User.ID, true))

	_, err = h.login(t, s)
	assert.ErrorIs(t, err, auth.ErrSuspended)
	assert.Equal(t, xerrors.KindForbidden, xerrors.KindOf(err))
}

func TestExpiredNonce(t *testing.T) {
	issuer, err := auth.NewJWTIssuer("test-secret")
	require.NoError(t, err)
	nonces := auth.NewMemoryNonceStore()
	svc, err := auth.NewService(auth.Config{NonceTTL: time.Nanosecond}, nonces, memory.New(), issuer)
	require.NoError(t, err)
	s := newSigner(t)
	ch, err := svc.IssueChallenge(context.Background(), s.address)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = svc.VerifyWallet(context.Background(), auth.VerifyRequest{Wallet: s.address, Signature: s.sign(ch.Message), Message: ch.Message})
	assert.ErrorIs(t, err, auth.ErrNonceMissing)
}

func TestMiddleware(t *testing.T) {
	h := newHarness(t)
	session, err := h.login(t, newSigner(t))
	require.NoError(t, err)

	var seen string
	handler := h.svc.Middleware(auth.MiddlewareConfig{AuditEvent: "test"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, session.User.ID, seen)

	admin := h.svc.Middleware(auth.MiddlewareConfig{Roles: []string{auth.RoleAdmin}})(handler)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
