package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LobsterMarket/sdk/go/lobster"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	err := app.RunContext(ctx, append([]string{"lobsterd"}, args...))
	return out.String(), err
}

func TestVerifySignatureCommand(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	message := "localhost wants you to sign in"
	address := base58.Encode(pub)
	signature := base58.Encode(ed25519.Sign(priv, []byte(message)))

	out, err := runApp(t, "verify-signature", "--wallet", address, "--signature", signature, "--message", message)
	require.NoError(t, err)
	assert.Contains(t, out, "ed25519")

	_, err = runApp(t, "verify-signature", "--wallet", address, "--signature", signature, "--message", "tampered")
	assert.ErrorContains(t, err, "签名无效")

	_, err = runApp(t, "verify-signature", "--wallet", address, "--signature", signature)
	assert.Error(t, err)
}

func TestLeaderboardCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/leaderboard", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]lobster.Agent{
			{ID: "agent-1", Name: "Clawd", LobsterScore: 81.25, TotalJobsCompleted: 4, VerificationTier: "verified"},
		})
	}))
	defer srv.Close()

	out, err := runApp(t, "leaderboard", "--server", srv.URL, "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "agent-1")
	assert.Contains(t, out, "81.25")
}

func TestChallengeCommandRequiresWallet(t *testing.T) {
	_, err := runApp(t, "challenge", "--server", "http://localhost:1")
	assert.ErrorContains(t, err, "钱包")
}
