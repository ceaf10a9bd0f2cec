package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"LobsterMarket/internal/auth"
	"LobsterMarket/internal/observability/metrics"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(observe)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/auth/nonce", s.rateLimited(http.HandlerFunc(s.handleNonce))).Methods(http.MethodPost)
	v1.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodPost)
	v1.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{id}/score", s.handleAgentScore).Methods(http.MethodGet)

	private := v1.NewRoute().Subrouter()
	private.Use(s.deps.Auth.Middleware(auth.MiddlewareConfig{}))
	private.HandleFunc("/agents", s.handleRegisterAgent).Methods(http.MethodPost)
	private.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	private.HandleFunc("/jobs/{id}/publish", s.handlePublishJob).Methods(http.MethodPost)
	private.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods(http.MethodPost)
	private.HandleFunc("/jobs/{id}/offers", s.handleCreateOffer).Methods(http.MethodPost)
	private.HandleFunc("/jobs/{id}/battle", s.handleSubmitBattle).Methods(http.MethodPost)
	private.HandleFunc("/jobs/{id}/battle/winner", s.handleSelectWinner).Methods(http.MethodPost)
	private.HandleFunc("/offers/{id}/accept", s.handleAcceptOffer).Methods(http.MethodPost)
	private.HandleFunc("/offers/{id}/withdraw", s.handleWithdrawOffer).Methods(http.MethodPost)
	private.HandleFunc("/contracts/{id}", s.handleContractDetail).Methods(http.MethodGet)
	private.HandleFunc("/contracts/{id}/submit", s.handleSubmitWork).Methods(http.MethodPost)
	private.HandleFunc("/contracts/{id}/dispute", s.handleOpenDispute).Methods(http.MethodPost)
	private.HandleFunc("/contracts/{id}/reviews", s.handleCreateReview).Methods(http.MethodPost)
	private.HandleFunc("/escrow/{id}/fund", s.handleFundEscrow).Methods(http.MethodPost)
	private.HandleFunc("/escrow/{id}/release", s.handleReleaseEscrow).Methods(http.MethodPost)
	private.HandleFunc("/escrow/{id}/ledger", s.handleLedger).Methods(http.MethodGet)
	return r
}
