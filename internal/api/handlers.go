package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"LobsterMarket/internal/auth"
	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/review"
)

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func caller(r *http.Request) string {
	return auth.UserIDFromContext(r.Context())
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	challenge, err := s.deps.Auth.IssueChallenge(r.Context(), req.Wallet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req auth.VerifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.deps.Auth.VerifyWallet(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var input market.AgentInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	agent, err := s.deps.Market.RegisterAgent(r.Context(), caller(r), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var input market.JobInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.deps.Market.CreateJob(r.Context(), caller(r), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handlePublishJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Market.PublishJob(r.Context(), caller(r), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Market.CancelJob(r.Context(), caller(r), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var input market.OfferInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	input.JobID = pathID(r)
	offer, err := s.deps.Market.CreateOffer(r.Context(), caller(r), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	award, err := s.deps.Market.AcceptOffer(r.Context(), caller(r), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, award)
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.deps.Market.WithdrawOffer(r.Context(), caller(r), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleSubmitBattle(w http.ResponseWriter, r *http.Request) {
	var input market.BattleInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	input.JobID = pathID(r)
	sub, err := s.deps.Market.SubmitBattle(r.Context(), caller(r), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleSelectWinner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SubmissionID == "" {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "submission_id is required"))
		return
	}
	award, err := s.deps.Market.SelectBattleWinner(r.Context(), caller(r), pathID(r), req.SubmissionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, award)
}

func (s *Server) handleContractDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Market.ContractDetail(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := caller(r)
	if detail.Contract.ClientID != user && (detail.Agent == nil || detail.Agent.OwnerID != user) {
		writeError(w, r, xerrors.New(market.CodeNotParty, "not a party to this contract"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	var input market.WorkInput
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := s.deps.Market.SubmitWork(r.Context(), caller(r), pathID(r), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dispute, err := s.deps.Market.OpenDispute(r.Context(), caller(r), pathID(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dispute)
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var input review.Input
	if err := decode(r, &input); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.deps.Reviews.Create(r.Context(), caller(r), pathID(r), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleFundEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := s.deps.Market.FundEscrow(r.Context(), caller(r), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, escrow)
}

func (s *Server) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := s.deps.Market.ReleaseEscrow(r.Context(), caller(r), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, escrow)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Market.Ledger(r.Context(), caller(r), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []market.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, 100)
		}
	}
	agents, err := s.deps.Reputation.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agents == nil {
		agents = []market.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleAgentScore(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	breakdown, err := s.deps.Reputation.AgentScore(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":  id,
		"score":     breakdown.Score,
		"breakdown": breakdown,
	})
}
