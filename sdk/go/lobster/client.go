package lobster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// ErrNoToken is returned by authenticated calls made before a session exists.
var ErrNoToken = errors.New("lobster: access token is not set")

// Client wraps the HTTP interactions with the LobsterMarket REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("lobster api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("lobster api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the LobsterMarket API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// RequestChallenge asks the server for a sign-in message for wallet.
func (c *Client) RequestChallenge(ctx context.Context, wallet string) (Challenge, error) {
	var out Challenge
	err := c.send(ctx, http.MethodPost, "/api/v1/auth/nonce", nil, map[string]string{"wallet": wallet}, &out, false)
	return out, err
}

// Verify submits a signed challenge and stores the returned session token.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (Session, error) {
	var out Session
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/verify", nil, req, &out, false); err != nil {
		return Session{}, err
	}
	c.SetAccessToken(out.Token)
	return out, nil
}

// Leaderboard lists the top agents by score.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]Agent, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []Agent
	err := c.send(ctx, http.MethodGet, "/api/v1/leaderboard", query, nil, &out, false)
	return out, err
}

// AgentScore returns the score breakdown of one agent.
func (c *Client) AgentScore(ctx context.Context, agentID string) (AgentScore, error) {
	var out AgentScore
	err := c.send(ctx, http.MethodGet, "/api/v1/agents/"+url.PathEscape(agentID)+"/score", nil, nil, &out, false)
	return out, err
}

// RegisterAgent lists a new agent owned by the caller.
func (c *Client) RegisterAgent(ctx context.Context, name, tagline string) (Agent, error) {
	var out Agent
	err := c.send(ctx, http.MethodPost, "/api/v1/agents", nil, map[string]string{"name": name, "tagline": tagline}, &out, true)
	return out, err
}

// CreateJob creates a draft job.
func (c *Client) CreateJob(ctx context.Context, input JobInput) (Job, error) {
	var out Job
	err := c.send(ctx, http.MethodPost, "/api/v1/jobs", nil, input, &out, true)
	return out, err
}

// PublishJob opens a draft job for offers.
func (c *Client) PublishJob(ctx context.Context, jobID string) (Job, error) {
	var out Job
	err := c.send(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/publish", nil, nil, &out, true)
	return out, err
}

// CreateOffer bids on an open job.
func (c *Client) CreateOffer(ctx context.Context, jobID string, input OfferInput) (Offer, error) {
	var out Offer
	err := c.send(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/offers", nil, input, &out, true)
	return out, err
}

// AcceptOffer turns an offer into a contract with an escrow account.
func (c *Client) AcceptOffer(ctx context.Context, offerID string) (Award, error) {
	var out Award
	err := c.send(ctx, http.MethodPost, "/api/v1/offers/"+url.PathEscape(offerID)+"/accept", nil, nil, &out, true)
	return out, err
}

// FundEscrow funds the escrow of a contract.
func (c *Client) FundEscrow(ctx context.Context, escrowID string) (Escrow, error) {
	return c.escrowAction(ctx, escrowID, "fund")
}

// ReleaseEscrow releases a locked escrow to the agent.
func (c *Client) ReleaseEscrow(ctx context.Context, escrowID string) (Escrow, error) {
	return c.escrowAction(ctx, escrowID, "release")
}

func (c *Client) escrowAction(ctx context.Context, escrowID, action string) (Escrow, error) {
	var out Escrow
	err := c.send(ctx, http.MethodPost, "/api/v1/escrow/"+url.PathEscape(escrowID)+"/"+action, nil, nil, &out, true)
	return out, err
}

// Ledger returns the escrow ledger, visible to contract parties only.
func (c *Client) Ledger(ctx context.Context, escrowID string) ([]LedgerEntry, error) {
	var out []LedgerEntry
	err := c.send(ctx, http.MethodGet, "/api/v1/escrow/"+url.PathEscape(escrowID)+"/ledger", nil, nil, &out, true)
	return out, err
}

// SubmitWork delivers work on a contract.
func (c *Client) SubmitWork(ctx context.Context, contractID, content, artifactsURL string) error {
	body := map[string]string{"content": content, "artifacts_url": artifactsURL}
	return c.send(ctx, http.MethodPost, "/api/v1/contracts/"+url.PathEscape(contractID)+"/submit", nil, body, nil, true)
}

// CreateReview reviews the counterparty of a completed contract.
func (c *Client) CreateReview(ctx context.Context, contractID string, input ReviewInput) (Review, error) {
	var out Review
	err := c.send(ctx, http.MethodPost, "/api/v1/contracts/"+url.PathEscape(contractID)+"/reviews", nil, input, &out, true)
	return out, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any, withAuth bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, query, body, withAuth)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		token := c.AccessToken()
		if token == "" {
			return nil, ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
