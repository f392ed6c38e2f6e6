// Package evalclient implements the evaluation-server submission client
// spec.md §6 eval_server describes: a "vbs" or "dres" HTTP backend, selected
// by submit_server, that differ only in authentication (dres logs in via a
// cookie-backed session, vbs submits directly with a team/member ID). The
// request/response shape — a narrow struct, one http.Client with a fixed
// timeout, JSON in and out, errors wrapped with %w at every boundary — is
// grounded on the teacher's internal/clients/graphrag_client.go and
// nexus_auth_client.go. Submissions are throttled to
// eval_server.send_logs_to_server_period with golang.org/x/time/rate, the
// same library the teacher's go.mod carries as an indirect dependency for
// exactly this kind of external-call pacing.
package evalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/time/rate"

	"github.com/adverant/somhunter/internal/config"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/sessioncore"
)

// Backend selects which submission protocol Client speaks.
type Backend int

const (
	BackendVBS Backend = iota
	BackendDRES
)

// Client is the eval-server submission client, implementing
// sessioncore.EvalClient. A nil *Client is never handed to sessioncore.New;
// callers that disable network requests (spec.md §6
// eval_server.do_network_requests=false) should pass a nil EvalClient
// instead, which Engine.Submit already treats as NOT_LOGGED_IN.
type Client struct {
	backend    Backend
	httpClient *http.Client
	limiter    *rate.Limiter

	address     string
	teamID      string
	memberID    string
	submitLSC   bool
	allowInsecure bool

	// dres-only session state
	username, password string
	sessionID          string
}

// New builds a submission client from the decoded eval_server config
// section. It performs no network I/O itself; for dres, Login must be
// called before the first Submit.
func New(cfg config.EvalServerConfig) (*Client, error) {
	if !cfg.DoNetworkRequests {
		return nil, nil
	}

	period := time.Duration(cfg.SendLogsToServerPeriod) * time.Second
	if period <= 0 {
		period = 5 * time.Second
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		limiter:       rate.NewLimiter(rate.Every(period), 1),
		teamID:        cfg.TeamID,
		memberID:      cfg.MemberID,
		submitLSC:     cfg.SubmitLSCIDs,
		allowInsecure: cfg.AllowInsecure,
	}

	switch cfg.SubmitServer {
	case "dres":
		c.backend = BackendDRES
		address, username, password, err := cfg.DRESConfig()
		if err != nil {
			return nil, err
		}
		c.address, c.username, c.password = address, username, password
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("evalclient: building cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	case "vbs", "":
		c.backend = BackendVBS
		address, port, err := cfg.VBSConfig()
		if err != nil {
			return nil, err
		}
		c.address = fmt.Sprintf("%s:%d", address, port)
	default:
		return nil, fmt.Errorf("evalclient: unknown submit_server %q", cfg.SubmitServer)
	}

	return c, nil
}

// Login authenticates against a "dres" backend, storing the session cookie
// for subsequent submissions. A no-op for "vbs", which authenticates every
// request with team/member IDs instead.
func (c *Client) Login(ctx context.Context) error {
	if c == nil || c.backend != BackendDRES {
		return nil
	}

	body, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return fmt.Errorf("evalclient: marshal login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+"/api/v2/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("evalclient: building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evalclient: dres login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("evalclient: dres login failed (status %d): %s", resp.StatusCode, string(data))
	}

	var decoded struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("evalclient: decoding dres login response: %w", err)
	}
	c.sessionID = decoded.SessionID
	log.Printf("✓ evalclient: dres session established")
	return nil
}

// Logout invalidates the dres session, if one was established. A no-op for
// vbs.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.backend != BackendDRES || c.sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+"/api/v2/logout", nil)
	if err != nil {
		return fmt.Errorf("evalclient: building logout request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evalclient: dres logout request: %w", err)
	}
	resp.Body.Close()
	c.sessionID = ""
	return nil
}

type submitRequest struct {
	TeamID   string `json:"teamId,omitempty"`
	MemberID string `json:"memberId,omitempty"`
	ItemID   string `json:"item,omitempty"`
}

type submitResponse struct {
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Submit forwards a known-item guess to the configured backend, respecting
// the configured submission rate limit. A nil receiver (network requests
// disabled) is valid and always returns NOT_LOGGED_IN, matching Engine's
// own nil-EvalClient handling.
func (c *Client) Submit(frame models.FrameID) (sessioncore.SubmitResult, error) {
	if c == nil {
		return sessioncore.SubmitNotLoggedIn, nil
	}
	if c.backend == BackendDRES && c.sessionID == "" {
		return sessioncore.SubmitNotLoggedIn, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return sessioncore.SubmitIncorrect, fmt.Errorf("evalclient: rate limit wait: %w", err)
	}

	reqBody := submitRequest{TeamID: c.teamID, MemberID: c.memberID, ItemID: fmt.Sprintf("%d", frame)}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return sessioncore.SubmitIncorrect, fmt.Errorf("evalclient: marshal submit request: %w", err)
	}

	endpoint := c.address + "/api/v2/submit"
	if c.backend == BackendVBS {
		endpoint = c.address + "/vbs/submit"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return sessioncore.SubmitIncorrect, fmt.Errorf("evalclient: building submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sessioncore.SubmitIncorrect, fmt.Errorf("evalclient: submit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return sessioncore.SubmitNotLoggedIn, nil
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return sessioncore.SubmitIncorrect, fmt.Errorf("evalclient: decoding submit response: %w", err)
	}

	switch decoded.Status {
	case "CORRECT", "correct":
		return sessioncore.SubmitCorrect, nil
	default:
		return sessioncore.SubmitIncorrect, nil
	}
}
