package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hodl/ledger"
)

// Session identifies an authenticated wallet session. The token is issued and
// persisted by the signing agent's own storage; this layer treats it as opaque
// apart from the unverified claim decode in session.go.
type Session struct {
	Principal string `json:"principal"`
	Token     string `json:"token"`
}

// Agent abstracts the external signing agent (the user's wallet). Connect and
// Sign both suspend until the user responds; there is no timeout, only ctx
// cancellation or an agent-side rejection.
type Agent interface {
	// Connect initiates a sign-in and resolves with the agent-issued session.
	Connect(ctx context.Context) (Session, error)
	// Sign hands over an unsigned descriptor and resolves with the submitted
	// transaction id on approval, ErrSigningRejected when the user declines,
	// or *SigningFailedError when the agent reports an internal error.
	// Submission is not confirmation; callers track the tx themselves.
	Sign(ctx context.Context, call ledger.UnsignedCall) (string, error)
}

// HTTPAgent talks to a local signing agent over HTTP. The client carries no
// timeout: approval is a user-paced, indefinite wait.
type HTTPAgent struct {
	baseURL string
	appName string
	http    *http.Client
}

// NewHTTPAgent builds an agent client for the given base URL.
func NewHTTPAgent(baseURL, appName string) (*HTTPAgent, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("wallet: agent base url required")
	}
	if strings.TrimSpace(appName) == "" {
		appName = "hodl"
	}
	return &HTTPAgent{
		baseURL: trimmed,
		appName: appName,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type connectRequest struct {
	RequestID string `json:"requestId"`
	App       string `json:"app"`
}

type connectResponse struct {
	Principal string `json:"principal"`
	Token     string `json:"token"`
	Rejected  bool   `json:"rejected"`
	Error     string `json:"error"`
}

// Connect asks the agent to establish a session, waiting for the user.
func (a *HTTPAgent) Connect(ctx context.Context) (Session, error) {
	var resp connectResponse
	req := connectRequest{RequestID: uuid.NewString(), App: a.appName}
	if err := a.post(ctx, "/v1/connect", req, &resp); err != nil {
		return Session{}, &SigningFailedError{Message: err.Error()}
	}
	if resp.Rejected {
		return Session{}, ErrSigningRejected
	}
	if resp.Error != "" {
		return Session{}, &SigningFailedError{Message: resp.Error}
	}
	if resp.Token == "" || resp.Principal == "" {
		return Session{}, &SigningFailedError{Message: "agent returned empty session"}
	}
	return Session{Principal: resp.Principal, Token: resp.Token}, nil
}

type signRequest struct {
	RequestID string              `json:"requestId"`
	Digest    string              `json:"digest"`
	Call      ledger.UnsignedCall `json:"call"`
}

type signResponse struct {
	TxID     string `json:"txId"`
	Rejected bool   `json:"rejected"`
	Error    string `json:"error"`
}

// Sign submits the descriptor for user approval.
func (a *HTTPAgent) Sign(ctx context.Context, call ledger.UnsignedCall) (string, error) {
	digest := call.Digest()
	req := signRequest{
		RequestID: uuid.NewString(),
		Digest:    hex.EncodeToString(digest[:]),
		Call:      call,
	}
	var resp signResponse
	if err := a.post(ctx, "/v1/sign", req, &resp); err != nil {
		return "", &SigningFailedError{Message: err.Error()}
	}
	if resp.Rejected {
		return "", ErrSigningRejected
	}
	if resp.Error != "" {
		return "", &SigningFailedError{Message: resp.Error}
	}
	if strings.TrimSpace(resp.TxID) == "" {
		return "", &SigningFailedError{Message: "agent returned empty transaction id"}
	}
	return resp.TxID, nil
}

func (a *HTTPAgent) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("agent responded with status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

var _ Agent = (*HTTPAgent)(nil)
