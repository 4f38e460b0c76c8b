package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hodl/ledger"
	"hodl/observability/logging"
)

// State is the session lifecycle position. Transitions: SignedOut →
// PendingSignIn → SignedIn, and SignedIn → SignedOut on disconnect.
type State string

const (
	StateSignedOut     State = "signed-out"
	StatePendingSignIn State = "pending-sign-in"
	StateSignedIn      State = "signed-in"
)

const (
	phasePending = "pending"
	phaseActive  = "active"
)

// storedSession is the JSON shape of the persisted blob. A pending phase means
// the agent issued a token but the sign-in was interrupted before promotion.
type storedSession struct {
	Phase string `json:"phase"`
	Token string `json:"token"`
}

// Manager owns the wallet session lifecycle and orchestrates mutating
// operations. It is an explicit object handed to consumers; there is no
// package-level session. All state is guarded by the mutex; consumers only
// observe it through accessors.
type Manager struct {
	mu       sync.Mutex
	state    State
	session  Session
	inflight map[Operation]bool

	store    Store
	agent    Agent
	contract ledger.Contract
	log      *slog.Logger
}

// NewManager wires a Manager. Init must run before any operation.
func NewManager(store Store, agent Agent, contract ledger.Contract, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if contract.Address == "" || contract.Name == "" {
		contract = ledger.DefaultContract
	}
	return &Manager{
		state:    StateSignedOut,
		inflight: make(map[Operation]bool),
		store:    store,
		agent:    agent,
		contract: contract,
		log:      log.With("component", "wallet"),
	}
}

// Init restores a persisted session. A pending sign-in resumes asynchronously;
// corrupted session data is cleared wholesale and the manager restarts from
// SignedOut rather than surfacing the corruption as an error.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateSignedOut

	blob, ok, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("wallet: load session: %w", err)
	}
	if !ok {
		return nil
	}
	var stored storedSession
	if err := json.Unmarshal(blob, &stored); err != nil {
		return m.healLocked("session blob undecodable", err)
	}
	switch stored.Phase {
	case phaseActive:
		principal, err := principalFromToken(stored.Token)
		if err != nil {
			return m.healLocked("active session token invalid", err)
		}
		m.session = Session{Principal: principal, Token: stored.Token}
		m.state = StateSignedIn
		m.log.Info("session restored", "principal", logging.AbbreviatePrincipal(principal))
	case phasePending:
		m.state = StatePendingSignIn
		go m.resumePending(ctx, stored.Token)
	default:
		return m.healLocked("session blob has unknown phase", fmt.Errorf("phase %q", stored.Phase))
	}
	return nil
}

// healLocked clears all local session state after corruption. Never an error
// to the caller: the manager restarts cleanly from SignedOut.
func (m *Manager) healLocked(reason string, cause error) error {
	m.log.Warn("clearing corrupted session state", "reason", reason, "error", cause)
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("wallet: clear corrupted session: %w", err)
	}
	m.session = Session{}
	m.state = StateSignedOut
	return nil
}

func (m *Manager) resumePending(ctx context.Context, token string) {
	principal, err := principalFromToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePendingSignIn {
		// A connect or disconnect raced the resume; leave their result alone.
		return
	}
	if err != nil {
		_ = m.healLocked("pending sign-in token invalid", err)
		return
	}
	if err := m.promoteLocked(Session{Principal: principal, Token: token}); err != nil {
		_ = m.healLocked("pending sign-in promotion failed", err)
	}
}

func (m *Manager) promoteLocked(sess Session) error {
	blob, err := json.Marshal(storedSession{Phase: phaseActive, Token: sess.Token})
	if err != nil {
		return err
	}
	if err := m.store.Save(blob); err != nil {
		return err
	}
	m.session = sess
	m.state = StateSignedIn
	m.log.Info("signed in", "principal", logging.AbbreviatePrincipal(sess.Principal))
	return nil
}

// Connect runs the interactive sign-in. It suspends until the agent reports
// approval or rejection; rejection leaves the manager SignedOut.
func (m *Manager) Connect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	switch m.state {
	case StateSignedIn:
		sess := m.session
		m.mu.Unlock()
		return sess, nil
	case StatePendingSignIn:
		m.mu.Unlock()
		return Session{}, &ValidationError{Field: "session", Reason: "sign-in already pending"}
	}
	m.state = StatePendingSignIn
	m.mu.Unlock()

	sess, err := m.agent.Connect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateSignedOut
		return Session{}, err
	}
	m.log.Debug("agent issued session", logging.MaskToken("token", sess.Token))
	// Persist the token before promotion so an interrupted sign-in can resume
	// on the next Init.
	pending, marshalErr := json.Marshal(storedSession{Phase: phasePending, Token: sess.Token})
	if marshalErr == nil {
		_ = m.store.Save(pending)
	}
	if principal, tokenErr := principalFromToken(sess.Token); tokenErr == nil {
		sess.Principal = principal
	}
	if err := m.promoteLocked(sess); err != nil {
		_ = m.healLocked("sign-in promotion failed", err)
		return Session{}, &SigningFailedError{Message: err.Error()}
	}
	return sess, nil
}

// Disconnect clears the session and returns to SignedOut.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("wallet: clear session: %w", err)
	}
	m.session = Session{}
	m.state = StateSignedOut
	m.log.Info("signed out")
	return nil
}

// Close releases the session store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// State reports the current lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the active session, if any.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.state == StateSignedIn
}

// principalFromToken decodes the agent-issued JWT without verifying its
// signature; the agent is the trust anchor and this layer only needs the
// subject and expiry. An undecodable or expired token counts as corruption.
func principalFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("wallet: session token has no subject")
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return "", fmt.Errorf("wallet: session token expired at %s", exp)
	}
	return subject, nil
}
