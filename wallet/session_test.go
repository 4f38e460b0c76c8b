package wallet

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hodl/ledger"
)

func testToken(t *testing.T, subject string, expiry time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject}
	if !expiry.IsZero() {
		claims["exp"] = expiry.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return token
}

type fakeAgent struct {
	session    Session
	connectErr error
	txID       string
	signErr    error
	signed     []ledger.UnsignedCall
	gate       chan struct{}
}

func (a *fakeAgent) Connect(ctx context.Context) (Session, error) {
	if a.connectErr != nil {
		return Session{}, a.connectErr
	}
	return a.session, nil
}

func (a *fakeAgent) Sign(ctx context.Context, call ledger.UnsignedCall) (string, error) {
	if a.gate != nil {
		<-a.gate
	}
	a.signed = append(a.signed, call)
	if a.signErr != nil {
		return "", a.signErr
	}
	return a.txID, nil
}

func newTestManager(t *testing.T, store Store, agent Agent) *Manager {
	t.Helper()
	return NewManager(store, agent, ledger.DefaultContract, nil)
}

func TestInitWithoutStoredSession(t *testing.T) {
	m := newTestManager(t, &MemStore{}, &fakeAgent{})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if m.State() != StateSignedOut {
		t.Fatalf("state = %s, want signed-out", m.State())
	}
}

func TestInitRestoresActiveSession(t *testing.T) {
	store := &MemStore{}
	token := testToken(t, "ST1LENDER", time.Now().Add(time.Hour))
	blob, _ := json.Marshal(storedSession{Phase: phaseActive, Token: token})
	if err := store.Save(blob); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m := newTestManager(t, store, &fakeAgent{})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	sess, ok := m.Session()
	if !ok || sess.Principal != "ST1LENDER" {
		t.Fatalf("session = %+v ok=%v", sess, ok)
	}
}

func TestInitHealsCorruptedBlob(t *testing.T) {
	store := &MemStore{}
	if err := store.Save([]byte("{not json")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m := newTestManager(t, store, &fakeAgent{})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init should self-heal, got %v", err)
	}
	if m.State() != StateSignedOut {
		t.Fatalf("state = %s, want signed-out", m.State())
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatalf("corrupted blob should be cleared wholesale")
	}
}

func TestInitHealsUndecodableToken(t *testing.T) {
	store := &MemStore{}
	blob, _ := json.Marshal(storedSession{Phase: phaseActive, Token: "not-a-jwt"})
	store.Save(blob)

	m := newTestManager(t, store, &fakeAgent{})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init should self-heal, got %v", err)
	}
	if m.State() != StateSignedOut {
		t.Fatalf("state = %s, want signed-out", m.State())
	}
}

func TestInitHealsExpiredToken(t *testing.T) {
	store := &MemStore{}
	token := testToken(t, "ST1LENDER", time.Now().Add(-time.Hour))
	blob, _ := json.Marshal(storedSession{Phase: phaseActive, Token: token})
	store.Save(blob)

	m := newTestManager(t, store, &fakeAgent{})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init should self-heal, got %v", err)
	}
	if m.State() != StateSignedOut {
		t.Fatalf("state = %s, want signed-out", m.State())
	}
}

func TestInitResumesPendingSignIn(t *testing.T) {
	store := &MemStore{}
	token := testToken(t, "ST1LENDER", time.Now().Add(time.Hour))
	blob, _ := json.Marshal(storedSession{Phase: phasePending, Token: token})
	store.Save(blob)

	m := newTestManager(t, store, &fakeAgent{})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateSignedIn {
		if time.Now().After(deadline) {
			t.Fatalf("pending sign-in never resumed, state = %s", m.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess, _ := m.Session()
	if sess.Principal != "ST1LENDER" {
		t.Fatalf("principal = %q", sess.Principal)
	}
}

func TestConnectPersistsAcrossRestart(t *testing.T) {
	store := &MemStore{}
	token := testToken(t, "ST1LENDER", time.Now().Add(time.Hour))
	agent := &fakeAgent{session: Session{Principal: "ST1LENDER", Token: token}}

	m := newTestManager(t, store, agent)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	sess, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess.Principal != "ST1LENDER" {
		t.Fatalf("principal = %q", sess.Principal)
	}

	restarted := newTestManager(t, store, agent)
	if err := restarted.Init(context.Background()); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if restarted.State() != StateSignedIn {
		t.Fatalf("restarted state = %s, want signed-in", restarted.State())
	}
}

func TestConnectRejectionLeavesSignedOut(t *testing.T) {
	m := newTestManager(t, &MemStore{}, &fakeAgent{connectErr: ErrSigningRejected})
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := m.Connect(context.Background()); err != ErrSigningRejected {
		t.Fatalf("err = %v, want ErrSigningRejected", err)
	}
	if m.State() != StateSignedOut {
		t.Fatalf("state = %s, want signed-out", m.State())
	}
}

func TestDisconnectClearsStore(t *testing.T) {
	store := &MemStore{}
	token := testToken(t, "ST1LENDER", time.Now().Add(time.Hour))
	agent := &fakeAgent{session: Session{Principal: "ST1LENDER", Token: token}}

	m := newTestManager(t, store, agent)
	m.Init(context.Background())
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if m.State() != StateSignedOut {
		t.Fatalf("state = %s", m.State())
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatalf("store should be empty after disconnect")
	}
}
