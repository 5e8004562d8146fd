// Package oauthflows implements the device-code and PKCE authorization
// flows used to connect LLM providers: short-lived, state-token-keyed
// sessions tracked in memory, with auth-profile persistence on success.
package oauthflows

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

// SessionStatus is the state-machine position of a pending authorization.
type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusSuccess SessionStatus = "success"
	StatusError   SessionStatus = "error"
)

const sessionTTL = 10 * time.Minute

// FlowKind distinguishes the two supported authorization mechanisms.
type FlowKind string

const (
	FlowDevice FlowKind = "device"
	FlowPKCE   FlowKind = "pkce"
)

// Session is one in-flight authorization attempt.
type Session struct {
	State       string
	Provider    string
	Kind        FlowKind
	Status      SessionStatus
	Verifier    string // PKCE code_verifier
	Challenge   string // PKCE code_challenge (S256)
	DeviceCode  string
	UserCode    string
	VerifyURL   string
	ErrorReason string
	Profile     map[string]interface{}
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (s *Session) expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// ProfileStore persists the resulting auth profile on success.
type ProfileStore interface {
	SaveProfile(provider string, profile map[string]interface{}) error
}

// DeviceStarter begins a provider's device-code flow against its
// authorization server.
type DeviceStarter interface {
	StartDevice(provider string) (deviceCode, userCode, verifyURL string, pollInterval time.Duration, err error)
	PollDevice(provider, deviceCode string) (profile map[string]interface{}, pending bool, err error)
}

// PKCECompleter exchanges a PKCE authorization code for a profile.
type PKCECompleter interface {
	CompletePKCE(provider, code, verifier string) (profile map[string]interface{}, err error)
}

// ConfigUpdater records, in the gateway's config, which auth-profile a
// provider's OAuth flow last produced (§4.L: "the config is updated to
// reference that profile"). Satisfied by *configstore.Store.
type ConfigUpdater interface {
	SetProviderProfile(provider, authProfileKey string) error
}

// Publisher broadcasts a session-lifecycle event to connected clients.
// Satisfied by *gateway.Server.
type Publisher interface {
	Broadcast(event string, payload interface{})
}

// Manager tracks pending sessions keyed by state token.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	profiles ProfileStore
	devices  DeviceStarter
	pkce     PKCECompleter
	configs  ConfigUpdater
	pub      Publisher
	now      func() time.Time
}

// New returns a Manager wired to the given provider-side implementations.
// configs and pub may be nil, in which case the config-reference update and
// the oauth.updated broadcast are skipped.
func New(profiles ProfileStore, devices DeviceStarter, pkce PKCECompleter, configs ConfigUpdater, pub Publisher) *Manager {
	return &Manager{
		sessions: map[string]*Session{},
		profiles: profiles,
		devices:  devices,
		pkce:     pkce,
		configs:  configs,
		pub:      pub,
		now:      time.Now,
	}
}

// finishSuccess applies the success-path side effects common to Poll and
// Complete: persisting the provider->profile config reference, broadcasting
// oauth.updated, and erasing the in-memory session (§4.L, scenario 6). Must
// be called with m.mu held.
func (m *Manager) finishSuccess(sess *Session) {
	if m.configs != nil {
		if err := m.configs.SetProviderProfile(sess.Provider, sess.Provider); err != nil {
			sess.Status = StatusError
			sess.ErrorReason = err.Error()
			return
		}
	}
	if m.pub != nil {
		m.pub.Broadcast("oauth.updated", map[string]interface{}{"provider": sess.Provider, "ok": true})
	}
	delete(m.sessions, sess.State)
}

func (m *Manager) newState() string { return uuid.NewString() }

// StartDevice begins a device-code flow for provider, returning the state
// token the client must poll with.
func (m *Manager) StartDevice(provider string) (*Session, *protocol.Error) {
	deviceCode, userCode, verifyURL, _, err := m.devices.StartDevice(provider)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrUnavailable, err.Error())
	}
	now := m.now()
	sess := &Session{
		State:      m.newState(),
		Provider:   provider,
		Kind:       FlowDevice,
		Status:     StatusPending,
		DeviceCode: deviceCode,
		UserCode:   userCode,
		VerifyURL:  verifyURL,
		CreatedAt:  now,
		ExpiresAt:  now.Add(sessionTTL),
	}
	m.mu.Lock()
	m.sessions[sess.State] = sess
	m.mu.Unlock()
	return sess, nil
}

// StartPKCE begins a PKCE flow, generating a verifier/challenge pair.
func (m *Manager) StartPKCE(provider string) (*Session, *protocol.Error) {
	verifier, err := randomURLSafe(32)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrInternal, "generate verifier: "+err.Error())
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	now := m.now()
	sess := &Session{
		State:     m.newState(),
		Provider:  provider,
		Kind:      FlowPKCE,
		Status:    StatusPending,
		Verifier:  verifier,
		Challenge: challenge,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	m.mu.Lock()
	m.sessions[sess.State] = sess
	m.mu.Unlock()
	return sess, nil
}

// Poll advances a device-code session by querying the provider.
func (m *Manager) Poll(state string) (*Session, *protocol.Error) {
	sess, aerr := m.lookup(state)
	if aerr != nil {
		return nil, aerr
	}
	if sess.Kind != FlowDevice {
		return nil, protocol.NewError(protocol.ErrInvalidRequest, "session is not a device flow")
	}
	if sess.Status != StatusPending {
		return sess, nil
	}

	profile, pending, err := m.devices.PollDevice(sess.Provider, sess.DeviceCode)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err != nil:
		sess.Status = StatusError
		sess.ErrorReason = err.Error()
	case pending:
		// stays StatusPending
	default:
		sess.Status = StatusSuccess
		sess.Profile = profile
		if m.profiles != nil {
			if saveErr := m.profiles.SaveProfile(sess.Provider, profile); saveErr != nil {
				sess.Status = StatusError
				sess.ErrorReason = saveErr.Error()
			}
		}
		if sess.Status == StatusSuccess {
			m.finishSuccess(sess)
		}
	}
	return sess, nil
}

// Complete finishes a PKCE flow using the authorization code from the
// redirect callback.
func (m *Manager) Complete(state, code string) (*Session, *protocol.Error) {
	sess, aerr := m.lookup(state)
	if aerr != nil {
		return nil, aerr
	}
	if sess.Kind != FlowPKCE {
		return nil, protocol.NewError(protocol.ErrInvalidRequest, "session is not a PKCE flow")
	}
	if sess.Status != StatusPending {
		return sess, nil
	}

	profile, err := m.pkce.CompletePKCE(sess.Provider, code, sess.Verifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		sess.Status = StatusError
		sess.ErrorReason = err.Error()
		return sess, nil
	}
	sess.Status = StatusSuccess
	sess.Profile = profile
	if m.profiles != nil {
		if saveErr := m.profiles.SaveProfile(sess.Provider, profile); saveErr != nil {
			sess.Status = StatusError
			sess.ErrorReason = saveErr.Error()
		}
	}
	if sess.Status == StatusSuccess {
		m.finishSuccess(sess)
	}
	return sess, nil
}

func (m *Manager) lookup(state string) (*Session, *protocol.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[state]
	if !ok {
		return nil, protocol.NewError(protocol.ErrNotFound, "unknown oauth state")
	}
	if sess.expired(m.now()) {
		delete(m.sessions, state)
		return nil, protocol.NewError(protocol.ErrNotFound, "oauth session expired")
	}
	return sess, nil
}

// Sweep discards sessions past their TTL; callers run this periodically
// (e.g. the heartbeat tick) to bound memory.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for state, sess := range m.sessions {
		if sess.expired(now) {
			delete(m.sessions, state)
			removed++
		}
	}
	return removed
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
