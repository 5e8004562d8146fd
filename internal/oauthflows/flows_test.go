package oauthflows

import (
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

type fakeProfiles struct {
	saved map[string]map[string]interface{}
}

func (f *fakeProfiles) SaveProfile(provider string, profile map[string]interface{}) error {
	if f.saved == nil {
		f.saved = map[string]map[string]interface{}{}
	}
	f.saved[provider] = profile
	return nil
}

type fakeDevice struct {
	pollsBeforeSuccess int
	polled             int
	failAfter          bool
}

func (f *fakeDevice) StartDevice(provider string) (string, string, string, time.Duration, error) {
	return "devcode", "ABCD-1234", "https://example.test/device", 1 * time.Second, nil
}

func (f *fakeDevice) PollDevice(provider, deviceCode string) (map[string]interface{}, bool, error) {
	f.polled++
	if f.failAfter && f.polled > f.pollsBeforeSuccess {
		return nil, false, errors.New("access_denied")
	}
	if f.polled <= f.pollsBeforeSuccess {
		return nil, true, nil
	}
	return map[string]interface{}{"accessToken": "tok"}, false, nil
}

type fakePKCE struct{ err error }

func (f *fakePKCE) CompletePKCE(provider, code, verifier string) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"code": code, "verifier": verifier}, nil
}

func TestDeviceFlowPollsUntilSuccess(t *testing.T) {
	profiles := &fakeProfiles{}
	dev := &fakeDevice{pollsBeforeSuccess: 2}
	m := New(profiles, dev, nil, nil, nil)

	sess, aerr := m.StartDevice("anthropic")
	if aerr != nil {
		t.Fatalf("start: %v", aerr)
	}
	if sess.UserCode != "ABCD-1234" {
		t.Fatalf("unexpected user code: %s", sess.UserCode)
	}

	for i := 0; i < 2; i++ {
		s, aerr := m.Poll(sess.State)
		if aerr != nil {
			t.Fatalf("poll: %v", aerr)
		}
		if s.Status != StatusPending {
			t.Fatalf("expected pending at poll %d, got %s", i, s.Status)
		}
	}

	final, aerr := m.Poll(sess.State)
	if aerr != nil {
		t.Fatalf("final poll: %v", aerr)
	}
	if final.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", final.Status, final.ErrorReason)
	}
	if profiles.saved["anthropic"]["accessToken"] != "tok" {
		t.Fatalf("profile not persisted: %+v", profiles.saved)
	}
}

func TestPKCEFlowCompletes(t *testing.T) {
	m := New(&fakeProfiles{}, nil, &fakePKCE{}, nil, nil)
	sess, aerr := m.StartPKCE("openai")
	if aerr != nil {
		t.Fatalf("start: %v", aerr)
	}
	if sess.Challenge == "" || sess.Verifier == "" {
		t.Fatalf("expected verifier/challenge pair")
	}

	final, aerr := m.Complete(sess.State, "auth-code-123")
	if aerr != nil {
		t.Fatalf("complete: %v", aerr)
	}
	if final.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", final.Status)
	}
}

func TestUnknownStateNotFound(t *testing.T) {
	m := New(&fakeProfiles{}, nil, &fakePKCE{}, nil, nil)
	_, aerr := m.Complete("nonexistent", "code")
	if aerr == nil || aerr.Code != protocol.ErrNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", aerr)
	}
}

func TestExpiredSessionNotFound(t *testing.T) {
	m := New(&fakeProfiles{}, nil, &fakePKCE{}, nil, nil)
	base := time.Now()
	m.now = func() time.Time { return base }
	sess, _ := m.StartPKCE("openai")

	m.now = func() time.Time { return base.Add(sessionTTL + time.Minute) }
	_, aerr := m.Complete(sess.State, "code")
	if aerr == nil || aerr.Code != protocol.ErrNotFound {
		t.Fatalf("expected expired session to be NOT_FOUND, got %v", aerr)
	}
}

type fakeConfigUpdater struct {
	provider string
	profile  string
}

func (f *fakeConfigUpdater) SetProviderProfile(provider, authProfileKey string) error {
	f.provider = provider
	f.profile = authProfileKey
	return nil
}

type fakePublisher struct {
	event   string
	payload interface{}
}

func (f *fakePublisher) Broadcast(event string, payload interface{}) {
	f.event = event
	f.payload = payload
}

func TestCompleteSuccessUpdatesConfigBroadcastsAndErasesSession(t *testing.T) {
	configs := &fakeConfigUpdater{}
	pub := &fakePublisher{}
	m := New(&fakeProfiles{}, nil, &fakePKCE{}, configs, pub)

	sess, aerr := m.StartPKCE("openai")
	if aerr != nil {
		t.Fatalf("start: %v", aerr)
	}

	if _, aerr := m.Complete(sess.State, "auth-code-123"); aerr != nil {
		t.Fatalf("complete: %v", aerr)
	}

	if configs.provider != "openai" || configs.profile != "openai" {
		t.Fatalf("expected config updated to reference openai's profile, got %+v", configs)
	}
	if pub.event != "oauth.updated" {
		t.Fatalf("expected oauth.updated broadcast, got %q", pub.event)
	}
	payload, ok := pub.payload.(map[string]interface{})
	if !ok || payload["provider"] != "openai" || payload["ok"] != true {
		t.Fatalf("unexpected broadcast payload: %+v", pub.payload)
	}

	if _, aerr := m.Poll(sess.State); aerr == nil || aerr.Code != protocol.ErrNotFound {
		t.Fatalf("expected session to be erased after success, got %v", aerr)
	}
}
