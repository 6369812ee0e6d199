package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mattjoyce/worldclone/internal/config"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
)

type fakePresence struct {
	mu     sync.Mutex
	loaded map[string]bool
	who    map[string]map[string]bool
}

func newFakePresence(loaded ...string) *fakePresence {
	f := &fakePresence{loaded: map[string]bool{}, who: map[string]map[string]bool{}}
	for _, id := range loaded {
		f.loaded[id] = true
	}
	return f
}

func (f *fakePresence) Join(identity, who string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded[identity] {
		return fmt.Errorf("join %s: %w", identity, lifecycle.ErrNotLoaded)
	}
	if f.who[identity] == nil {
		f.who[identity] = map[string]bool{}
	}
	f.who[identity][who] = true
	return nil
}

func (f *fakePresence) Leave(identity, who string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.who[identity], who)
}

func (f *fakePresence) Occupants(identity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.who[identity])
}

type recordedEvent struct {
	typ  string
	data any
}

type fakePublisher struct {
	events []recordedEvent
}

func (p *fakePublisher) Publish(eventType string, data any) {
	p.events = append(p.events, recordedEvent{eventType, data})
}

const testSecret = "test-secret"

func newTestServer(p Presence, pub Publisher) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Secret: testSecret, MaxBodySize: 256}, p, pub, logger)
}

func post(t *testing.T, s *Server, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, DefaultPath, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(DefaultSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandlePresence_JoinAndLeave(t *testing.T) {
	p := newFakePresence("design_alice")
	pub := &fakePublisher{}
	s := newTestServer(p, pub)

	body := []byte(`{"event":"join","world":"design_alice","player":"bob"}`)
	rec := post(t, s, body, Signature(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp PresenceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Occupants != 1 || resp.Ignored {
		t.Errorf("join response = %+v, want 1 occupant", resp)
	}

	body = []byte(`{"event":"leave","world":"design_alice","player":"bob"}`)
	rec = post(t, s, body, Signature(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("leave status = %d, want 200", rec.Code)
	}
	if got := p.Occupants("design_alice"); got != 0 {
		t.Errorf("occupants after leave = %d, want 0", got)
	}

	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	for _, ev := range pub.events {
		if ev.typ != EventOccupants {
			t.Errorf("event type = %q, want %q", ev.typ, EventOccupants)
		}
	}
}

func TestHandlePresence_UnloadedWorldIgnored(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestServer(newFakePresence(), pub)

	body := []byte(`{"event":"join","world":"design","player":"bob"}`)
	rec := post(t, s, body, Signature(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ignored":true`) {
		t.Errorf("body = %s, want ignored", rec.Body.String())
	}
	if len(pub.events) != 0 {
		t.Errorf("published %d events for an ignored world", len(pub.events))
	}
}

func TestHandlePresence_Rejections(t *testing.T) {
	valid := []byte(`{"event":"join","world":"design_alice","player":"bob"}`)
	tests := []struct {
		name      string
		body      []byte
		signature string
		want      int
	}{
		{"missing signature", valid, "", http.StatusForbidden},
		{"wrong signature", valid, Signature(valid, "nope"), http.StatusForbidden},
		{"too large", bytes.Repeat([]byte("x"), 300), "sha256=00", http.StatusRequestEntityTooLarge},
		{"bad json", []byte(`{`), Signature([]byte(`{`), testSecret), http.StatusBadRequest},
		{"unknown event", []byte(`{"event":"wave","world":"w","player":"p"}`), "", http.StatusBadRequest},
		{"missing player", []byte(`{"event":"join","world":"w"}`), "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.signature
			if sig == "" && tt.want == http.StatusBadRequest {
				sig = Signature(tt.body, testSecret)
			}
			s := newTestServer(newFakePresence("design_alice"), nil)
			rec := post(t, s, tt.body, sig)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusForbidden && !strings.Contains(rec.Body.String(), `"forbidden"`) {
				t.Errorf("403 body = %s, want generic message", rec.Body.String())
			}
		})
	}
}

func TestHandlePresence_OnlyConfiguredPath(t *testing.T) {
	s := newTestServer(newFakePresence(), nil)
	req := httptest.NewRequest(http.MethodPost, "/elsewhere", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.WebhooksConfig{Listen: ":0", Secret: "s", MaxBodySize: "2KB"})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if cfg.MaxBodySize != 2000 {
		t.Errorf("MaxBodySize = %d, want 2000", cfg.MaxBodySize)
	}
	if cfg.Path != DefaultPath || cfg.SignatureHeader != DefaultSignatureHeader {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	if _, err := FromConfig(config.WebhooksConfig{Secret: "s", MaxBodySize: "lots"}); err == nil {
		t.Error("FromConfig() accepted an unparseable size")
	}
	if _, err := FromConfig(config.WebhooksConfig{Listen: ":0"}); err == nil {
		t.Error("FromConfig() accepted a missing secret")
	}
}
