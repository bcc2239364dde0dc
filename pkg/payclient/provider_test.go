package payclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/payclient/pkg/slogx"
)

const (
	testClientID     = "client-id"
	testClientSecret = "client-secret"
)

// fakeProvider serves the token endpoint and a catch-all API under
// /std/ and /alt/ base paths.
type fakeProvider struct {
	*httptest.Server

	tokenCalls atomic.Int32
	apiCalls   atomic.Int32

	mu       sync.Mutex
	token    http.HandlerFunc
	api      http.HandlerFunc
	lastAPI  *http.Request
	lastBody []byte
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{}
	p.token = p.issueToken(3600)
	p.api = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "PAY-1", "state": "created"})
	}

	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/v1/oauth2/token") {
			p.tokenCalls.Add(1)
			p.mu.Lock()
			h := p.token
			p.mu.Unlock()
			h(w, r)
			return
		}

		body, _ := io.ReadAll(r.Body)
		p.apiCalls.Add(1)
		p.mu.Lock()
		p.lastAPI = r.Clone(context.Background())
		p.lastBody = body
		h := p.api
		p.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(p.Close)
	return p
}

// issueToken answers valid client-credentials requests with a token named
// after the family path and call count, e.g. "std-1".
func (p *fakeProvider) issueToken(expiresIn int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testClientID || pass != testClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":             "invalid_client",
				"error_description": "Client Authentication failed",
			})
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
			return
		}

		family := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")[0]
		body := map[string]any{
			"access_token": fmt.Sprintf("%s-%d", family, p.tokenCalls.Load()),
			"token_type":   "Bearer",
		}
		if expiresIn > 0 {
			body["expires_in"] = expiresIn
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (p *fakeProvider) setToken(h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = h
}

func (p *fakeProvider) setAPI(h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.api = h
}

func (p *fakeProvider) last() (*http.Request, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAPI, p.lastBody
}

func (p *fakeProvider) config() Config {
	return Config{
		ClientID:         testClientID,
		ClientSecret:     testClientSecret,
		BaseURL:          p.URL + "/std/",
		AlternateBaseURL: p.URL + "/alt",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testClock is a settable unix-second clock.
type testClock struct {
	sec atomic.Int64
}

func newTestClock(sec int64) *testClock {
	c := &testClock{}
	c.sec.Store(sec)
	return c
}

func (c *testClock) Now() time.Time { return time.Unix(c.sec.Load(), 0) }
func (c *testClock) Set(sec int64) { c.sec.Store(sec) }
func (c *testClock) Advance(sec int64) { c.sec.Add(sec) }

// memStore is a minimal Store for tests in this package.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Load(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Record{}, s.loadErr
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *memStore) Save(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.records[key] = rec
	return nil
}

func (s *memStore) get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

var errStoreDown = errors.New("store down")

func newTestManager(t *testing.T, cfg Config, opts ...Option) *TokenManager {
	t.Helper()
	base := []Option{WithLogger(slogx.Discard())}
	return NewTokenManager(cfg, append(base, opts...)...)
}
