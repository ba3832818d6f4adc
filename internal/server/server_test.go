package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/account"
	"github.com/zgpcy/cloudspend/internal/collector"
	"github.com/zgpcy/cloudspend/internal/config"
	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
	"github.com/zgpcy/cloudspend/internal/store/memory"
)

// testLogger creates a logger for testing
func testLogger() *logger.Logger {
	return logger.New("error") // Use error level to suppress test output
}

// unreachableStore wraps a memory store whose Ping always fails
type unreachableStore struct {
	*memory.Store
}

func (unreachableStore) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	server   *Server
	store    *memory.Store
	accounts *account.Service
	spend    *collector.SpendCollector
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	f := factory.Default(provider.Deps{})
	accounts := account.NewService(st.Accounts(), f, testLogger())
	spend := collector.NewSpendCollector(testLogger())
	reg := prometheus.NewRegistry()
	reg.MustRegister(spend)

	srv := NewServer(&config.Config{HTTPPort: 8080}, Deps{
		Store:    st,
		Accounts: accounts,
		Factory:  f,
		Gatherer: reg,
	}, testLogger())
	return fixture{server: srv, store: st, accounts: accounts, spend: spend}
}

func (f fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	resp := w.Result()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	resp.Body.Close()
	return resp, string(body)
}

// TestNewServer tests server creation
func TestNewServer(t *testing.T) {
	f := newFixture(t)
	if f.server.server.Addr != ":8080" {
		t.Errorf("Addr: got %v, want :8080", f.server.server.Addr)
	}
}

// TestServerTimeouts verifies the timeout defaults
func TestServerTimeouts(t *testing.T) {
	f := newFixture(t)
	if f.server.server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("ReadTimeout: got %v, want %v", f.server.server.ReadTimeout, DefaultReadTimeout)
	}
	if f.server.server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("WriteTimeout: got %v, want %v", f.server.server.WriteTimeout, DefaultWriteTimeout)
	}
	if f.server.server.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout: got %v, want %v", f.server.server.IdleTimeout, DefaultIdleTimeout)
	}
}

// TestHandleHealth tests the /health endpoint
func TestHandleHealth(t *testing.T) {
	resp, body := newFixture(t).get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type: got %v, want application/json", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, `"status":"healthy"`) {
		t.Errorf("Body: got %v, want healthy status", body)
	}
}

func TestHandleReady(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}

	f.server.deps.Store = unreachableStore{f.store}
	resp, body := f.get(t, "/ready")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if !strings.Contains(body, "connection refused") {
		t.Errorf("Body should carry the ping error, got %v", body)
	}
}

func TestHandleProviders(t *testing.T) {
	resp, body := newFixture(t).get(t, "/providers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}

	var got providersResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(got.Providers) != 10 {
		t.Errorf("Expected 10 providers, got %d", len(got.Providers))
	}
	for _, p := range got.PublicFields {
		if p.Type == provider.ParamSecret {
			t.Errorf("public field %q is a secret", p.Key)
		}
	}
}

func TestHandleAccounts_Redacted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.accounts.Create(ctx, "sigma", "cloudsigma", map[string]string{
		"username": "ops@example.com",
		"password": "hunter2",
		"endpoint": "zrh",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, body := f.get(t, "/accounts")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if strings.Contains(body, "hunter2") || strings.Contains(body, "password") {
		t.Errorf("secret leaked in response: %s", body)
	}
	if !strings.Contains(body, "ops@example.com") {
		t.Errorf("public field missing from response: %s", body)
	}
}

func TestHandleAccount_Routes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.accounts.Create(ctx, "heroku", "heroku", map[string]string{"api_key": "k"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.store.Billing().Create(ctx, store.Billing{
		AccountID: a.ID,
		Period:    "2024-05",
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Total:     decimal.RequireFromString("19.99"),
	}); err != nil {
		t.Fatalf("Create billing: %v", err)
	}

	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/accounts/1", http.StatusOK, `"provider":"heroku"`},
		{"/accounts/1/billing", http.StatusOK, `"total":"19.99"`},
		{"/accounts/1/metrics", http.StatusOK, `[]`},
		{"/accounts/99", http.StatusNotFound, "not found"},
		{"/accounts/99/billing", http.StatusNotFound, "not found"},
		{"/accounts/abc", http.StatusBadRequest, "positive integer"},
		{"/accounts/0/metrics", http.StatusBadRequest, "positive integer"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := f.get(t, tt.path)
			if resp.StatusCode != tt.status {
				t.Errorf("Status code: got %v, want %v", resp.StatusCode, tt.status)
			}
			if !strings.Contains(body, tt.want) {
				t.Errorf("Body %s should contain %s", body, tt.want)
			}
		})
	}
}

// TestMetricsEndpoint tests the /metrics endpoint
func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.spend.RecordBilling(
		store.Account{ID: 1, Name: "prod", Provider: "ovh", Currency: "EUR"},
		store.Billing{Period: "2024-05", Total: decimal.NewFromInt(42)},
	)

	resp, body := f.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code: got %v, want %v", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type should contain text/plain, got %v", resp.Header.Get("Content-Type"))
	}
	for _, expected := range []string{"cloudspend_billing_total", `provider="ovh"`, `period="2024-05"`, "cloudspend_build_info"} {
		if !strings.Contains(body, expected) {
			t.Errorf("Metrics should contain %q", expected)
		}
	}
}

// TestHTTPMethods_OnlyGET tests that only GET method is accepted
func TestHTTPMethods_OnlyGET(t *testing.T) {
	f := newFixture(t)
	endpoints := []string{"/health", "/ready", "/metrics", "/providers", "/accounts"}
	methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

	for _, endpoint := range endpoints {
		for _, method := range methods {
			req := httptest.NewRequest(method, endpoint, nil)
			w := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(w, req)
			if w.Result().StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("%s %s returned %d, want 405", method, endpoint, w.Result().StatusCode)
			}
		}
	}
}

// TestConcurrency_MultipleRequests tests concurrent HTTP requests
func TestConcurrency_MultipleRequests(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, path := range []string{"/health", "/ready", "/accounts", "/metrics"} {
				req := httptest.NewRequest(http.MethodGet, path, nil)
				w := httptest.NewRecorder()
				f.server.Handler().ServeHTTP(w, req)
				if w.Code != http.StatusOK {
					t.Errorf("GET %s returned %d", path, w.Code)
				}
			}
		}()
	}
	wg.Wait()
}
