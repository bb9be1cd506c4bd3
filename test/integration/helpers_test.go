package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/app"
	"github.com/surveyforge/surveyforge-backend/internal/config"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIServer assembles the full application against a per-test in-memory
// database and serves it over httptest.
func newAPIServer(t *testing.T) (string, *http.Client) {
	t.Helper()

	cfg := &config.Config{
		Profile:                  "test",
		HTTPAddr:                 "127.0.0.1:0",
		DatabaseURL:              fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		JWTSecret:                "0123456789abcdef0123456789abcdef",
		JWTIssuer:                "surveyforge-test",
		AccessTokenTTL:           "1h",
		PasswordResetTTL:         "15m",
		EmailVerificationTTL:     "1h",
		VerifyStoreTimeout:       time.Second,
		SweepAccessInterval:      time.Hour,
		SweepSpecialInterval:     time.Hour,
		SweepRevokedInterval:     time.Hour,
		SweepInactiveInterval:    time.Hour,
		SweepOveruseInterval:     time.Hour,
		SweepFullInterval:        time.Hour,
		SweepJobTimeout:          time.Minute,
		RevokedRetention:         time.Hour,
		OwnerInactivityThreshold: time.Hour,
		OveruseAccessMax:         100000,
		APIRateLimitRPM:          100000,
		AuthRateLimitRPM:         100000,
		ForgotRateLimitRPM:       100000,
		ShutdownTimeout:          5 * time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := app.New(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("assemble app: %v", err)
	}

	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(srv.Close)
	return srv.URL, srv.Client()
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, bearer string) (*http.Response, apiEnvelope) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %s: %v (%s)", url, err, raw)
		}
	}
	return resp, env
}

func errorCode(env apiEnvelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

type issuedView struct {
	Credential string    `json:"credential"`
	RecordID   string    `json:"record_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type authView struct {
	User struct {
		ID    uint   `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
	Credential issuedView `json:"credential"`
}

func registerAccount(t *testing.T, client *http.Client, baseURL, path, email string, extra map[string]any) authView {
	t.Helper()

	body := map[string]any{
		"name":     "Integration User",
		"email":    email,
		"password": "integration pass",
	}
	for k, v := range extra {
		body[k] = v
	}
	resp, env := doJSON(t, client, http.MethodPost, baseURL+path, body, "")
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d error=%s", resp.StatusCode, errorCode(env))
	}
	var out authView
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode register payload: %v", err)
	}
	if out.Credential.Credential == "" {
		t.Fatal("register should hand back a credential")
	}
	return out
}
