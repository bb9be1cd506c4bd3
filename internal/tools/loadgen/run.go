// Package loadgen drives synthetic traffic at a running instance so the
// retention and rate-limit paths see realistic load during development.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

type target struct {
	method string
	path   string
	body   string
}

// profiles maps a traffic shape name to the endpoints it exercises. The auth
// profile hammers login to feed the abuse guard; mixed looks like a small
// production workload.
var profiles = map[string][]target{
	"auth": {
		{http.MethodPost, "/api/v1/auth/login", `{"email":"load@example.com","password":"wrong-password"}`},
		{http.MethodPost, "/api/v1/auth/password/forgot", `{"email":"load@example.com"}`},
	},
	"surveys": {
		{http.MethodGet, "/api/v1/surveys/", ""},
		{http.MethodGet, "/api/v1/surveys/categories", ""},
		{http.MethodGet, "/api/v1/surveys/1", ""},
	},
	"mixed": {
		{http.MethodGet, "/health/live", ""},
		{http.MethodGet, "/api/v1/surveys/", ""},
		{http.MethodPost, "/api/v1/auth/login", `{"email":"load@example.com","password":"wrong-password"}`},
		{http.MethodGet, "/api/v1/me", ""},
	},
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	targets := profiles[normalizeProfile(cfg.Profile)]
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rng := rand.New(rand.NewSource(cfg.Seed))
	var rngMu sync.Mutex
	pick := func() target {
		rngMu.Lock()
		defer rngMu.Unlock()
		return targets[rng.Intn(len(targets))]
	}

	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()

	var mu sync.Mutex
	result := Result{StatusClasses: map[string]int{}}
	record := func(status int, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		result.TotalRequests++
		if failed {
			result.Failures++
			return
		}
		result.StatusClasses[classifyStatusClass(status)]++
	}

	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
		}
		select {
		case sem <- struct{}{}:
		default:
			continue
		}
		wg.Add(1)
		go func(tg target) {
			defer wg.Done()
			defer func() { <-sem }()
			var body *bytes.Reader
			if tg.body != "" {
				body = bytes.NewReader([]byte(tg.body))
			} else {
				body = bytes.NewReader(nil)
			}
			req, err := http.NewRequestWithContext(runCtx, tg.method, cfg.BaseURL+tg.path, body)
			if err != nil {
				record(0, true)
				return
			}
			if tg.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := client.Do(req)
			if err != nil {
				record(0, true)
				return
			}
			_ = resp.Body.Close()
			record(resp.StatusCode, false)
		}(pick())
	}
	wg.Wait()

	if result.TotalRequests == 0 {
		return result, fmt.Errorf("no requests issued against %s", cfg.BaseURL)
	}
	return result, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := profiles[p]; !ok {
		return "mixed"
	}
	return p
}
