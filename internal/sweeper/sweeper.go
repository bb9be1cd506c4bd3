// Package sweeper hosts the background retention process that bounds the
// credential store: independently scheduled jobs delete expired, long-revoked,
// overused and abandoned records, reporting before/after statistics on every
// run. Jobs are failure-isolated; one bad tick never stops a sibling or the
// next firing.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
)

var ErrAlreadyRunning = errors.New("sweeper already running")

// Store is the slice of the credential repository the sweeper needs.
type Store interface {
	DeleteExpired(ctx context.Context, kinds ...domain.CredentialKind) (int64, error)
	DeleteRevokedOlderThan(ctx context.Context, age time.Duration) (int64, error)
	DeleteOverused(ctx context.Context, thresholds map[domain.CredentialKind]int64) (int64, error)
	DeleteForInactiveOwners(ctx context.Context, inactivity time.Duration) (int64, error)
	Stats(ctx context.Context) (domain.CredentialStats, error)
}

type Config struct {
	AccessInterval   time.Duration
	SpecialInterval  time.Duration
	RevokedInterval  time.Duration
	InactiveInterval time.Duration
	OveruseInterval  time.Duration
	FullInterval     time.Duration
	JobTimeout       time.Duration

	RevokedRetention  time.Duration
	OwnerInactivity   time.Duration
	OveruseThresholds map[domain.CredentialKind]int64
}

func (c Config) normalized() Config {
	def := func(d *time.Duration, fallback time.Duration) {
		if *d <= 0 {
			*d = fallback
		}
	}
	def(&c.AccessInterval, time.Hour)
	def(&c.SpecialInterval, 24*time.Hour)
	def(&c.RevokedInterval, 12*time.Hour)
	def(&c.InactiveInterval, 6*time.Hour)
	def(&c.OveruseInterval, 24*time.Hour)
	def(&c.FullInterval, 7*24*time.Hour)
	def(&c.JobTimeout, 2*time.Minute)
	def(&c.RevokedRetention, 30*24*time.Hour)
	def(&c.OwnerInactivity, 30*24*time.Hour)
	if c.OveruseThresholds == nil {
		c.OveruseThresholds = map[domain.CredentialKind]int64{domain.KindAccess: 1000}
	}
	return c
}

// Job category names, used as result-map keys and metric labels.
const (
	JobExpiredAccess  = "expired_access"
	JobExpiredSpecial = "expired_special"
	JobRevoked        = "revoked"
	JobInactiveOwners = "inactive_owners"
	JobOverused       = "overused"
	JobComprehensive  = "comprehensive"
)

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int64, error)
}

// Sweeper owns the scheduled jobs. The running flag is the only start/stop
// authority; Start while running is an error so firings are never duplicated.
type Sweeper struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(store Store, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, cfg: cfg.normalized(), logger: logger}
}

func (s *Sweeper) jobs() []job {
	return []job{
		{JobExpiredAccess, s.cfg.AccessInterval, func(ctx context.Context) (int64, error) {
			return s.store.DeleteExpired(ctx, domain.KindAccess)
		}},
		{JobExpiredSpecial, s.cfg.SpecialInterval, func(ctx context.Context) (int64, error) {
			return s.store.DeleteExpired(ctx, domain.KindPasswordReset, domain.KindEmailVerification)
		}},
		{JobRevoked, s.cfg.RevokedInterval, func(ctx context.Context) (int64, error) {
			return s.store.DeleteRevokedOlderThan(ctx, s.cfg.RevokedRetention)
		}},
		{JobInactiveOwners, s.cfg.InactiveInterval, func(ctx context.Context) (int64, error) {
			return s.store.DeleteForInactiveOwners(ctx, s.cfg.OwnerInactivity)
		}},
		{JobOverused, s.cfg.OveruseInterval, func(ctx context.Context) (int64, error) {
			return s.store.DeleteOverused(ctx, s.cfg.OveruseThresholds)
		}},
	}
}

// Start launches one ticker goroutine per job plus the comprehensive weekly
// sweep. It fails rather than stacking a second set of timers.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	for _, j := range s.jobs() {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.wg.Add(1)
	go s.loop(ctx, job{JobComprehensive, s.cfg.FullInterval, func(ctx context.Context) (int64, error) {
		counts, err := s.runAllSequential(ctx)
		return sum(counts), err
	}})

	s.logger.Info("retention sweeper started",
		"access_interval", s.cfg.AccessInterval,
		"special_interval", s.cfg.SpecialInterval,
		"revoked_interval", s.cfg.RevokedInterval,
		"inactive_interval", s.cfg.InactiveInterval,
		"overuse_interval", s.cfg.OveruseInterval,
		"full_interval", s.cfg.FullInterval,
	)
	return nil
}

// Stop halts all timers and waits for in-flight runs. Safe to call more than
// once and before Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) loop(ctx context.Context, j job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx, j)
		}
	}
}

// runScheduled wraps one firing with stats snapshots, a timeout and panic
// containment so the loop survives anything the job does.
func (s *Sweeper) runScheduled(ctx context.Context, j job) {
	before, beforeErr := s.snapshot(ctx)
	deleted, err := s.runOne(ctx, j)
	if err != nil {
		observability.RecordSweeperJob(ctx, j.name, "error", 0)
		s.logger.Error("sweeper job failed", "job", j.name, "error", err)
		return
	}
	after, afterErr := s.snapshot(ctx)
	attrs := []any{"job", j.name, "deleted", deleted}
	if beforeErr == nil && afterErr == nil {
		attrs = append(attrs, "before_total", before.TotalCount(), "after_total", after.TotalCount())
	}
	observability.RecordSweeperJob(ctx, j.name, "success", deleted)
	s.logger.Info("sweeper job completed", attrs...)
}

func (s *Sweeper) runOne(ctx context.Context, j job) (deleted int64, err error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweeper job %s panicked: %v", j.name, r)
		}
	}()
	return j.run(runCtx)
}

func (s *Sweeper) snapshot(ctx context.Context) (domain.CredentialStats, error) {
	statsCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	return s.store.Stats(statsCtx)
}

// CleanupResult reports one manual or comprehensive run: per-category deleted
// counts and the store aggregates on either side.
type CleanupResult struct {
	Counts map[string]int64        `json:"counts"`
	Total  int64                   `json:"total"`
	Before *domain.CredentialStats `json:"before,omitempty"`
	After  *domain.CredentialStats `json:"after,omitempty"`
}

// TriggerManualCleanup runs every individually scheduled delete concurrently.
// A failing category logs and contributes zero; the rest proceed.
func (s *Sweeper) TriggerManualCleanup(ctx context.Context) CleanupResult {
	result := CleanupResult{Counts: map[string]int64{}}
	if before, err := s.snapshot(ctx); err == nil {
		result.Before = &before
	}

	var mu sync.Mutex
	g, groupCtx := errgroup.WithContext(ctx)
	for _, j := range s.jobs() {
		g.Go(func() error {
			deleted, err := s.runOne(groupCtx, j)
			if err != nil {
				observability.RecordSweeperJob(groupCtx, j.name, "error", 0)
				s.logger.Error("manual cleanup category failed", "job", j.name, "error", err)
				deleted = 0
			} else {
				observability.RecordSweeperJob(groupCtx, j.name, "success", deleted)
			}
			mu.Lock()
			result.Counts[j.name] = deleted
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Total = sum(result.Counts)
	if after, err := s.snapshot(ctx); err == nil {
		result.After = &after
	}
	s.logger.Info("manual cleanup completed", "total", result.Total)
	return result
}

// TriggerComprehensiveSweep runs the weekly routine on demand: every category
// sequentially, partial failures aggregated as zero.
func (s *Sweeper) TriggerComprehensiveSweep(ctx context.Context) CleanupResult {
	result := CleanupResult{}
	if before, err := s.snapshot(ctx); err == nil {
		result.Before = &before
	}
	counts, _ := s.runAllSequential(ctx)
	result.Counts = counts
	result.Total = sum(counts)
	if after, err := s.snapshot(ctx); err == nil {
		result.After = &after
	}
	s.logger.Info("comprehensive sweep completed", "total", result.Total)
	return result
}

// runAllSequential is the body of the comprehensive sweep. The returned error
// is the first failure, reported for metrics only; remaining categories still
// run.
func (s *Sweeper) runAllSequential(ctx context.Context) (map[string]int64, error) {
	counts := map[string]int64{}
	var firstErr error
	for _, j := range s.jobs() {
		deleted, err := s.runOne(ctx, j)
		if err != nil {
			s.logger.Error("comprehensive sweep category failed", "job", j.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			deleted = 0
		}
		counts[j.name] = deleted
	}
	return counts, firstErr
}

// Stats exposes the store aggregate for operational endpoints.
func (s *Sweeper) Stats(ctx context.Context) (domain.CredentialStats, error) {
	return s.snapshot(ctx)
}

func sum(counts map[string]int64) int64 {
	var n int64
	for _, v := range counts {
		n += v
	}
	return n
}
