// Package sweepmon is the operator tool for the retention subsystem: it
// reads credential store statistics, fires the manual cleanup and
// comprehensive sweep triggers, and can generate traffic to exercise them.
package sweepmon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/surveyforge/surveyforge-backend/internal/tools/common"
	"github.com/surveyforge/surveyforge-backend/internal/tools/loadgen"
	"github.com/surveyforge/surveyforge-backend/internal/tools/ui"
)

type options struct {
	baseURL string
	token   string
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "sweepmon", Short: "Inspect and drive credential retention"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SWEEPMON_TOKEN"), "admin bearer credential")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newCleanupCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newLoadCommand(opts))
	return cmd
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print credential store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sweepmon stats", func(ctx context.Context) ([]string, error) {
				body, err := call(ctx, opts, http.MethodGet, "/api/v1/admin/credentials/stats")
				if err != nil {
					return nil, err
				}
				return statsDetails(body)
			})
		},
	}
}

func newCleanupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run every retention category once, concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sweepmon cleanup", func(ctx context.Context) ([]string, error) {
				body, err := call(ctx, opts, http.MethodPost, "/api/v1/admin/credentials/cleanup")
				if err != nil {
					return nil, err
				}
				return cleanupDetails(body)
			})
		},
	}
}

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the comprehensive sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sweepmon sweep", func(ctx context.Context) ([]string, error) {
				body, err := call(ctx, opts, http.MethodPost, "/api/v1/admin/credentials/sweep")
				if err != nil {
					return nil, err
				}
				return cleanupDetails(body)
			})
		},
	}
}

func newLoadCommand(opts *options) *cobra.Command {
	var profile string
	var duration time.Duration
	var rps int
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Generate traffic so retention has something to do",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sweepmon load", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     profile,
					Duration:    duration,
					RPS:         rps,
					Concurrency: 6,
					Seed:        time.Now().UnixNano(),
				})
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("requests=%d failures=%d", res.TotalRequests, res.Failures)}
				classes := make([]string, 0, len(res.StatusClasses))
				for class := range res.StatusClasses {
					classes = append(classes, class)
				}
				sort.Strings(classes)
				for _, class := range classes {
					details = append(details, fmt.Sprintf("%s=%d", class, res.StatusClasses[class]))
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "mixed", "traffic profile: mixed, auth, surveys")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().IntVar(&rps, "rps", 20, "requests per second")
	return cmd
}

func execute(opts *options, title string, fn func(context.Context) ([]string, error)) error {
	var details []string
	var err error
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		details, err = fn(ctx)
		common.PrintCIResult(err == nil, title, details, err)
	} else {
		details, err = ui.Run(title, fn)
	}
	if err != nil {
		os.Exit(1)
	}
	_ = details
	return nil
}

func call(ctx context.Context, opts *options, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, opts.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(body))
	}
	return body, nil
}

func statsDetails(body []byte) ([]string, error) {
	var envelope struct {
		Data map[string]map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	sections := make([]string, 0, len(envelope.Data))
	for section := range envelope.Data {
		sections = append(sections, section)
	}
	sort.Strings(sections)
	var details []string
	for _, section := range sections {
		kinds := envelope.Data[section]
		names := make([]string, 0, len(kinds))
		for kind := range kinds {
			names = append(names, kind)
		}
		sort.Strings(names)
		for _, kind := range names {
			details = append(details, fmt.Sprintf("%s.%s=%d", section, kind, kinds[kind]))
		}
	}
	return details, nil
}

func cleanupDetails(body []byte) ([]string, error) {
	var envelope struct {
		Data struct {
			Counts map[string]int64 `json:"counts"`
			Total  int64            `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode cleanup result: %w", err)
	}
	details := []string{fmt.Sprintf("total=%d", envelope.Data.Total)}
	names := make([]string, 0, len(envelope.Data.Counts))
	for name := range envelope.Data.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		details = append(details, fmt.Sprintf("%s=%d", name, envelope.Data.Counts[name]))
	}
	return details, nil
}
