// Package health runs the readiness probes behind /health/ready.
package health

import (
	"context"
	"time"
)

type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ProbeRunner struct {
	probes  []Probe
	timeout time.Duration
}

func NewProbeRunner(timeout time.Duration, probes ...Probe) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{probes: probes, timeout: timeout}
}

// Ready runs every probe and reports per-probe results. All must pass.
func (p *ProbeRunner) Ready(ctx context.Context) (bool, []Result) {
	ready := true
	results := make([]Result, 0, len(p.probes))
	for _, probe := range p.probes {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := probe.Check(probeCtx)
		cancel()
		if err != nil {
			ready = false
			results = append(results, Result{Name: probe.Name, Status: "down", Error: err.Error()})
			continue
		}
		results = append(results, Result{Name: probe.Name, Status: "up"})
	}
	return ready, results
}
