// Package dual combines attestation evidence from the two VMs that make up
// a deployment (the hub's own VM and the AI-serving peer) into a single
// trust verdict.
package dual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scrtlabs/attesthub/internal/baseline"
	"github.com/scrtlabs/attesthub/internal/cache"
	"github.com/scrtlabs/attesthub/internal/fetch"
	"github.com/scrtlabs/attesthub/internal/logx"
	"github.com/scrtlabs/attesthub/internal/quote"
)

// ErrUnknownVM is returned when an identity has no registry entry.
var ErrUnknownVM = errors.New("vm is not configured")

// QuoteFetcher is the fetch capability the coordinator consumes. Satisfied
// by *fetch.Fetcher; tests substitute their own.
type QuoteFetcher interface {
	Fetch(ctx context.Context, vm, endpoint string) (*fetch.Result, error)
}

// Recorder receives the outcome of every attestation attempt for
// diagnostics. Optional.
type Recorder interface {
	RecordAttestation(vm, status, strategy, errMsg string)
}

// Options configure endpoint discovery for VMs without an explicit
// endpoint.
type Options struct {
	GatewayHost string
	AttestPort  int
	AttestPath  string
}

// Coordinator runs fetch+parse+validate pipelines per VM and merges two of
// them into a Result. The cache is injected so tests get a fresh one.
type Coordinator struct {
	registry *baseline.Registry
	fetcher  QuoteFetcher
	cache    *cache.Cache
	recorder Recorder
	opts     Options

	selfVM string
	peerVM string
}

func NewCoordinator(registry *baseline.Registry, fetcher QuoteFetcher, c *cache.Cache, selfVM, peerVM string, opts Options) *Coordinator {
	if opts.AttestPort == 0 {
		opts.AttestPort = 29343
	}
	if opts.AttestPath == "" {
		opts.AttestPath = "/cpu.html"
	}
	return &Coordinator{
		registry: registry,
		fetcher:  fetcher,
		cache:    c,
		opts:     opts,
		selfVM:   selfVM,
		peerVM:   peerVM,
	}
}

// SetRecorder attaches an attestation outcome recorder.
func (c *Coordinator) SetRecorder(r Recorder) { c.recorder = r }

// Slot is one VM's half of a dual attestation. Exactly one of Verdict or
// Error is meaningful; a missing side is recorded, never treated as passed.
type Slot struct {
	Identity     string              `json:"vm_identity"`
	Verdict      *baseline.Verdict   `json:"verdict,omitempty"`
	Measurements *quote.Measurements `json:"measurements,omitempty"`
	VerifiedAt   time.Time           `json:"verified_at,omitzero"`
	Error        string              `json:"error,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
}

// Result pairs both slots. OverallVerified is true only when both sides are
// present and individually passed.
type Result struct {
	CorrelationID   string    `json:"correlation_id"`
	SelfVM          Slot      `json:"self_vm"`
	PeerVM          Slot      `json:"peer_vm"`
	OverallVerified bool      `json:"overall_verified"`
	Timestamp       time.Time `json:"timestamp"`
}

// Attest runs the fetch+parse+validate pipeline for one VM, consulting the
// cache first.
func (c *Coordinator) Attest(ctx context.Context, identity string) (cache.Entry, error) {
	if entry, ok := c.cache.Get(identity); ok {
		logx.Debugf("dual: cache hit for %s (verified_at=%s)", identity, entry.VerifiedAt.Format(time.RFC3339))
		return entry, nil
	}

	vm, ok := c.registry.VM(identity)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownVM, identity)
		c.record(identity, "unknown_vm", "", err)
		return cache.Entry{}, err
	}

	endpoint, err := fetch.ResolveEndpoint(ctx,
		fetch.Explicit(vm.Endpoint),
		fetch.Gateway(c.opts.GatewayHost, c.opts.AttestPort, c.opts.AttestPath),
		fetch.ExternalIP(nil, c.opts.AttestPort, c.opts.AttestPath, nil),
	)
	if err != nil {
		c.record(identity, "unreachable", "", err)
		return cache.Entry{}, err
	}

	res, err := c.fetcher.Fetch(ctx, identity, endpoint)
	if err != nil {
		c.record(identity, "unreachable", "", err)
		return cache.Entry{}, err
	}

	parser := quote.NewParser(quote.Strategy(vm.ParseStrategy), vm.RestParserURL, nil)
	m, err := parser.Parse(ctx, res.QuoteHex, res.CertFingerprint)
	if err != nil {
		c.record(identity, "parse_failed", "", err)
		return cache.Entry{}, err
	}

	verdict := c.registry.Validate(m, identity)
	status := "failed"
	if verdict.Passed {
		status = "verified"
	}
	c.record(identity, status, string(m.ParsedBy), nil)

	c.cache.Put(identity, verdict, m)
	entry, _ := c.cache.Get(identity)
	return entry, nil
}

// Dual fetches and validates both configured VMs concurrently. One side
// failing never aborts the other or the overall call; the failure lands in
// that slot.
func (c *Coordinator) Dual(ctx context.Context) *Result {
	result := &Result{
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
	}

	var wg sync.WaitGroup
	run := func(identity string, slot *Slot) {
		defer wg.Done()
		slot.Identity = identity
		entry, err := c.Attest(ctx, identity)
		if err != nil {
			slot.Error = err.Error()
			if kind := fetch.KindOf(err); kind != "" {
				slot.ErrorKind = string(kind)
			}
			return
		}
		slot.Verdict = entry.Verdict
		slot.Measurements = entry.Measurements
		slot.VerifiedAt = entry.VerifiedAt
	}

	wg.Add(2)
	go run(c.selfVM, &result.SelfVM)
	go run(c.peerVM, &result.PeerVM)
	wg.Wait()

	result.OverallVerified = result.SelfVM.Verdict != nil && result.SelfVM.Verdict.Passed &&
		result.PeerVM.Verdict != nil && result.PeerVM.Verdict.Passed

	logx.Infof("dual attestation %s: self=%s peer=%s overall=%v",
		result.CorrelationID, slotStatus(result.SelfVM), slotStatus(result.PeerVM), result.OverallVerified)
	return result
}

func slotStatus(s Slot) string {
	switch {
	case s.Error != "":
		return "error"
	case s.Verdict != nil && s.Verdict.Passed:
		return "verified"
	default:
		return "failed"
	}
}

func (c *Coordinator) record(vm, status, strategy string, err error) {
	if err != nil {
		logx.Warnf("attest %s: %s: %v", vm, status, err)
	}
	if c.recorder == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.recorder.RecordAttestation(vm, status, strategy, msg)
}
