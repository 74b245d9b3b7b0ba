package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mohammad-safakhou/switchboard/internal/registry"
	"github.com/mohammad-safakhou/switchboard/internal/signing"
	"github.com/mohammad-safakhou/switchboard/internal/telemetry"
)

// Outcome classifies how a single agent call ended.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeAuthRejected   Outcome = "auth_rejected"
)

// FallbackAgentID marks the synthetic result produced by the fallback
// responder when no real agent succeeded.
const FallbackAgentID = "__fallback__"

// Request is the body sent to every matched agent.
type Request struct {
	Query           string `json:"query"`
	OutputStructure string `json:"output_structure,omitempty"`
}

// Result is produced exactly once per dispatched agent per query and never
// mutated afterwards.
type Result struct {
	AgentID  string        `json:"agent_id"`
	AgentURL string        `json:"agent_url"`
	Outcome  Outcome       `json:"result"`
	Payload  string        `json:"payload,omitempty"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"-"`
}

// MarshalJSON reports latency in whole milliseconds on the wire.
func (r Result) MarshalJSON() ([]byte, error) {
	type result Result
	return json.Marshal(struct {
		result
		LatencyMS int64 `json:"latency_ms"`
	}{result(r), r.Latency.Milliseconds()})
}

// Envelope header names carried on outbound agent calls.
const (
	HeaderRequestID = "X-Switchboard-Request-Id"
	HeaderIssuer    = "X-Switchboard-Issuer"
	HeaderTimestamp = "X-Switchboard-Timestamp"
	HeaderChecksum  = "X-Switchboard-Checksum"
	HeaderSignature = "X-Switchboard-Signature"
)

// Dispatcher fans a query out to all matched agents concurrently. Each call
// is independently signed; all calls share one deadline of Timeout, so one
// slow or failing agent never delays or aborts its siblings.
type Dispatcher struct {
	Client        *http.Client
	Signer        signing.Signer
	Timeout       time.Duration
	MaxConcurrent int
	Logger        *log.Logger
	Metrics       *telemetry.Metrics
}

func New(signer signing.Signer, timeout time.Duration, maxConcurrent int, logger *log.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags)
	}
	return &Dispatcher{
		Client:        &http.Client{},
		Signer:        signer,
		Timeout:       timeout,
		MaxConcurrent: maxConcurrent,
		Logger:        logger,
		Metrics:       metrics,
	}
}

// Dispatch issues one call per agent, all started concurrently under a
// semaphore, and returns once every call has responded, timed out or failed.
// Results are in completion order; use Sorted for the deterministic view.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, agents []registry.Descriptor) []Result {
	if len(agents) == 0 {
		return nil
	}

	// One shared deadline bounds the whole fan-out. Calls queued behind the
	// semaphore spend their wait inside it, so total dispatch time never
	// grows with the number of slow agents.
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]Result, 0, len(agents))
	)
	sem := make(chan struct{}, d.maxConcurrent())

	for _, agent := range agents {
		wg.Add(1)
		go func(a registry.Descriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := d.call(ctx, req, a)
			if d.Metrics != nil {
				d.Metrics.DispatchOutcomes.WithLabelValues(string(res.Outcome)).Inc()
				d.Metrics.DispatchLatency.Observe(res.Latency.Seconds())
			}
			if res.Outcome != OutcomeSuccess {
				d.Logger.Printf("agent %s: %s (%s)", res.AgentID, res.Outcome, res.Error)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(agent)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) maxConcurrent() int {
	if d.MaxConcurrent > 0 {
		return d.MaxConcurrent
	}
	return 8
}

func (d *Dispatcher) call(ctx context.Context, req Request, agent registry.Descriptor) Result {
	res := Result{AgentID: agent.ID, AgentURL: agent.URL}
	start := time.Now()
	defer func() { res.Latency = time.Since(start) }()

	body, err := json.Marshal(req)
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Error = err.Error()
		return res
	}

	// Sign immediately before sending so the timestamp and request id are
	// fresh for every attempt.
	env, err := d.Signer.Sign(body)
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Error = fmt.Sprintf("signing failed: %v", err)
		return res
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.URL, bytes.NewReader(env.Body))
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Error = err.Error()
		return res
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderRequestID, env.RequestID)
	httpReq.Header.Set(HeaderIssuer, env.IssuerID)
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(env.Timestamp, 10))
	httpReq.Header.Set(HeaderChecksum, env.Checksum)
	httpReq.Header.Set(HeaderSignature, env.Signature)

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			res.Outcome = OutcomeTimeout
			res.Error = "deadline exceeded"
			return res
		}
		res.Outcome = OutcomeTransportError
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Error = err.Error()
		return res
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		res.Outcome = OutcomeAuthRejected
		res.Error = fmt.Sprintf("agent rejected signature (status %d)", resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.Outcome = OutcomeSuccess
		res.Payload = string(payload)
	default:
		res.Outcome = OutcomeTransportError
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return res
}

// Sorted returns a copy ordered by agent id, the stable order reported to
// consumers.
func Sorted(results []Result) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Successes filters results with a usable payload, preserving order.
func Successes(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Outcome == OutcomeSuccess {
			out = append(out, r)
		}
	}
	return out
}
