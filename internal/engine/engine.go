package engine

import (
	"context"
	"errors"
	"log"

	"github.com/mohammad-safakhou/switchboard/internal/classify"
	"github.com/mohammad-safakhou/switchboard/internal/dispatch"
	"github.com/mohammad-safakhou/switchboard/internal/quota"
	"github.com/mohammad-safakhou/switchboard/internal/registry"
	"github.com/mohammad-safakhou/switchboard/internal/stream"
	"github.com/mohammad-safakhou/switchboard/internal/synthesize"
	"github.com/mohammad-safakhou/switchboard/internal/telemetry"
)

// Classifier labels a query with routing categories.
type Classifier interface {
	Classify(ctx context.Context, query string) (classify.Prediction, error)
}

// Responder produces the fallback answer and merges agent payloads.
type Responder interface {
	Fallback(ctx context.Context, query string) (string, error)
	Synthesize(ctx context.Context, query, category string, payloads []synthesize.Payload) (string, error)
}

// Dispatcher fans a query out to the matched agents.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request, agents []registry.Descriptor) []dispatch.Result
}

// Query is one caller request entering the pipeline.
type Query struct {
	Text   string
	Caller quota.Caller
}

// Engine runs the query pipeline: quota gate, classification, registry
// lookup, concurrent dispatch, fallback, synthesis. Stage results are
// reported through the caller's stream.Emitter as they become available.
type Engine struct {
	Ledger     quota.Ledger
	Classifier Classifier
	Registry   registry.Registry
	Dispatcher Dispatcher
	Responder  Responder
	Logger     *log.Logger
	Metrics    *telemetry.Metrics
}

func New(ledger quota.Ledger, classifier Classifier, reg registry.Registry, dispatcher Dispatcher, responder Responder, logger *log.Logger, metrics *telemetry.Metrics) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		Ledger:     ledger,
		Classifier: classifier,
		Registry:   reg,
		Dispatcher: dispatcher,
		Responder:  responder,
		Logger:     logger,
		Metrics:    metrics,
	}
}

func (e *Engine) countQuery(outcome string) {
	if e.Metrics != nil {
		e.Metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	}
}

// Process runs one query through the pipeline. The quota gate short-circuits
// before any classification work; every terminal failure emits an error event
// and ends the stream. Per-agent failures and synthesis failures are absorbed
// as data, never as stream termination.
func (e *Engine) Process(ctx context.Context, q Query, em *stream.Emitter) error {
	rem, err := e.Ledger.CheckAndConsume(ctx, q.Caller)
	if err != nil {
		var exceeded quota.ErrExceeded
		if errors.As(err, &exceeded) {
			if e.Metrics != nil {
				e.Metrics.QuotaRejections.Inc()
			}
			e.countQuery("quota_exceeded")
			_ = em.Quota(stream.QuotaData{Remaining: 0, Max: exceeded.Max})
			_ = em.Error(err.Error())
			return err
		}
		e.countQuery("ledger_error")
		_ = em.Error("quota check failed")
		return err
	}
	if err := em.Quota(stream.QuotaData{Remaining: rem.Remaining, Max: rem.Max}); err != nil {
		return err
	}

	pred, err := e.Classifier.Classify(ctx, q.Text)
	if err == nil && len(pred.Categories) == 0 {
		err = errors.New("classifier returned no category")
	}
	if err != nil {
		e.Logger.Printf("classification failed for caller %s: %v", q.Caller.Key, err)
		e.countQuery("classification_error")
		_ = em.Error("could not understand the query")
		return err
	}
	category := pred.Categories[0]
	if err := em.Category(category); err != nil {
		return err
	}

	agents, err := e.findAgents(ctx, pred.Categories, q.Caller.Key)
	if err != nil {
		e.countQuery("registry_error")
		_ = em.Error("agent lookup failed")
		return err
	}

	results := e.Dispatcher.Dispatch(ctx, dispatch.Request{
		Query:           q.Text,
		OutputStructure: pred.OutputStructure,
	}, agents)

	successes := dispatch.Successes(results)
	if len(successes) == 0 {
		answer, fbErr := e.Responder.Fallback(ctx, q.Text)
		if fbErr != nil {
			e.Logger.Printf("fallback failed for caller %s: %v", q.Caller.Key, fbErr)
			e.countQuery("fallback_error")
			_ = em.Error("no agent could answer the query")
			return fbErr
		}
		fb := dispatch.Result{
			AgentID: dispatch.FallbackAgentID,
			Outcome: dispatch.OutcomeSuccess,
			Payload: answer,
		}
		results = append(results, fb)
		successes = []dispatch.Result{fb}
	}
	if err := em.Agents(dispatch.Sorted(results)); err != nil {
		return err
	}

	payloads := make([]synthesize.Payload, 0, len(successes))
	for _, r := range successes {
		payloads = append(payloads, synthesize.Payload{AgentID: r.AgentID, Body: r.Payload})
	}
	final, err := e.Responder.Synthesize(ctx, q.Text, category, payloads)
	if err != nil {
		// Degrade to the first usable raw payload instead of failing the
		// whole query.
		e.Logger.Printf("synthesis failed, degrading to raw payload: %v", err)
		final = successes[0].Payload
	}
	if err := em.Final(final); err != nil {
		return err
	}
	e.countQuery("success")
	return nil
}

// findAgents queries the registry with every predicted category and merges
// the matches, first match per agent id wins.
func (e *Engine) findAgents(ctx context.Context, categories []string, callerID string) ([]registry.Descriptor, error) {
	seen := make(map[string]bool)
	var out []registry.Descriptor
	for _, cat := range categories {
		matches, err := e.Registry.Find(ctx, cat, callerID)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}
