// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/batching"
	"github.com/switchboard-ai/switchboard/internal/perf"
	"github.com/switchboard-ai/switchboard/internal/provider"
	"github.com/switchboard-ai/switchboard/internal/quality"
	"github.com/switchboard-ai/switchboard/internal/resilience"
	"github.com/switchboard-ai/switchboard/internal/routing"
)

// Deps are the collaborators the orchestrator wires together. Registry,
// Modules, SLA, Balancer, Validator, Breakers, Retrier and Fallbacks are
// required; the rest are optional stages.
type Deps struct {
	Registry  *provider.Registry
	Modules   *ModuleRegistry
	SLA       *routing.SLARouter
	Balancer  *routing.LoadBalancer
	Batcher   *batching.AdaptiveBatcher
	Validator *quality.Validator
	Breakers  *resilience.BreakerSet
	Retrier   *resilience.Retrier
	Tracker   *perf.Tracker
	Cost      *perf.CostMonitor
	Context   ContextProvider
	Reasoning ReasoningEngine
	Fallbacks map[string]string
}

// Orchestrator runs the per-request pipeline: context, routing, reasoning,
// module dispatch, batching, validation, provenance and recording, with the
// static fallback table absorbing pipeline failures.
type Orchestrator struct {
	deps Deps
}

// New builds an orchestrator over the given collaborators.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Route processes one query end to end. Callers always get a genuine
// response, a fallback response marked as such, or an error when even the
// fallback table is exhausted.
func (o *Orchestrator) Route(ctx context.Context, q *Query) (resp *Response, err error) {
	start := time.Now()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Pipeline panic for %s: %v", q.ID, r)
			resp, err = o.fallback(ctx, q, fmt.Errorf("pipeline panic: %v", r))
		}
		if resp != nil {
			resp.Latency = time.Since(start)
		}
	}()

	resp, err = o.pipeline(ctx, q, start)
	if err != nil {
		log.Warnf("Pipeline failed for %s, trying fallback: %v", q.ID, err)
		resp, err = o.fallback(ctx, q, err)
	}
	return resp, err
}

func (o *Orchestrator) pipeline(ctx context.Context, q *Query, start time.Time) (*Response, error) {
	// Stage 1: situational context. Failure degrades the context, not the
	// request.
	var bundle *ContextBundle
	if o.deps.Context != nil {
		var cerr error
		bundle, cerr = o.deps.Context.GetContext(ctx, q.Content)
		if cerr != nil {
			log.Warnf("Context fetch failed for %s: %v", q.ID, cerr)
			bundle = nil
		}
	}

	// Stage 2: routing. Elevated priority goes through the SLA path,
	// everything else through the balanced path.
	var providerName, tier, reason string
	if q.HighPriority {
		d, err := o.deps.SLA.SelectProvider(routing.RouteQuery{
			Content:      q.Content,
			Intent:       q.Intent,
			Context:      q.Context,
			HighPriority: true,
		})
		if err != nil {
			return nil, err
		}
		providerName, tier, reason = d.Provider, d.Tier, d.Reason
	} else {
		p, err := o.deps.Balancer.SelectProvider(q.Content)
		if err != nil {
			return nil, err
		}
		providerName, tier = p, routing.TierBalanced
	}

	// Stage 3: optional reasoning, which may prefer a different provider.
	// Without a reasoning engine, an exact successful replay from the
	// tracker serves as the preference instead.
	if o.deps.Reasoning == nil && o.deps.Tracker != nil {
		fingerprint := perf.Fingerprint(q.Content, q.Intent, []string{q.Context})
		if rec, ok := o.deps.Tracker.ReplaySource(ctx, fingerprint); ok && rec != providerName {
			if st, serr := o.deps.Registry.State(rec); serr == nil && st == provider.StateReady {
				log.Debugf("Replay overrides provider for %s: %s -> %s", q.ID, providerName, rec)
				providerName = rec
			}
		}
	}
	if o.deps.Reasoning != nil {
		out, rerr := o.deps.Reasoning.Process(ctx, ReasoningInput{
			Query:      q,
			Context:    bundle,
			Preference: providerName,
		})
		switch {
		case rerr != nil:
			log.Warnf("Reasoning failed for %s: %v", q.ID, rerr)
		case out != nil && out.Source != "" && out.Source != providerName:
			if _, serr := o.deps.Registry.State(out.Source); serr == nil {
				log.Debugf("Reasoning overrides provider for %s: %s -> %s", q.ID, providerName, out.Source)
				providerName = out.Source
			}
		}
	}

	// Stage 4: module selection by content category, with the enriched
	// context attached to a copy of the query.
	category := Categorize(q)
	module, ok := o.deps.Modules.Resolve(category)
	if !ok {
		return nil, fmt.Errorf("no module bound to category %s", category)
	}
	enriched := q.clone()
	if bundle != nil {
		if enriched.Metadata == nil {
			enriched.Metadata = make(map[string]any)
		}
		enriched.Metadata["context_matches"] = len(bundle.Matches)
	}

	task := &Task{
		Query:    enriched,
		Provider: providerName,
		Tier:     tier,
		Context:  bundle,
		Invoke:   o.invoker(providerName, enriched),
	}

	// Stage 5 runs inside the module via Invoke. Stage 6: validate, with
	// exactly one strict-mode retry.
	resp, err := module.Process(ctx, task)
	if err != nil {
		return nil, err
	}
	verdict := o.deps.Validator.Validate(resp.Content)
	strictRetried := false
	if !verdict.Passed {
		log.Infof("Validation failed for %s (%v), retrying strict", q.ID, verdict.Checks)
		strictRetried = true
		strict := enriched.clone()
		strict.StrictQuality = true
		strictTask := &Task{
			Query:    strict,
			Provider: providerName,
			Tier:     tier,
			Context:  bundle,
			Invoke:   o.invoker(providerName, strict),
		}
		retryResp, rerr := module.Process(ctx, strictTask)
		if rerr != nil {
			log.Warnf("Strict retry failed for %s: %v", q.ID, rerr)
		} else {
			resp = retryResp
			verdict = o.deps.Validator.Validate(resp.Content)
		}
	}
	resp.QualityPassed = verdict.Passed
	resp.Checks = verdict.Checks

	// Stage 7: provenance.
	resp.RequestID = q.ID
	resp.Provenance = map[string]any{
		"provider":     providerName,
		"tier":         tier,
		"module":       module.Name(),
		"category":     category,
		"routed_at":    start.UTC().Format(time.RFC3339Nano),
		"strict_retry": strictRetried,
	}
	if reason != "" {
		resp.Provenance["reason"] = reason
	}

	// Stage 8: fire-and-forget recording off the response path.
	go o.record(q, resp, providerName, time.Since(start), verdict.Passed)

	return resp, nil
}

// invoker builds the provider invocation hook for one query: batched when
// the query opts in and the provider supports it, single call otherwise.
// The strict-quality retry always bypasses batching.
func (o *Orchestrator) invoker(providerName string, q *Query) InvokeFunc {
	return func(ctx context.Context, prompt, params string) (*provider.Result, error) {
		if q.AllowBatching && !q.StrictQuality && o.deps.Batcher != nil && o.deps.Registry.SupportsBatching(providerName) {
			priority := 0
			if q.HighPriority {
				priority = 1
			}
			return o.invokeBatched(ctx, providerName, prompt, params, q.ID, priority)
		}
		return o.executeSingle(ctx, providerName, prompt, params, q.ID)
	}
}

func (o *Orchestrator) executeSingle(ctx context.Context, providerName, prompt, params, requestID string) (*provider.Result, error) {
	var result *provider.Result
	err := o.deps.Retrier.Do(ctx, func() error {
		v, err := o.deps.Breakers.Execute(providerName, func() (any, error) {
			return o.deps.Registry.Execute(ctx, providerName, &provider.Request{
				Prompt:    prompt,
				Params:    params,
				RequestID: requestID,
			})
		})
		if err != nil {
			return err
		}
		result = v.(*provider.Result)
		return nil
	})
	return result, err
}

type batchOutcome struct {
	result *provider.Result
	err    error
}

// batchItem is the batcher payload for one pending prompt.
type batchItem struct {
	prompt    string
	params    string
	provider  string
	requestID string
	out       chan batchOutcome
}

// invokeBatched submits the prompt to the batcher and waits for its
// outcome. The caller holding the first slot of the released batch
// dispatches on behalf of everyone in it.
func (o *Orchestrator) invokeBatched(ctx context.Context, providerName, prompt, params, requestID string, priority int) (*provider.Result, error) {
	item := &batchItem{
		prompt:    prompt,
		params:    params,
		provider:  providerName,
		requestID: requestID,
		out:       make(chan batchOutcome, 1),
	}

	batch, err := o.deps.Batcher.Add(ctx, item, priority)
	if err != nil {
		return nil, err
	}
	if batch[0].Payload.(*batchItem) == item {
		o.dispatchBatch(ctx, batch)
	}

	select {
	case outcome := <-item.out:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatchBatch executes a released batch, grouped by provider and
// parameters. Each multi-item group becomes one provider batch call whose
// results are matched back to the members positionally, so every caller
// receives the answer to its own prompt. Single-item groups go out as
// normal single calls.
func (o *Orchestrator) dispatchBatch(ctx context.Context, batch []*batching.Pending) {
	groups := make(map[string][]*batchItem)
	var order []string
	for _, pending := range batch {
		item := pending.Payload.(*batchItem)
		key := item.provider + "\x00" + item.params
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], item)
	}

	for _, key := range order {
		items := groups[key]
		if len(items) == 1 {
			item := items[0]
			result, err := o.executeSingle(ctx, item.provider, item.prompt, item.params, item.requestID)
			item.out <- batchOutcome{result: result, err: err}
			continue
		}

		prompts := make([]string, len(items))
		for i, item := range items {
			prompts[i] = item.prompt
		}
		providerName := items[0].provider

		var results []*provider.Result
		err := o.deps.Retrier.Do(ctx, func() error {
			v, berr := o.deps.Breakers.Execute(providerName, func() (any, error) {
				return o.deps.Registry.ExecuteBatch(ctx, providerName, prompts, items[0].params)
			})
			if berr != nil {
				return berr
			}
			results = v.([]*provider.Result)
			return nil
		})
		if err == nil && len(results) != len(items) {
			err = fmt.Errorf("provider %s returned %d results for %d prompts", providerName, len(results), len(items))
		}
		if err != nil {
			for _, item := range items {
				item.out <- batchOutcome{err: err}
			}
			continue
		}
		for i, item := range items {
			item.out <- batchOutcome{result: results[i]}
		}
	}
}

// record feeds telemetry and learning after the response left the pipeline.
// Everything here is best-effort.
func (o *Orchestrator) record(q *Query, resp *Response, providerName string, latency time.Duration, success bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Interaction recording panic for %s: %v", q.ID, r)
		}
	}()

	fingerprint := perf.Fingerprint(q.Content, q.Intent, []string{q.Context})
	if o.deps.Tracker != nil && !resp.Fallback {
		o.deps.Tracker.Record(providerName, latency, success, fingerprint)
	}
	if o.deps.Cost != nil && !resp.Fallback {
		inTokens := perf.EstimateTokens(q.Content)
		outTokens := perf.EstimateTokens(fmt.Sprint(resp.Content))
		o.deps.Cost.RecordCall(context.Background(), providerName, providerName, inTokens, outTokens)
	}
	if o.deps.Context != nil {
		meta := map[string]any{
			"tier":     resp.Tier,
			"module":   resp.Module,
			"fallback": resp.Fallback,
		}
		if err := o.deps.Context.ProcessInteraction(context.Background(), q, resp, meta); err != nil {
			log.Debugf("Interaction recording failed for %s: %v", q.ID, err)
		}
	}
}

// fallback maps the query's category through the static fallback table to a
// degraded handler. Missing entries fall through to the generic module;
// only a missing generic module fails the request.
func (o *Orchestrator) fallback(ctx context.Context, q *Query, cause error) (*Response, error) {
	category := Categorize(q)
	name, ok := o.deps.Fallbacks[category]
	if !ok {
		name = "generic"
	}
	module, found := o.deps.Modules.Get(name)
	if !found {
		return nil, fmt.Errorf("%w %s: %v", ErrNoFallback, category, cause)
	}

	resp, err := module.Process(ctx, &Task{Query: q, Tier: "fallback"})
	if err != nil {
		return nil, fmt.Errorf("fallback module %s failed: %v (original: %v)", name, err, cause)
	}
	resp.RequestID = q.ID
	resp.Fallback = true
	resp.Provenance = map[string]any{
		"module": name,
		"cause":  cause.Error(),
	}
	go o.record(q, resp, name, 0, false)
	return resp, nil
}
