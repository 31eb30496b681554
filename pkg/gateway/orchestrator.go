// Package gateway drives a client request through account selection,
// translation, upstream delivery, and stream reassembly, retrying and
// failing over per the layered retry protocol: endpoints within an
// account, accounts within the pool, and at most one model fallback.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"orbital-hq/callisto/pkg/catalog"
	"orbital-hq/callisto/pkg/config"
	"orbital-hq/callisto/pkg/pool"
	"orbital-hq/callisto/pkg/signature"
	"orbital-hq/callisto/pkg/stream"
	"orbital-hq/callisto/pkg/telemetry/logging"
	"orbital-hq/callisto/pkg/telemetry/metrics"
	"orbital-hq/callisto/pkg/translate"
	"orbital-hq/callisto/pkg/upstream"
	"orbital-hq/callisto/pkg/usage"
)

// GenerateClient is the slice of the upstream API the orchestrator uses
// to deliver requests.
type GenerateClient interface {
	Endpoints() []string
	Generate(ctx context.Context, endpoint, accessToken string, body []byte) ([]byte, error)
	StreamGenerate(ctx context.Context, endpoint, accessToken string, body []byte) (io.ReadCloser, error)
	CountTokens(ctx context.Context, endpoint, accessToken string, body []byte) (int64, error)
}

// Orchestrator owns the retry and failover loop for one process.
type Orchestrator struct {
	retry      config.RetryConfig
	fallback   config.FallbackConfig
	pool       *pool.Pool
	client     GenerateClient
	translator *translate.Translator
	signatures *signature.Cache
	catalog    *catalog.Catalog
	collector  *metrics.Collector
	ledger     *usage.Ledger
	log        *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the orchestrator. ledger may be nil.
func NewOrchestrator(
	retry config.RetryConfig,
	fallback config.FallbackConfig,
	p *pool.Pool,
	client GenerateClient,
	translator *translate.Translator,
	signatures *signature.Cache,
	cat *catalog.Catalog,
	collector *metrics.Collector,
	ledger *usage.Ledger,
	log *logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		retry:      retry,
		fallback:   fallback,
		pool:       p,
		client:     client,
		translator: translator,
		signatures: signatures,
		catalog:    cat,
		collector:  collector,
		ledger:     ledger,
		log:        log.Component("orchestrator"),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stream serves a streaming request, handing events to emit in protocol
// order. If a failure occurs after the first event has been emitted, the
// returned error wraps ErrStreamStarted and the caller must terminate
// the stream with an in-band error event instead of an HTTP status.
func (o *Orchestrator) Stream(ctx context.Context, req *translate.MessagesRequest, emit func(stream.Event) error) error {
	model, ok := o.catalog.Resolve(req.Model)
	if !ok {
		return unknownModelError(req.Model)
	}
	_, err := o.run(ctx, req, model, SessionID(req), emit, o.fallback.Enabled)
	return err
}

// Complete serves a non-streaming request.
func (o *Orchestrator) Complete(ctx context.Context, req *translate.MessagesRequest) (*stream.Message, error) {
	model, ok := o.catalog.Resolve(req.Model)
	if !ok {
		return nil, unknownModelError(req.Model)
	}
	return o.run(ctx, req, model, SessionID(req), nil, o.fallback.Enabled)
}

// CountTokens resolves the request against one account and asks the
// upstream for a token count. This is a lighter loop than run: no stream
// to reassemble, no rotation, no fallback; selection failures and
// translation errors surface the same way as for generation.
func (o *Orchestrator) CountTokens(ctx context.Context, req *translate.MessagesRequest) (int64, error) {
	model, ok := o.catalog.Resolve(req.Model)
	if !ok {
		return 0, unknownModelError(req.Model)
	}
	if total, _ := o.pool.Size(); total == 0 {
		return 0, &TerminalError{Status: 503, Type: "api_error", Message: "no accounts configured"}
	}

	sessionID := SessionID(req)
	email, err := o.selectAccount(ctx, model, sessionID, nil)
	if err != nil {
		return 0, err
	}

	body, token, outcome, err := o.prepare(ctx, req, model, email, sessionID)
	if outcome != outcomeServed {
		return 0, err
	}

	var lastErr error
	for _, endpoint := range o.client.Endpoints() {
		n, err := o.client.CountTokens(ctx, endpoint, token, body)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return 0, &TerminalError{
		Status:  502,
		Type:    "api_error",
		Message: fmt.Sprintf("count_tokens failed: %v", lastErr),
	}
}

func unknownModelError(model string) error {
	return &TerminalError{
		Status:  404,
		Type:    "not_found_error",
		Message: fmt.Sprintf("model: %s", model),
	}
}

// run drives the state machine for one model. A nil emit selects the
// non-streaming path. allowFallback gates the single model-fallback
// restart.
func (o *Orchestrator) run(ctx context.Context, req *translate.MessagesRequest, model catalog.Model, sessionID string, emit func(stream.Event) error, allowFallback bool) (*stream.Message, error) {
	started := time.Now()
	committed := false
	guarded := emit
	if emit != nil {
		guarded = func(ev stream.Event) error {
			committed = true
			return emit(ev)
		}
	}

	msg, err := o.attemptLoop(ctx, req, model, sessionID, guarded, &committed)
	if err == nil {
		o.observe(model.ID, "success", started)
		return msg, nil
	}

	var fatal *TerminalError
	if errors.As(err, &fatal) && fatal.Retryable() && allowFallback && !committed {
		if next, ok := o.fallbackModel(model.ID); ok {
			o.log.InfoContext(ctx, "restarting with fallback model",
				"from", model.ID, "to", next.ID)
			o.collector.RecordFallback(model.ID, next.ID)
			return o.run(ctx, req, next, sessionID, emit, false)
		}
	}
	if committed {
		err = fmt.Errorf("%w: %w", ErrStreamStarted, err)
	}
	o.observe(model.ID, "error", started)
	return nil, err
}

func (o *Orchestrator) fallbackModel(modelID string) (catalog.Model, bool) {
	mapped, ok := o.fallback.Models[modelID]
	if !ok {
		return catalog.Model{}, false
	}
	return o.catalog.Resolve(mapped)
}

func (o *Orchestrator) observe(modelID, status string, started time.Time) {
	o.collector.RecordRequest(modelID, status, time.Since(started))
}

// attemptOutcome classifies how one account attempt ended.
type attemptOutcome int

const (
	outcomeServed attemptOutcome = iota
	outcomeRotate
	outcomeFatal
)

// attemptLoop rotates accounts until one serves the request or the
// attempt ceiling is reached. Accounts already tried in this logical
// request are excluded from re-selection while untried ones remain, so
// every usable account gets one attempt before any repeat.
func (o *Orchestrator) attemptLoop(ctx context.Context, req *translate.MessagesRequest, model catalog.Model, sessionID string, emit func(stream.Event) error, committed *bool) (*stream.Message, error) {
	total, usable := o.pool.Size()
	if total == 0 {
		return nil, &TerminalError{Status: 503, Type: "api_error", Message: "no accounts configured"}
	}
	maxAttempts := o.retry.MaxAttempts
	if usable+1 > maxAttempts {
		maxAttempts = usable + 1
	}

	var lastErr error
	var tried []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		email, err := o.selectAccount(ctx, model, sessionID, tried)
		if err != nil {
			if lastErr != nil {
				return nil, o.exhausted(model, attempt-1, lastErr)
			}
			return nil, err
		}
		tried = append(tried, email)

		outcome, msg, err := o.tryAccount(ctx, req, model, email, sessionID, emit, attempt, committed)
		switch outcome {
		case outcomeServed:
			return msg, nil
		case outcomeFatal:
			return nil, err
		default:
			lastErr = err
			o.collector.RecordAttempt(model.ID, "rotate")
		}
	}
	return nil, o.exhausted(model, maxAttempts, lastErr)
}

// selectAccount implements the SelectAccount state: one bounded wait,
// one optimistic cooldown reset, then give up. tried lists accounts
// already attempted in this logical request.
func (o *Orchestrator) selectAccount(ctx context.Context, model catalog.Model, sessionID string, tried []string) (string, error) {
	sel := o.pool.Select(model.ID, sessionID, tried...)
	if sel.Account != nil {
		o.collector.RecordSelection(sel.Strategy)
		return sel.Account.Email, nil
	}
	if sel.Wait == 0 {
		return "", o.poolExhausted(model)
	}
	if sel.Wait > o.retry.WaitCeiling {
		o.collector.RecordPoolExhausted(model.ID)
		return "", &TerminalError{
			Status:     429,
			Type:       "rate_limit_error",
			Message:    fmt.Sprintf("all accounts cooling down for %s", model.ID),
			RetryAfter: sel.Wait,
		}
	}

	o.log.DebugContext(ctx, "waiting for account cooldown", "model", model.ID, "wait", sel.Wait)
	if err := o.sleep(ctx, sel.Wait); err != nil {
		return "", err
	}
	o.pool.ClearExpiredLimits()

	sel = o.pool.Select(model.ID, sessionID, tried...)
	if sel.Account != nil {
		o.collector.RecordSelection(sel.Strategy)
		return sel.Account.Email, nil
	}

	// The computed wait elapsed but the pool still reports exhaustion.
	// Clear every cooldown for the model and try once more.
	o.pool.ResetAllRateLimits(model.ID)
	sel = o.pool.Select(model.ID, sessionID, tried...)
	if sel.Account != nil {
		o.collector.RecordSelection(sel.Strategy)
		return sel.Account.Email, nil
	}
	return "", o.poolExhausted(model)
}

func (o *Orchestrator) poolExhausted(model catalog.Model) error {
	o.collector.RecordPoolExhausted(model.ID)
	return &TerminalError{
		Status:     429,
		Type:       "rate_limit_error",
		Message:    fmt.Sprintf("no account available for %s", model.ID),
		RetryAfter: o.pool.MinWaitTime(model.ID),
	}
}

func (o *Orchestrator) exhausted(model catalog.Model, attempts int, lastErr error) error {
	msg := fmt.Sprintf("all attempts failed for %s after %d rotation(s)", model.ID, attempts)
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	return &TerminalError{
		Status:     503,
		Type:       "overloaded_error",
		Message:    msg,
		RetryAfter: o.pool.MinWaitTime(model.ID),
	}
}

// tryAccount implements TryEndpoint and Stream for one account. A nil
// emit selects the non-streaming delivery. Once an event has reached
// the client, any failure ends the request: a retry would open a second
// message on the same stream.
func (o *Orchestrator) tryAccount(ctx context.Context, req *translate.MessagesRequest, model catalog.Model, email, sessionID string, emit func(stream.Event) error, attempt int, committed *bool) (attemptOutcome, *stream.Message, error) {
	body, token, outcome, err := o.prepare(ctx, req, model, email, sessionID)
	if outcome != outcomeServed {
		return outcome, nil, err
	}

	var earliestReset time.Time
	sawRateLimit := false
	var lastErr error

	endpoints := o.client.Endpoints()
	for i, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			return outcomeFatal, nil, err
		}

		var msg *stream.Message
		var deliverErr error
		if emit != nil {
			deliverErr = o.deliverStream(ctx, model, email, sessionID, endpoint, token, body, emit)
		} else {
			msg, deliverErr = o.deliverComplete(ctx, model, email, sessionID, endpoint, token, body)
		}
		if deliverErr == nil {
			o.pool.RecordSuccess(email)
			o.collector.RecordAttempt(model.ID, "served")
			return outcomeServed, msg, nil
		}
		lastErr = deliverErr

		if committed != nil && *committed {
			var netErr *upstream.NetworkError
			if errors.As(deliverErr, &netErr) {
				o.pool.RecordFailure(email)
			}
			o.log.WarnContext(ctx, "stream failed after first event, terminating",
				"account", email, "endpoint", endpoint, "error", deliverErr)
			return outcomeFatal, nil, deliverErr
		}

		next, newToken, err := o.classifyEndpointFailure(ctx, email, endpoint, deliverErr, &earliestReset, &sawRateLimit, i == len(endpoints)-1)
		if newToken != "" {
			token = newToken
		}
		switch next {
		case endpointContinue:
			continue
		case endpointRotate:
			return outcomeRotate, nil, err
		case endpointFatal:
			return outcomeFatal, nil, err
		}
	}

	if sawRateLimit {
		o.pool.MarkRateLimited(email, model.ID, earliestReset)
		o.pool.ReleaseSticky(sessionID)
		o.collector.RecordRateLimited(model.ID)
		o.recordOutcome(email, model.ID, usage.OutcomeRateLimited, attempt)
		return outcomeRotate, nil, fmt.Errorf("all endpoints rate limited for %s", email)
	}
	return outcomeRotate, nil, fmt.Errorf("all endpoints failed for %s: %w", email, lastErr)
}

// prepare resolves credential, project, and the translated body for one
// account attempt.
func (o *Orchestrator) prepare(ctx context.Context, req *translate.MessagesRequest, model catalog.Model, email, sessionID string) ([]byte, string, attemptOutcome, error) {
	token, err := o.pool.Credential(ctx, email)
	if err != nil {
		o.collector.RecordCredentialRefresh(false)
		o.pool.ReleaseSticky(sessionID)
		return nil, "", outcomeRotate, err
	}
	o.collector.RecordCredentialRefresh(true)

	project, err := o.pool.Project(ctx, email, token)
	if err != nil {
		var authErr *upstream.AuthError
		if errors.As(err, &authErr) {
			o.pool.MarkInvalid(email, "project discovery rejected")
			o.pool.ReleaseSticky(sessionID)
		}
		return nil, "", outcomeRotate, err
	}

	body, err := o.translator.Translate(req, model, project, sessionID)
	if err != nil {
		var trErr *translate.TranslationError
		if errors.As(err, &trErr) {
			return nil, "", outcomeFatal, &TerminalError{
				Status:  400,
				Type:    "invalid_request_error",
				Message: trErr.Message,
			}
		}
		return nil, "", outcomeFatal, err
	}
	return body, token, outcomeServed, nil
}

// endpointNext directs the endpoint iteration after a failure.
type endpointNext int

const (
	endpointContinue endpointNext = iota
	endpointRotate
	endpointFatal
)

// classifyEndpointFailure applies the per-status endpoint rules. It may
// return a refreshed token after a credential rejection.
func (o *Orchestrator) classifyEndpointFailure(ctx context.Context, email, endpoint string, cause error, earliestReset *time.Time, sawRateLimit *bool, lastEndpoint bool) (endpointNext, string, error) {
	var rlErr *upstream.RateLimitError
	if errors.As(cause, &rlErr) {
		// Endpoints may have independent quotas; record the reset and
		// keep walking the list.
		o.collector.RecordUpstreamError(endpoint, "rate_limit")
		reset := rlErr.ResetAt
		if reset.IsZero() {
			retryAfter := rlErr.RetryAfter
			if retryAfter <= 0 {
				retryAfter = time.Minute
			}
			reset = time.Now().Add(retryAfter)
		}
		if !*sawRateLimit || reset.Before(*earliestReset) {
			*earliestReset = reset
		}
		*sawRateLimit = true
		return endpointContinue, "", nil
	}

	var authErr *upstream.AuthError
	if errors.As(cause, &authErr) {
		o.collector.RecordUpstreamError(endpoint, "auth")
		o.pool.InvalidateCredential(email)
		o.pool.InvalidateProject(email)
		// The fault may be endpoint-specific; refresh and try the next
		// endpoint before giving up on the account.
		token, err := o.pool.Credential(ctx, email)
		if err != nil {
			return endpointRotate, "", fmt.Errorf("credential refresh after rejection: %w", err)
		}
		if lastEndpoint {
			return endpointRotate, token, cause
		}
		return endpointContinue, token, nil
	}

	var netErr *upstream.NetworkError
	if errors.As(cause, &netErr) {
		o.collector.RecordUpstreamError(endpoint, "network")
		o.pool.RecordFailure(email)
		if err := o.sleep(ctx, o.retry.NetworkPause); err != nil {
			return endpointFatal, "", err
		}
		return endpointRotate, "", cause
	}

	var upErr *upstream.UpstreamError
	if errors.As(cause, &upErr) {
		o.collector.RecordUpstreamError(endpoint, fmt.Sprintf("http_%d", upErr.StatusCode))
		if upErr.Retryable() {
			if err := o.sleep(ctx, o.retry.ServerErrorBackoff); err != nil {
				return endpointFatal, "", err
			}
		}
		// Non-retryable statuses still walk the remaining endpoints;
		// they surface only after full exhaustion.
		return endpointContinue, "", nil
	}

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return endpointFatal, "", cause
	}
	o.collector.RecordUpstreamError(endpoint, "other")
	return endpointContinue, "", nil
}

// deliverStream performs one streaming endpoint attempt including the
// empty-response inner retry loop. Rate-limit or credential rejections
// inside the loop escalate to the endpoint classifier immediately.
func (o *Orchestrator) deliverStream(ctx context.Context, model catalog.Model, email, sessionID, endpoint, token string, body []byte, emit func(stream.Event) error) error {
	for empty := 0; ; empty++ {
		rc, err := o.client.StreamGenerate(ctx, endpoint, token, body)
		if err != nil {
			return err
		}

		r := stream.New(model.ID, model.Family, sessionID, o.signatures)
		err = r.Stream(ctx, rc, emit)
		rc.Close()
		if err == nil {
			o.recordOutcome(email, model.ID, usage.OutcomeSuccess, empty+1)
			return nil
		}

		var emptyErr *stream.EmptyResponseError
		if !errors.As(err, &emptyErr) {
			return err
		}
		o.collector.RecordEmptyRetry(model.ID)
		o.recordOutcome(email, model.ID, usage.OutcomeEmpty, empty+1)
		if empty >= o.retry.EmptyRetryLimit {
			o.log.Warn("empty response retries exhausted, emitting fallback",
				"model", model.ID, "account", email)
			for _, ev := range stream.FallbackEvents(model.ID) {
				if emitErr := emit(ev); emitErr != nil {
					return emitErr
				}
			}
			return nil
		}
		if err := o.sleep(ctx, o.retry.EmptyRetryBaseDelay<<empty); err != nil {
			return err
		}
	}
}

// deliverComplete performs one non-streaming endpoint attempt with the
// same empty-response loop, returning the reassembled message.
func (o *Orchestrator) deliverComplete(ctx context.Context, model catalog.Model, email, sessionID, endpoint, token string, body []byte) (*stream.Message, error) {
	for empty := 0; ; empty++ {
		raw, err := o.client.Generate(ctx, endpoint, token, body)
		if err != nil {
			return nil, err
		}

		r := stream.New(model.ID, model.Family, sessionID, o.signatures)
		msg, err := r.CollectPayload(raw)
		if err == nil {
			o.recordOutcome(email, model.ID, usage.OutcomeSuccess, empty+1)
			return msg, nil
		}

		var emptyErr *stream.EmptyResponseError
		if !errors.As(err, &emptyErr) {
			return nil, err
		}
		o.collector.RecordEmptyRetry(model.ID)
		o.recordOutcome(email, model.ID, usage.OutcomeEmpty, empty+1)
		if empty >= o.retry.EmptyRetryLimit {
			o.log.Warn("empty response retries exhausted, returning fallback",
				"model", model.ID, "account", email)
			return stream.Fallback(model.ID), nil
		}
		if err := o.sleep(ctx, o.retry.EmptyRetryBaseDelay<<empty); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) recordOutcome(email, modelID string, out usage.Outcome, attempts int) {
	if o.ledger == nil {
		return
	}
	rec := &usage.Record{
		Account:  email,
		Model:    modelID,
		Outcome:  out,
		Attempts: attempts,
	}
	if err := o.ledger.Write(context.Background(), rec); err != nil {
		o.log.Warn("usage ledger write failed", "error", err)
	}
}
