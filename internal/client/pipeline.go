package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/metrics"
	"github.com/vivo-us/request-handler/internal/ratelimit"
	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// HandleRequest is the public operation of §4.4: handleRequest(config) →
// response | error. It runs on the originating instance regardless of
// whether this instance is controller or worker for the client.
func (c *Client) HandleRequest(ctx context.Context, cfg RequestConfig) (*Response, error) {
	cfg = cfg.applyDefaults(c.spec.RequestOptions.Defaults)
	retryOpts := c.spec.RetryOptions.applyDefaults()

	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}()

	retries := 0
	for {
		record := &recordtypes.RequestRecord{
			RequestID:   uuid.NewString(),
			ClientName:  c.name,
			Status:      recordtypes.StatusInQueue,
			Priority:    cfg.Priority,
			Cost:        cfg.Cost,
			TimestampMs: time.Now().UnixMilli(),
			Retries:     retries,
		}

		if c.policy.Kind() != recordtypes.KindNoLimit {
			if err := c.awaitReady(ctx, record); err != nil {
				return nil, err
			}
		}

		if c.spec.RequestOptions.RequestInterceptor != nil {
			if err := c.spec.RequestOptions.RequestInterceptor(&cfg); err != nil {
				return nil, fmt.Errorf("client: request interceptor: %w", err)
			}
		}

		if err := c.applyAuthentication(ctx, &cfg); err != nil {
			return nil, fmt.Errorf("client: authentication: %w", err)
		}

		record.Status = recordtypes.StatusInProgress

		resp, transportErr := c.doHTTP(ctx, cfg)

		if transportErr == nil && resp.StatusCode < 400 {
			if c.spec.RequestOptions.ResponseInterceptor != nil {
				if err := c.spec.RequestOptions.ResponseInterceptor(&http.Response{StatusCode: resp.StatusCode, Header: resp.Headers}); err != nil {
					return nil, fmt.Errorf("client: response interceptor: %w", err)
				}
			}
			c.applyRateLimitChange(resp)
			metrics.RequestsCompleted.WithLabelValues(c.name, "success").Inc()
			c.publishDone(ctx, recordtypes.RequestOutcome{
				RequestID: record.RequestID, ClientName: c.name, Cost: cfg.Cost, Success: true, StatusCode: resp.StatusCode,
			})
			return resp, nil
		}

		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}

		decision := classifyOutcome(retries, statusCode, transportErr, retryOpts)

		var waitTime time.Duration
		if decision.Retry {
			retries++
			waitTime = backoffDuration(retries, retryOpts.RetryBackoffMethod, c.backoffBase(retryOpts))
			reason := "retryable"
			if decision.IsRateLimited {
				reason = "rate_limited"
			}
			metrics.Retries.WithLabelValues(c.name, reason).Inc()
			metrics.BackoffWait.WithLabelValues(c.name).Observe(waitTime.Seconds())
		} else {
			metrics.RequestsCompleted.WithLabelValues(c.name, "failure").Inc()
		}

		c.publishDone(ctx, recordtypes.RequestOutcome{
			RequestID:     record.RequestID,
			ClientName:    c.name,
			Cost:          cfg.Cost,
			Success:       false,
			StatusCode:    statusCode,
			WaitTimeMs:    waitTime.Milliseconds(),
			IsRateLimited: decision.IsRateLimited,
			WillRetry:     decision.Retry,
		})

		if !decision.Retry {
			if transportErr != nil {
				return nil, transportErr
			}
			return resp, fmt.Errorf("client: request failed with status %d", statusCode)
		}
		// loop from step 2 with retries incremented.
	}
}

func (c *Client) backoffBase(opts RetryOptions) time.Duration {
	if tb, ok := c.policy.(*ratelimit.TokenBucket); ok {
		return tb.Interval()
	}
	return time.Duration(opts.RetryBackoffBaseTimeMs) * time.Millisecond
}

// awaitReady implements §4.4 steps 2-3: heartbeat, publish requestAdded,
// wait on the local event bus for requestReady:<id>.
func (c *Client) awaitReady(ctx context.Context, record *recordtypes.RequestRecord) error {
	waiter := c.localBus.Register(record.RequestID)
	defer c.localBus.Forget(record.RequestID)

	stopHeartbeat := c.startRequestHeartbeat(ctx, record)
	defer stopHeartbeat()

	if err := c.publishRequestAdded(ctx, record); err != nil {
		return fmt.Errorf("client: publish requestAdded: %w", err)
	}

	select {
	case ready := <-waiter.Channel():
		*record = *ready
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) startRequestHeartbeat(ctx context.Context, record *recordtypes.RequestRecord) func() {
	ticker := time.NewTicker(requestHeartbeatInterval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb := &recordtypes.RequestHeartbeat{RequestID: record.RequestID, ClientName: c.name, At: time.Now()}
				if err := c.publishHeartbeat(ctx, hb); err != nil {
					c.logger.Warn("failed to publish request heartbeat", zap.Error(err))
				}
			}
		}
	}()

	return func() { close(done) }
}

func (c *Client) doHTTP(ctx context.Context, cfg RequestConfig) (*Response, error) {
	target := cfg.URL
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		ref, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, err
		}
		target = base.ResolveReference(ref).String()
	}

	var body io.Reader
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	if len(cfg.Params) > 0 {
		q := req.URL.Query()
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func (c *Client) applyAuthentication(ctx context.Context, cfg *RequestConfig) error {
	if c.authn == nil {
		return nil
	}

	headers, err := c.authn.Headers(ctx)
	if err != nil {
		return err
	}

	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string, len(headers))
	}
	for k, v := range headers {
		if _, exists := cfg.Headers[k]; !exists {
			cfg.Headers[k] = v
		}
	}
	return nil
}

func (c *Client) applyRateLimitChange(resp *Response) {
	if c.spec.RateLimitChange == nil {
		return
	}

	snapshot := c.policy.Snapshot(c.name)
	httpResp := &http.Response{StatusCode: resp.StatusCode, Header: resp.Headers}

	newSpec := c.spec.RateLimitChange(snapshot, httpResp)
	if newSpec == nil {
		return
	}

	newPolicy, err := ratelimit.FromSpec(*newSpec, nil)
	if err != nil {
		c.logger.Warn("rateLimitChange hook returned invalid spec", zap.Error(err))
		return
	}
	c.policy = newPolicy

	ctx := context.Background()
	updated := c.policy.Snapshot(c.name)
	if err := c.publishRateLimitUpdated(ctx, &updated); err != nil {
		c.logger.Warn("failed to publish rateLimitUpdated", zap.Error(err))
	}
}

// publishDone publishes requestDone. Controller-side bookkeeping
// (concurrency release, freeze/thaw, queue removal) happens in
// OnRequestDone, which every instance's Client runs — but only the
// controller's invocation has a matching queue entry to act on.
func (c *Client) publishDone(ctx context.Context, outcome recordtypes.RequestOutcome) {
	if err := c.publishRequestDone(ctx, &outcome); err != nil {
		c.logger.Warn("failed to publish requestDone", zap.Error(err))
	}
}

// OnRequestAdded is invoked (via the fleet bus, every instance) when a
// requestAdded message arrives. Only the controller for this client acts
// on it.
func (c *Client) OnRequestAdded(record *recordtypes.RequestRecord) {
	if !c.IsController() {
		return
	}
	cp := *record
	c.queue.add(&cp)
	c.trigger()
}

// OnRequestHeartbeat refreshes liveness for an in-flight request the
// controller is tracking (§4.4 "Request liveness").
func (c *Client) OnRequestHeartbeat(hb *recordtypes.RequestHeartbeat) {
	if !c.IsController() {
		return
	}
	c.queue.touchHeartbeat(hb.RequestID)
}

// OnRequestReady delivers an admitted record to this instance's local
// waiter, if this instance originated the request. No-op otherwise
// (broadcast fan-out, §2 data flow).
func (c *Client) OnRequestReady(record *recordtypes.RequestRecord) {
	c.localBus.Resolve(record)
}

// OnRequestDone is the controller-side completion handler: release the
// policy's capacity, remove the request from the queue, freeze if
// rate-limited, progress the thaw counter, and kick the admission loop.
func (c *Client) OnRequestDone(outcome *recordtypes.RequestOutcome) {
	if !c.IsController() {
		return
	}

	c.policy.OnRequestDone(outcome.Cost)
	c.queue.remove(outcome.RequestID)
	metrics.QueueDepth.WithLabelValues(c.name).Set(float64(c.queue.len()))

	c.freezeMu.Lock()
	isThawGate := c.thawGateID != "" && c.thawGateID == outcome.RequestID
	if isThawGate {
		c.thawGateID = ""
	}
	c.freezeMu.Unlock()

	if outcome.WaitTimeMs > 0 {
		c.freeze(time.Duration(outcome.WaitTimeMs)*time.Millisecond, outcome.IsRateLimited)
	}

	if isThawGate {
		c.freezeMu.Lock()
		if outcome.Success && c.thawCount > 0 {
			c.thawCount--
		}
		c.freezeMu.Unlock()
	}

	c.trigger()
}

// freeze implements §4.5 Freeze: cancel any prior timer, mark the policy
// frozen, and re-arm the timer. If isRateLimited, also arms the thaw
// counter. The "tokens := 0" half of §4.5 happens in thaw below, via
// Freezable.Reset — freezing only needs to stop admission immediately,
// which SetFrozen(true) already does by making Admit return ErrFrozen.
func (c *Client) freeze(waitTime time.Duration, isRateLimited bool) {
	c.freezeMu.Lock()
	defer c.freezeMu.Unlock()

	if c.freezeTimer != nil {
		c.freezeTimer.Stop()
	}

	c.frozen = true
	if fz, ok := c.policy.(ratelimit.Freezable); ok {
		fz.SetFrozen(true)
	}

	trigger := "wait_hint"
	if isRateLimited {
		opts := c.spec.RetryOptions.applyDefaults()
		c.thawCount = opts.ThawRequestCount
		trigger = "rate_limited"
	}
	metrics.Freezes.WithLabelValues(c.name, trigger).Inc()
	metrics.Frozen.WithLabelValues(c.name).Set(1)

	c.freezeTimer = time.AfterFunc(waitTime, c.thaw)
}

func (c *Client) thaw() {
	c.freezeMu.Lock()
	c.frozen = false
	if fz, ok := c.policy.(ratelimit.Freezable); ok {
		fz.Reset()
		fz.SetFrozen(false)
	}
	c.freezeMu.Unlock()
	metrics.Frozen.WithLabelValues(c.name).Set(0)

	c.trigger()
}

func (c *Client) isFrozen() bool {
	c.freezeMu.Lock()
	defer c.freezeMu.Unlock()
	return c.frozen
}

func (c *Client) thawing() (bool, string) {
	c.freezeMu.Lock()
	defer c.freezeMu.Unlock()
	return c.thawCount > 0, c.thawGateID
}

func (c *Client) setThawGate(requestID string) {
	c.freezeMu.Lock()
	defer c.freezeMu.Unlock()
	c.thawGateID = requestID
}

// trigger starts the admission loop if it isn't already running. Safe to
// call from any goroutine; a guard token (§4.3) ensures only one loop
// runs per client at a time.
func (c *Client) trigger() {
	if !c.IsController() {
		return
	}
	if !c.admissionRunning.CompareAndSwap(false, true) {
		return
	}
	go c.runAdmissionLoop()
}

// runAdmissionLoop is the controller's §4.3 admission loop.
func (c *Client) runAdmissionLoop() {
	defer c.admissionRunning.Store(false)

	for {
		if c.isFrozen() {
			return
		}

		record := c.queue.next()
		if record == nil {
			return
		}

		if thawing, gate := c.thawing(); thawing && gate != "" && gate != record.RequestID {
			return
		}

		err := c.policy.Admit(context.Background(), record.Cost)
		if err != nil {
			if errors.Is(err, ratelimit.ErrFrozen) {
				return
			}
			return
		}

		if c.isFrozen() {
			c.policy.OnRequestDone(record.Cost)
			return
		}

		metrics.RequestsAdmitted.WithLabelValues(c.name).Inc()
		c.queue.markInProgress(record.RequestID)
		metrics.QueueDepth.WithLabelValues(c.name).Set(float64(c.queue.len()))

		ctx := context.Background()

		if c.policy.Kind() == recordtypes.KindTokenBucket {
			snapshot := c.policy.Snapshot(c.name)
			if err := c.publishClientTokensUpdated(ctx, &snapshot); err != nil {
				c.logger.Warn("failed to publish clientTokensUpdated", zap.Error(err))
			}
		}

		if err := c.publishRequestReady(ctx, record); err != nil {
			c.logger.Warn("failed to publish requestReady", zap.Error(err))
		}
		// Same-process fast path when this instance also originated the
		// request; the fleet broadcast (§2 data flow) resolves the
		// cross-process case, idempotently, when it round-trips back.
		c.OnRequestReady(record)

		if thawing, _ := c.thawing(); thawing {
			c.setThawGate(record.RequestID)
			return
		}
	}
}

// expireStaleRequests discards requests whose heartbeat has lapsed
// beyond requestLivenessTTL, handling originator crashes (§4.4).
func (c *Client) expireStaleRequests() []*recordtypes.RequestRecord {
	return c.queue.expireStale(requestLivenessTTL)
}

// startHealthCheck arms the per-client ticker of §4.4/§5: every
// HealthCheckIntervalMs (default 10s) the controller reconciles orphaned
// requests and restarts the rate-limit ticker if it ever dropped. Only
// the controller runs this; SetRole stops it on demotion.
func (c *Client) startHealthCheck() {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if c.healthCancel != nil {
		return
	}

	interval := time.Duration(c.spec.HealthCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.healthCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runHealthCheck()
			}
		}
	}()
}

func (c *Client) stopHealthCheck() {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if c.healthCancel != nil {
		c.healthCancel()
		c.healthCancel = nil
	}
}

// runHealthCheck is one tick of the controller health check. A crashed
// originator whose in-progress request never publishes requestDone would
// otherwise hold its policy cost forever (e.g. a ConcurrencyGate slot
// never released, deadlocking admission for the whole client) — this
// reconciles that by discarding the stale record and releasing its cost.
func (c *Client) runHealthCheck() {
	if !c.IsController() {
		return
	}

	expired := c.expireStaleRequests()
	for _, r := range expired {
		if r.Status == recordtypes.StatusInProgress {
			c.policy.OnRequestDone(r.Cost)
		}
		c.logger.Warn("expired stale request", zap.String("requestId", r.RequestID), zap.String("status", string(r.Status)))
	}

	if len(expired) > 0 {
		metrics.QueueDepth.WithLabelValues(c.name).Set(float64(c.queue.len()))
		c.trigger()
	}

	if tb, ok := c.policy.(*ratelimit.TokenBucket); ok {
		tb.EnsureRunning(context.Background())
	}
}
