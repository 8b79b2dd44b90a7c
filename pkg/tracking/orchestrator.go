package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/carrier/correios"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchDelay is the pause between consecutive chunks.
const DefaultBatchDelay = time.Second

// classifyWorkers bounds the per-chunk classification fan-out.
const classifyWorkers = 8

// Orchestrator runs a tenant's tracking synchronization.
type Orchestrator struct {
	carrier  Carrier
	orders   OrderStore
	classify Classifier
	logger   *otelzap.Logger
	tracer   trace.Tracer
	metrics  Recorder

	batchSize int
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBatchDelay sets the pause between chunks.
func WithBatchDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

// WithBatchSize lowers the chunk size. Values outside
// [1, carrier.MaxCodesPerRequest] are ignored.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 && n <= carrier.MaxCodesPerRequest {
			o.batchSize = n
		}
	}
}

// WithSleeper replaces the inter-chunk sleep.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

// NewOrchestrator creates an orchestrator that tracks through c and writes
// statuses to orders. A nil classify uses correios.Classify.
func NewOrchestrator(c Carrier, orders OrderStore, classify Classifier, logger *otelzap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		carrier:   c,
		orders:    orders,
		classify:  classify,
		logger:    logger,
		tracer:    otel.Tracer("github.com/tournevent/tracksync/pkg/tracking"),
		metrics:   nopRecorder{},
		batchSize: carrier.MaxCodesPerRequest,
		delay:     DefaultBatchDelay,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.classify == nil {
		o.classify = correios.Classify
	}
	return o
}

// FilterTrackable drops orders without a tracking code.
func FilterTrackable(orders []carrier.Order) []carrier.Order {
	out := make([]carrier.Order, 0, len(orders))
	for _, o := range orders {
		if o.Trackable() {
			out = append(out, o)
		}
	}
	return out
}

// Chunk splits orders into consecutive slices of at most size elements.
func Chunk(orders []carrier.Order, size int) [][]carrier.Order {
	if size < 1 {
		size = carrier.MaxCodesPerRequest
	}
	chunks := make([][]carrier.Order, 0, (len(orders)+size-1)/size)
	for start := 0; start < len(orders); start += size {
		end := start + size
		if end > len(orders) {
			end = len(orders)
		}
		chunks = append(chunks, orders[start:end])
	}
	return chunks
}

// orderResult is the explicit per-order outcome of classification.
type orderResult struct {
	status carrier.CanonicalStatus
	err    error
}

type chunkOutcome struct {
	updated  int
	byStatus map[carrier.CanonicalStatus]int
	err      error // chunk-level tracking failure
	authErr  error // token could not be refreshed after a 403
}

// SyncAll tracks every trackable order and writes the resulting statuses.
//
// Chunks run sequentially with a fixed delay between them. A tracking
// failure fails only its chunk. A token failure before the first chunk
// returns an error wrapping carrier.ErrAuth; a later one stops the run and
// counts the remaining orders as processed but not updated. Cancellation is
// observed between chunks; a started chunk always completes.
func (o *Orchestrator) SyncAll(ctx context.Context, cred *carrier.Credential, orders []carrier.Order) (carrier.BatchResult, error) {
	result := carrier.BatchResult{ByStatus: make(map[carrier.CanonicalStatus]int)}

	trackable := FilterTrackable(orders)
	if len(trackable) == 0 {
		return result, nil
	}

	started := time.Now()
	runID := uuid.NewString()
	tenantID := ""
	if cred != nil {
		tenantID = cred.TenantID
	}
	logger := o.logger.Logger.With(zap.String("run_id", runID), zap.String("tenant_id", tenantID))

	ctx, span := o.tracer.Start(ctx, "tracking.SyncAll", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("tenant.id", tenantID),
		attribute.Int("orders.trackable", len(trackable)),
	))
	defer span.End()

	if err := cred.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", carrier.ErrAuth, err)
		o.metrics.RecordError(carrier.ErrorType(err))
		o.metrics.RecordRun("auth_error", time.Since(started))
		logger.Error("Sync aborted before first chunk", zap.Error(err))
		return result, err
	}

	chunks := Chunk(trackable, o.batchSize)
	tokens := NewTokenCache(o.carrier, cred, o.now)

	logger.Info("Starting tracking sync",
		zap.Int("orders", len(trackable)),
		zap.Int("skipped_untracked", len(orders)-len(trackable)),
		zap.Int("chunks", len(chunks)),
	)

	for i, chunk := range chunks {
		if i > 0 {
			if err := o.sleep(ctx, o.delay); err != nil {
				return o.finish(logger, result, started, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return o.finish(logger, result, started, err)
		}

		// The chunk runs to completion even if ctx is cancelled meanwhile,
		// so per-status writes are never half applied.
		chunkCtx := context.WithoutCancel(ctx)

		refreshesBefore := tokens.Refreshes()
		token, err := tokens.Token(chunkCtx)
		o.recordRefreshes(tokens.Refreshes() - refreshesBefore)
		if err != nil {
			o.metrics.RecordError(carrier.ErrorType(err))
			if i == 0 {
				o.metrics.RecordRun("auth_error", time.Since(started))
				logger.Error("Authentication failed before first chunk", zap.Error(err))
				return result, err
			}
			o.abortRemaining(logger, &result, chunks[i:], err)
			break
		}

		outcome := o.processChunk(chunkCtx, logger, tokens, token, i, chunk)

		result.Chunks++
		result.TotalProcessed += len(chunk)
		result.SuccessfulUpdates += outcome.updated
		for status, n := range outcome.byStatus {
			result.ByStatus[status] += n
		}

		if outcome.err != nil || outcome.authErr != nil {
			result.FailedChunks++
			o.metrics.RecordChunk("failed", len(chunk))
		} else {
			o.metrics.RecordChunk("ok", len(chunk))
		}

		if outcome.authErr != nil {
			o.abortRemaining(logger, &result, chunks[i+1:], outcome.authErr)
			break
		}
	}

	return o.finish(logger, result, started, nil)
}

// SyncOne returns the canonical status of a single tracking code without
// writing anything.
func (o *Orchestrator) SyncOne(ctx context.Context, cred *carrier.Credential, trackingCode string) (carrier.CanonicalStatus, error) {
	obj, err := o.lookup(ctx, cred, trackingCode, carrier.ResultLatest)
	if err != nil {
		return carrier.StatusUnknown, err
	}
	if obj == nil {
		return carrier.StatusNotFound, nil
	}
	return o.classify(obj.Events), nil
}

// Lookup returns the full event history and status of a single code.
// A code unknown to the carrier yields an empty object and NOT_FOUND.
func (o *Orchestrator) Lookup(ctx context.Context, cred *carrier.Credential, trackingCode string) (*carrier.TrackedObject, carrier.CanonicalStatus, error) {
	obj, err := o.lookup(ctx, cred, trackingCode, carrier.ResultAll)
	if err != nil {
		return nil, carrier.StatusUnknown, err
	}
	if obj == nil {
		return &carrier.TrackedObject{Code: strings.TrimSpace(trackingCode)}, carrier.StatusNotFound, nil
	}
	return obj, o.classify(obj.Events), nil
}

func (o *Orchestrator) lookup(ctx context.Context, cred *carrier.Credential, trackingCode string, mode carrier.ResultMode) (*carrier.TrackedObject, error) {
	code := strings.TrimSpace(trackingCode)
	if code == "" {
		return nil, fmt.Errorf("%w: empty tracking code", carrier.ErrInvalidRequest)
	}
	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", carrier.ErrAuth, err)
	}

	ctx, span := o.tracer.Start(ctx, "tracking.Lookup", trace.WithAttributes(
		attribute.String("result_mode", string(mode)),
	))
	defer span.End()

	tokens := NewTokenCache(o.carrier, cred, o.now)
	resp, err := o.trackWithRefresh(ctx, tokens, []string{code}, mode)
	if err != nil {
		o.metrics.RecordError(carrier.ErrorType(err))
		return nil, err
	}

	obj, ok := resp.Find(code)
	if !ok || len(obj.Events) == 0 {
		return nil, nil
	}
	return obj, nil
}

// trackWithRefresh tracks codes, re-authenticating and retrying once when
// the carrier rejects the bearer token.
func (o *Orchestrator) trackWithRefresh(ctx context.Context, tokens *TokenCache, codes []string, mode carrier.ResultMode) (*carrier.TrackingResponse, error) {
	token, err := tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := o.carrier.Track(ctx, token, codes, mode)
	if !errors.Is(err, carrier.ErrTokenRejected) {
		return resp, err
	}

	tokens.Invalidate()
	token, err = tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	o.metrics.RecordTokenRefresh()
	return o.carrier.Track(ctx, token, codes, mode)
}

func (o *Orchestrator) processChunk(ctx context.Context, logger *zap.Logger, tokens *TokenCache, token string, index int, chunk []carrier.Order) chunkOutcome {
	ctx, span := o.tracer.Start(ctx, "tracking.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", index),
		attribute.Int("chunk.size", len(chunk)),
	))
	defer span.End()

	out := chunkOutcome{byStatus: make(map[carrier.CanonicalStatus]int)}

	codes := make([]string, len(chunk))
	for i, order := range chunk {
		codes[i] = order.Code()
	}

	resp, err := o.carrier.Track(ctx, token, codes, carrier.ResultLatest)
	if errors.Is(err, carrier.ErrTokenRejected) {
		logger.Warn("Carrier rejected token, re-authenticating once", zap.Int("chunk", index))
		tokens.Invalidate()
		token, authErr := tokens.Token(ctx)
		if authErr != nil {
			o.metrics.RecordError(carrier.ErrorType(authErr))
			out.authErr = authErr
			return out
		}
		o.metrics.RecordTokenRefresh()
		resp, err = o.carrier.Track(ctx, token, codes, carrier.ResultLatest)
	}
	if err != nil {
		o.metrics.RecordError(carrier.ErrorType(err))
		logger.Error("Chunk tracking failed",
			zap.Int("chunk", index),
			zap.Int("size", len(chunk)),
			zap.Bool("retryable", carrier.IsRetryable(err)),
			zap.Error(err),
		)
		span.RecordError(err)
		out.err = err
		return out
	}

	results := o.classifyChunk(ctx, chunk, resp)

	groups := make(map[carrier.CanonicalStatus][]string)
	for i, r := range results {
		if r.err != nil {
			logger.Warn("Order not classified",
				zap.String("order_id", chunk[i].ID),
				zap.Error(r.err),
			)
			continue
		}
		groups[r.status] = append(groups[r.status], chunk[i].ID)
	}

	for _, status := range carrier.Statuses {
		ids := groups[status]
		if len(ids) == 0 {
			continue
		}
		n, err := o.orders.UpdateStatusMany(ctx, ids, status)
		if err != nil {
			o.metrics.RecordError("STORE_UPDATE")
			logger.Error("Grouped status update failed",
				zap.Int("chunk", index),
				zap.String("status", string(status)),
				zap.Int("orders", len(ids)),
				zap.Error(err),
			)
			continue
		}
		out.updated += n
		out.byStatus[status] += n
		o.metrics.RecordStatus(status, n)
	}

	logger.Debug("Chunk processed",
		zap.Int("chunk", index),
		zap.Int("size", len(chunk)),
		zap.Int("updated", out.updated),
	)
	return out
}

// classifyChunk computes one (status, err) pair per order, in chunk order.
func (o *Orchestrator) classifyChunk(ctx context.Context, chunk []carrier.Order, resp *carrier.TrackingResponse) []orderResult {
	byCode := make(map[string]*carrier.TrackedObject, len(resp.Objects))
	for i := range resp.Objects {
		byCode[strings.ToUpper(resp.Objects[i].Code)] = &resp.Objects[i]
	}

	results := make([]orderResult, len(chunk))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(classifyWorkers)
	for i := range chunk {
		i := i
		g.Go(func() error {
			obj, ok := byCode[strings.ToUpper(chunk[i].Code())]
			if !ok {
				results[i] = orderResult{status: carrier.StatusNotFound}
				return nil
			}
			status := o.classify(obj.Events)
			if !status.Valid() {
				results[i] = orderResult{err: fmt.Errorf("classifier returned non-canonical status %q", status)}
				return nil
			}
			results[i] = orderResult{status: status}
			return nil
		})
	}
	g.Wait()

	return results
}

func (o *Orchestrator) abortRemaining(logger *zap.Logger, result *carrier.BatchResult, remaining [][]carrier.Order, err error) {
	skipped := 0
	for _, chunk := range remaining {
		skipped += len(chunk)
		o.metrics.RecordChunk("aborted", len(chunk))
	}
	result.TotalProcessed += skipped
	result.FailedChunks += len(remaining)
	result.Aborted = true

	logger.Error("Authentication failed, aborting remaining chunks",
		zap.Int("remaining_chunks", len(remaining)),
		zap.Int("remaining_orders", skipped),
		zap.Error(err),
	)
}

func (o *Orchestrator) recordRefreshes(n int) {
	for i := 0; i < n; i++ {
		o.metrics.RecordTokenRefresh()
	}
}

func (o *Orchestrator) finish(logger *zap.Logger, result carrier.BatchResult, started time.Time, err error) (carrier.BatchResult, error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "cancelled"
	case result.Aborted:
		outcome = "aborted"
	case result.SuccessfulUpdates < result.TotalProcessed:
		outcome = "partial"
	}
	o.metrics.RecordRun(outcome, time.Since(started))

	logger.Info("Tracking sync finished",
		zap.String("outcome", outcome),
		zap.Int("total_processed", result.TotalProcessed),
		zap.Int("successful_updates", result.SuccessfulUpdates),
		zap.Int("chunks", result.Chunks),
		zap.Int("failed_chunks", result.FailedChunks),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
