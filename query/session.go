package query

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/trevorprater/structquery/internal/metrics"
	"github.com/trevorprater/structquery/schema"
	"github.com/trevorprater/structquery/transport"
)

// AuditRecord is one completed query round trip, handed to a Recorder after
// the session resolves the call.
type AuditRecord struct {
	RequestID    string
	Prompt       string
	Model        string
	Transport    string
	Outcome      string
	Violations   int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Duration     time.Duration
	Cached       bool
	CreatedAt    time.Time
}

// Recorder persists audit records. Implementations must not block the query
// path on failure; recording errors are logged and dropped.
type Recorder interface {
	Record(ctx context.Context, rec *AuditRecord) error
}

// Outcome labels for audit records and metrics.
const (
	OutcomeConforming = "conforming"
	OutcomeViolations = "violations"
	OutcomeError      = "error"
)

// Session binds a typed output model to a transport and drives the full
// pipeline: normalize the descriptor, compose the request, submit it, and
// validate the response. A Session is safe for concurrent use and reusable
// across calls.
type Session[T any] struct {
	tr         transport.Transport
	opts       Options
	schemas    *schema.Cache
	results    *ResultCache
	recorder   Recorder
	logger     *zap.Logger
	tracer     trace.Tracer
	collector  *metrics.Collector
	descriptor any
}

// SessionOption customizes a Session beyond its Options.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	logger    *zap.Logger
	schemas   *schema.Cache
	results   *ResultCache
	recorder  Recorder
	collector *metrics.Collector
}

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = logger }
}

// WithSchemaCache shares a normalized-schema cache across sessions.
func WithSchemaCache(cache *schema.Cache) SessionOption {
	return func(c *sessionConfig) { c.schemas = cache }
}

// WithResultCache enables result caching for repeated identical queries.
func WithResultCache(cache *ResultCache) SessionOption {
	return func(c *sessionConfig) { c.results = cache }
}

// WithRecorder attaches an audit recorder.
func WithRecorder(rec Recorder) SessionOption {
	return func(c *sessionConfig) { c.recorder = rec }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) SessionOption {
	return func(c *sessionConfig) { c.collector = collector }
}

// NewSession creates a session for output type T over the given transport.
// Options are validated eagerly so misconfiguration fails at construction,
// not on first Run. When opts.OutputFormat is set it overrides the typed
// descriptor derived from T.
func NewSession[T any](tr transport.Transport, opts Options, optFns ...SessionOption) (*Session[T], error) {
	if tr == nil {
		return nil, NewError(CodeInvalidConfig, "transport is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cfg := sessionConfig{}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.schemas == nil {
		cfg.schemas = schema.NewCache(nil)
	}

	var descriptor any
	if opts.OutputFormat != nil {
		descriptor = opts.OutputFormat
	} else {
		descriptor = reflect.TypeOf((*T)(nil)).Elem()
	}

	return &Session[T]{
		tr:         tr,
		opts:       opts.clone(),
		schemas:    cfg.schemas,
		results:    cfg.results,
		recorder:   cfg.recorder,
		logger:     cfg.logger,
		tracer:     otel.Tracer("structquery"),
		collector:  cfg.collector,
		descriptor: descriptor,
	}, nil
}

// Run executes one schema-validated query. Validation failures are returned
// as data on the Result, not as an error; an error return means the call
// never produced a classifiable payload.
func (s *Session[T]) Run(ctx context.Context, prompt string) (*Result[T], error) {
	ctx, span := s.tracer.Start(ctx, "query.Run",
		trace.WithAttributes(
			attribute.String("transport", s.tr.Name()),
			attribute.String("model", s.opts.Model),
		))
	defer span.End()

	start := time.Now()

	canonical, hit, err := s.schemas.Normalize(s.descriptor)
	if s.collector != nil {
		s.collector.RecordSchemaCache(hit)
	}
	if err != nil {
		return nil, s.fail(span, mapSchemaError(err))
	}

	req, err := Compose(prompt, canonical, s.opts)
	if err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("request.id", req.ID()))

	if s.results != nil {
		key := s.results.Key(req)
		if entry, err := s.results.Get(ctx, key); err == nil {
			if s.collector != nil {
				s.collector.RecordResultCache(true)
			}
			res := decodeResult[T](entry.Raw, req)
			res.Model = entry.Model
			res.Usage = entry.Usage
			res.Cached = true
			s.finish(ctx, span, req, res, start)
			return res, nil
		}
		if s.collector != nil {
			s.collector.RecordResultCache(false)
		}
	}

	resp, err := s.submit(ctx, req)
	if err != nil {
		s.record(ctx, req, &AuditRecord{
			RequestID: req.ID(),
			Prompt:    req.Prompt(),
			Model:     s.opts.Model,
			Transport: s.tr.Name(),
			Outcome:   OutcomeError,
			Duration:  time.Since(start),
			CreatedAt: time.Now(),
		})
		if s.collector != nil {
			s.collector.RecordQuery(s.tr.Name(), OutcomeError, time.Since(start))
		}
		return nil, s.fail(span, err)
	}

	res := decodeResult[T](resp.Raw, req)
	res.Model = resp.Model
	res.Usage = Usage{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      resp.CostUSD,
	}

	if s.results != nil && res.Valid() {
		key := s.results.Key(req)
		if err := s.results.Set(ctx, key, &CachedResponse{
			Raw:   resp.Raw,
			Model: resp.Model,
			Usage: res.Usage,
		}); err != nil {
			s.logger.Warn("result cache store failed",
				zap.String("request_id", req.ID()), zap.Error(err))
		}
	}

	s.finish(ctx, span, req, res, start)
	return res, nil
}

// submit drives the transport round trip, applying the session timeout and
// classifying failures.
func (s *Session[T]) submit(ctx context.Context, req *Request) (*transport.Response, error) {
	system, err := req.InstructionPrompt()
	if err != nil {
		return nil, err
	}
	schemaJSON, err := req.Schema().ToJSON()
	if err != nil {
		return nil, NewError(CodeInvalidConfig, "failed to serialize schema").WithCause(err)
	}

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	payload := &transport.Payload{
		RequestID:       req.ID(),
		Prompt:          req.Prompt(),
		System:          system,
		Schema:          schemaJSON,
		Model:           s.opts.Model,
		MaxOutputTokens: s.opts.MaxOutputTokens,
		Temperature:     s.opts.Temperature,
		TurnLimit:       s.opts.TurnLimit,
		PermissionMode:  string(s.opts.PermissionMode),
		BetaFeatures:    append([]string(nil), s.opts.BetaFeatures...),
	}

	resp, err := s.tr.Submit(callCtx, payload)
	if err != nil {
		return nil, s.classify(ctx, callCtx, err)
	}
	return resp, nil
}

// classify maps a transport failure onto the session error taxonomy.
// Cancellation of the caller's context wins over everything else; a deadline
// the session itself imposed is a retryable transport timeout.
func (s *Session[T]) classify(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return NewError(CodeCancelled, "query cancelled by caller").WithCause(parent.Err())
	}
	if call.Err() != nil && errors.Is(call.Err(), context.DeadlineExceeded) {
		return NewError(CodeTransport, "query timed out").
			WithRetryable(true).
			WithCause(err)
	}

	var terr *transport.Error
	if errors.As(err, &terr) {
		return &Error{
			Code:       CodeTransport,
			Message:    terr.Message,
			HTTPStatus: terr.HTTPStatus,
			Retryable:  terr.Retryable,
			Cause:      terr,
		}
	}
	return NewError(CodeTransport, "transport call failed").WithCause(err)
}

func (s *Session[T]) finish(ctx context.Context, span trace.Span, req *Request, res *Result[T], start time.Time) {
	outcome := OutcomeConforming
	if !res.Valid() {
		outcome = OutcomeViolations
	}
	duration := time.Since(start)

	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("violations", len(res.Violations)),
		attribute.Bool("cached", res.Cached),
	)

	if s.collector != nil {
		s.collector.RecordQuery(s.tr.Name(), outcome, duration)
		s.collector.RecordViolations(len(res.Violations))
		s.collector.RecordTokens(res.Usage.InputTokens, res.Usage.OutputTokens)
	}

	s.logger.Debug("query completed",
		zap.String("request_id", req.ID()),
		zap.String("outcome", outcome),
		zap.Int("violations", len(res.Violations)),
		zap.Bool("cached", res.Cached),
		zap.Duration("duration", duration))

	s.record(ctx, req, &AuditRecord{
		RequestID:    req.ID(),
		Prompt:       req.Prompt(),
		Model:        res.Model,
		Transport:    s.tr.Name(),
		Outcome:      outcome,
		Violations:   len(res.Violations),
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		CostUSD:      res.Usage.CostUSD,
		Duration:     duration,
		Cached:       res.Cached,
		CreatedAt:    time.Now(),
	})
}

func (s *Session[T]) record(ctx context.Context, req *Request, rec *AuditRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Warn("audit record failed",
			zap.String("request_id", req.ID()), zap.Error(err))
	}
}

func (s *Session[T]) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// mapSchemaError translates normalizer sentinels into the session taxonomy.
func mapSchemaError(err error) error {
	switch {
	case errors.Is(err, schema.ErrCyclicReference):
		return NewError(CodeCyclicReference, "output model contains a reference cycle").WithCause(err)
	case errors.Is(err, schema.ErrUnsupportedDescriptor):
		return NewError(CodeUnsupportedDescriptor, "output descriptor cannot be normalized").WithCause(err)
	default:
		return NewError(CodeUnsupportedDescriptor, "schema normalization failed").WithCause(err)
	}
}
