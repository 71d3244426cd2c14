package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/critic"
	"github.com/run-bigpig/nova-gateway/pkg/identity"
	"github.com/run-bigpig/nova-gateway/pkg/llm"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/metrics"
)

const tracerName = "github.com/run-bigpig/nova-gateway/pkg/gateway"

// DefaultAuditTimeout bounds the sink write
const DefaultAuditTimeout = 5 * time.Second

// Pipeline wires the stages together. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	backend   llm.Backend
	security  SecurityChecker
	policy    PolicyChecker
	generator Generator
	sink      audit.Sink

	logger       logging.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	strictAudit  bool
	auditTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics records transactions and latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer for stage spans. The default is the global
// OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithStrictAudit makes a failed sink write fail the request with ErrAuditFailed
func WithStrictAudit(strict bool) Option {
	return func(p *Pipeline) {
		p.strictAudit = strict
	}
}

// WithAuditTimeout bounds the sink write. Zero disables it.
func WithAuditTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.auditTimeout = timeout
	}
}

// WithClock replaces time.Now for record timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Pipeline. backend only gates availability; the stages make
// their own calls.
func New(backend llm.Backend, security SecurityChecker, policy PolicyChecker, generator Generator, sink audit.Sink, options ...Option) *Pipeline {
	p := &Pipeline{
		backend:      backend,
		security:     security,
		policy:       policy,
		generator:    generator,
		sink:         sink,
		tracer:       otel.Tracer(tracerName),
		auditTimeout: DefaultAuditTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, option := range options {
		option(p)
	}
	if p.logger == nil {
		p.logger = logging.New()
	}
	return p
}

// Sink returns the audit sink
func (p *Pipeline) Sink() audit.Sink {
	return p.sink
}

// Backend returns the backend handle
func (p *Pipeline) Backend() llm.Backend {
	return p.backend
}

// Run executes the pipeline for one request.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if !p.backend.IsConfigured() {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, p.backend.Reason())
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if strings.TrimSpace(req.Policy) == "" {
		req.Policy = DefaultPolicy
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "gateway.Run", trace.WithAttributes(
		attribute.Int("gateway.prompt_length", len(req.Prompt)),
	))
	defer span.End()

	result, err := p.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("gateway.final_verdict", result.FinalVerdict.String()))
	p.metrics.ObservePipeline(time.Since(start))
	p.metrics.IncTransaction(result.FinalVerdict.String(), result.OutboundCheck != nil && result.OutboundCheck.Violated())
	p.advance(ctx, StageDone, map[string]interface{}{
		"final_verdict": result.FinalVerdict.String(),
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	p.advance(ctx, StageStart, nil)

	inbound := p.checkInbound(ctx, req.Prompt)
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	p.advance(ctx, StageInboundChecked, map[string]interface{}{
		"verdict":     inbound.Verdict.String(),
		"attack_type": inbound.AttackType.String(),
	})

	if inbound.Blocks() {
		p.advance(ctx, StageBlocked, nil)
		result := &Result{
			FinalText:    RejectionMessage(inbound.Reasoning),
			InboundCheck: inbound,
			FinalVerdict: audit.Blocked,
		}
		rec := p.newRecord(ctx, req, inbound, nil, audit.BlockedResponse, audit.Blocked)
		if err := p.record(ctx, rec, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	text, err := p.generate(ctx, req.Prompt)
	if cerr := canceled(ctx); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		p.logger.Error(ctx, "Generation failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	p.advance(ctx, StageGenerated, map[string]interface{}{"response_length": len(text)})

	outbound := p.checkOutbound(ctx, text, req.Policy)
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	p.advance(ctx, StageOutboundChecked, map[string]interface{}{"verdict": outbound.Verdict.String()})

	final := text
	if outbound.Violated() {
		final = PolicyWarning(outbound.Reasoning, text)
	}

	result := &Result{
		FinalText:     final,
		InboundCheck:  inbound,
		OutboundCheck: &outbound,
		FinalVerdict:  audit.Allowed,
	}
	rec := p.newRecord(ctx, req, inbound, &outbound, final, audit.Allowed)
	if err := p.record(ctx, rec, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) checkInbound(ctx context.Context, prompt string) critic.SecurityVerdict {
	ctx, span := p.tracer.Start(ctx, "gateway.security_check")
	defer span.End()

	v := p.security.Evaluate(ctx, prompt)
	span.SetAttributes(
		attribute.String("critic.verdict", v.Verdict.String()),
		attribute.String("critic.attack_type", v.AttackType.String()),
		attribute.Float64("critic.confidence", v.Confidence),
	)
	return v
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "gateway.generate")
	defer span.End()

	text, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return text, err
}

func (p *Pipeline) checkOutbound(ctx context.Context, text, policy string) critic.PolicyVerdict {
	ctx, span := p.tracer.Start(ctx, "gateway.policy_check")
	defer span.End()

	v := p.policy.Evaluate(ctx, text, policy)
	span.SetAttributes(
		attribute.String("critic.verdict", v.Verdict.String()),
		attribute.Float64("critic.confidence", v.Confidence),
	)
	return v
}

func (p *Pipeline) newRecord(ctx context.Context, req Request, inbound critic.SecurityVerdict, outbound *critic.PolicyVerdict, response string, verdict audit.FinalVerdict) audit.TransactionRecord {
	subject, _ := identity.Subject(ctx)
	return audit.TransactionRecord{
		ID:            p.newID(),
		Timestamp:     p.now().UTC(),
		RequestID:     req.RequestID,
		Subject:       subject,
		Policy:        req.Policy,
		RequestPrompt: req.Prompt,
		ResponseText:  response,
		InboundCheck:  &inbound,
		OutboundCheck: outbound,
		FinalVerdict:  verdict,
	}
}

// record hands rec to the sink. The verdict is final at this point, so the
// write is detached from the caller's cancellation.
func (p *Pipeline) record(ctx context.Context, rec audit.TransactionRecord, result *Result) error {
	wctx := context.WithoutCancel(ctx)
	if p.auditTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, p.auditTimeout)
		defer cancel()
	}

	ack, err := p.sink.Record(wctx, rec)
	p.metrics.IncAuditWrite(err)
	if err != nil {
		p.logger.Error(ctx, "Failed to write audit record", map[string]interface{}{
			"id":     rec.ID,
			"error":  err.Error(),
			"strict": p.strictAudit,
		})
		if p.strictAudit {
			return fmt.Errorf("%w: %w", ErrAuditFailed, err)
		}
		result.Record = audit.Ack{ID: rec.ID}
		if ack.ID != "" {
			result.Record = ack
		}
		return nil
	}

	result.Record = ack
	p.advance(ctx, StageRecorded, map[string]interface{}{"id": ack.ID, "sequence": ack.Sequence})
	return nil
}

func (p *Pipeline) advance(ctx context.Context, stage Stage, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["stage"] = stage.String()
	p.logger.Debug(ctx, "Pipeline stage", fields)
	trace.SpanFromContext(ctx).AddEvent(stage.String())
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return nil
}
