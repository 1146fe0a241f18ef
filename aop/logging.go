package aop

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"time"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/legacy-lands/aspectrt/infrastructure/logging"
	"github.com/legacy-lands/aspectrt/infrastructure/metrics"
)

// Trace propagation headers, read/written with the same header-constant
// style as the ambient middleware package.
const (
	TraceIDHeader       = "X-Trace-Id"
	SpanIDHeader        = "X-Span-Id"
	ParentSpanIDHeader  = "X-Parent-Span-Id"
	OperationNameHeader = "X-Operation-Name"
	ServiceNameHeader   = "X-Service-Name"
)

type traceContextKey struct{}

// SpanContext carries the per-task trace context propagated across a call
// chain: trace/span identity, the active span's parent, and the service +
// operation names attached when the span was opened.
type SpanContext struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	ServiceName   string
	OperationName string
}

// WithSpanContext attaches a SpanContext to ctx for child spans and header
// propagation further down the call chain.
func WithSpanContext(ctx context.Context, sc SpanContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, sc)
}

// SpanFromContext returns the active SpanContext, or the zero value if none
// has been attached.
func SpanFromContext(ctx context.Context) (SpanContext, bool) {
	sc, ok := ctx.Value(traceContextKey{}).(SpanContext)
	return sc, ok
}

// SpanContextFromHeaders reconstructs a SpanContext from the trace
// propagation headers of an inbound request. Missing headers leave the
// corresponding field empty; callers typically fill TraceID/SpanID with
// freshly generated IDs when absent.
func SpanContextFromHeaders(h http.Header) SpanContext {
	return SpanContext{
		TraceID:       h.Get(TraceIDHeader),
		SpanID:        h.Get(SpanIDHeader),
		ParentSpanID:  h.Get(ParentSpanIDHeader),
		ServiceName:   h.Get(ServiceNameHeader),
		OperationName: h.Get(OperationNameHeader),
	}
}

// InjectHeaders writes the SpanContext onto an outbound request's headers.
func (sc SpanContext) InjectHeaders(h http.Header) {
	if sc.TraceID != "" {
		h.Set(TraceIDHeader, sc.TraceID)
	}
	if sc.SpanID != "" {
		h.Set(SpanIDHeader, sc.SpanID)
	}
	if sc.ParentSpanID != "" {
		h.Set(ParentSpanIDHeader, sc.ParentSpanID)
	}
	if sc.ServiceName != "" {
		h.Set(ServiceNameHeader, sc.ServiceName)
	}
	if sc.OperationName != "" {
		h.Set(OperationNameHeader, sc.OperationName)
	}
}

// newSpanID returns a random 8-byte identifier as 16 hex characters; if
// crypto/rand fails it falls back to the first 16 characters of a
// logging.NewTraceID value.
func newSpanID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return logging.NewTraceID()[:16]
	}
	return hex.EncodeToString(buf)
}

// LoggingOptions configures section 4.4.6.
type LoggingOptions struct {
	// Service names this interceptor's owning service for ServiceName
	// propagation and the "service" metric/log label.
	Service string
	// LogArgs/LogResult include the (fmt.Sprintf "%v") formatted
	// arguments/result in the entry/exit log fields.
	LogArgs   bool
	LogResult bool
	// AlwaysTrace forces sampling on regardless of Rate.
	AlwaysTrace bool
	// Rate is the Bernoulli sampling probability used when AlwaysTrace is
	// false. Rate <= 0 disables tracing entirely.
	Rate float64
}

// shouldSample implements: alwaysTrace -> true; rate <= 0 -> false;
// else Bernoulli(rate).
func (o LoggingOptions) shouldSample() bool {
	if o.AlwaysTrace {
		return true
	}
	if o.Rate <= 0 {
		return false
	}
	if o.Rate >= 1 {
		return true
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return false
	}
	return float64(n.Int64())/1_000_000 < o.Rate
}

// LoggingInterceptor implements section 4.4.6: entry/exit/duration logging
// plus trace-context propagation and sampling, emitted through the
// ambient *logging.Logger and the aop_invocations_total /
// aop_invocation_duration_seconds metrics.
type LoggingInterceptor struct {
	name    string
	order   int32
	matches pointcutMatcher
	opts    LoggingOptions
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewLoggingInterceptor(name string, order int32, matches func(MethodDescriptor) bool, opts LoggingOptions, logger *logging.Logger, m *metrics.Metrics) *LoggingInterceptor {
	if logger == nil {
		logger = logging.Default()
	}
	return &LoggingInterceptor{name: name, order: order, matches: matches, opts: opts, logger: logger, metrics: m}
}

func (l *LoggingInterceptor) Name() string                    { return l.name }
func (l *LoggingInterceptor) Order() int32                    { return l.order }
func (l *LoggingInterceptor) Applies(m MethodDescriptor) bool { return l.matches(m) }

func (l *LoggingInterceptor) Invoke(inv *Invocation, proceed ProceedFunc) (any, error) {
	ctx := inv.Ctx
	operation := inv.Method.Type + "#" + inv.Method.Method

	parent, hasParent := SpanFromContext(ctx)
	sampled := l.opts.shouldSample()

	sc := SpanContext{
		TraceID:       parent.TraceID,
		SpanID:        newSpanID(),
		ServiceName:   l.opts.Service,
		OperationName: operation,
	}
	if hasParent {
		sc.ParentSpanID = parent.SpanID
	}
	if sc.TraceID == "" {
		if traceID := logging.GetTraceID(ctx); traceID != "" {
			sc.TraceID = traceID
		} else {
			sc.TraceID = logging.NewTraceID()
		}
	}

	entryFields := map[string]interface{}{
		"trace_id":  sc.TraceID,
		"span_id":   sc.SpanID,
		"operation": operation,
	}
	if sc.ParentSpanID != "" {
		entryFields["parent_span_id"] = sc.ParentSpanID
	}
	if l.opts.LogArgs {
		entryFields["args"] = fmt.Sprintf("%v", inv.Args)
	}
	l.logger.Debug(ctx, "entering "+operation, entryFields)

	if sampled {
		ctx = WithSpanContext(ctx, sc)
		inv.Ctx = ctx
	}

	start := time.Now()
	result, err := proceed()
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = string(rterrors.KindOf(err))
	}

	l.logger.LogInvocation(ctx, inv.Method.Type, inv.Method.Method, duration, err)
	if sampled {
		l.logger.LogTraceSpan(ctx, sc.SpanID, sc.ParentSpanID, operation, duration, status)
	}
	if l.metrics != nil {
		l.metrics.RecordAOPInvocation(l.opts.Service, inv.Method.Type, inv.Method.Method, status, duration)
	}

	exitFields := map[string]interface{}{
		"trace_id":  sc.TraceID,
		"span_id":   sc.SpanID,
		"operation": operation,
		"duration":  logging.FormatDuration(duration),
		"status":    status,
	}
	if l.opts.LogResult && err == nil {
		exitFields["result"] = fmt.Sprintf("%v", result)
	}
	l.logger.Debug(ctx, "exiting "+operation, exitFields)

	return result, err
}
