// Package obs configures OpenTelemetry tracing and metrics for provider
// calls.
package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/Cstannahill/farm-framework/obs"

var (
	manager     *Manager
	managerOnce sync.Once
)

// Manager coordinates OTEL setup.
type Manager struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	requests     metric.Int64Counter
	tokensUsed   metric.Int64Counter
	requestError metric.Int64Counter
}

// Options controls Init.
type Options struct {
	ServiceName string
	// StdoutTrace writes spans to stdout; useful for local development.
	StdoutTrace bool
	// SampleRatio in (0,1]; defaults to 1.
	SampleRatio float64
}

// Init configures global tracing and metrics. Safe to call once; returns a
// shutdown function.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	var initErr error
	managerOnce.Do(func() {
		if opts.ServiceName == "" {
			opts.ServiceName = "farm-ai"
		}
		if opts.SampleRatio <= 0 || opts.SampleRatio > 1 {
			opts.SampleRatio = 1
		}

		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
		))
		if err != nil {
			initErr = err
			return
		}

		traceOpts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(opts.SampleRatio)),
		}
		if opts.StdoutTrace {
			exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
			if err != nil {
				initErr = err
				return
			}
			traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
		}
		tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
		otel.SetTracerProvider(tracerProvider)

		meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		otel.SetMeterProvider(meterProvider)

		m := &Manager{
			tracerProvider: tracerProvider,
			meterProvider:  meterProvider,
			tracer:         tracerProvider.Tracer(scope),
			meter:          meterProvider.Meter(scope),
		}
		m.requests, _ = m.meter.Int64Counter("ai.requests")
		m.tokensUsed, _ = m.meter.Int64Counter("ai.tokens")
		m.requestError, _ = m.meter.Int64Counter("ai.request_errors")
		manager = m
	})
	if initErr != nil {
		return nil, initErr
	}
	return func(ctx context.Context) error {
		if manager == nil {
			return nil
		}
		if err := manager.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		return manager.meterProvider.Shutdown(ctx)
	}, nil
}

// Tracer returns the configured tracer, or a global fallback before Init.
func Tracer() trace.Tracer {
	if manager != nil {
		return manager.tracer
	}
	return otel.Tracer(scope)
}

// Recorder finishes a request span and records request metrics.
type Recorder struct {
	span  trace.Span
	attrs []attribute.KeyValue
}

// StartRequest opens a span for one provider operation.
func StartRequest(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, *Recorder) {
	ctx, span := Tracer().Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, &Recorder{span: span, attrs: attrs}
}

// AddAttributes appends attributes discovered after the span started.
func (r *Recorder) AddAttributes(attrs ...attribute.KeyValue) {
	if r == nil {
		return
	}
	r.attrs = append(r.attrs, attrs...)
	r.span.SetAttributes(attrs...)
}

// End closes the span, recording the error status and token usage.
func (r *Recorder) End(err error, totalTokens int64) {
	if r == nil {
		return
	}
	if manager != nil {
		ctx := context.Background()
		manager.requests.Add(ctx, 1, metric.WithAttributes(r.attrs...))
		if totalTokens > 0 {
			manager.tokensUsed.Add(ctx, totalTokens, metric.WithAttributes(r.attrs...))
		}
		if err != nil {
			manager.requestError.Add(ctx, 1, metric.WithAttributes(r.attrs...))
		}
	}
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	} else {
		r.span.SetStatus(codes.Ok, "")
	}
	r.span.End()
}
