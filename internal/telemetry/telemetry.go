// Package telemetry adds OpenTelemetry tracing and metrics around dispatch
// and processing. Without configured providers the global no-op
// implementations make the middleware a pass-through.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"cmdflow/internal/dispatcher"
	"cmdflow/internal/domain"
	"cmdflow/internal/processor"
)

const scopeName = "cmdflow"

func commandAttributes(cmd domain.Command) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("command.id", cmd.CommandID()),
		attribute.String("command.type", cmd.CommandType()),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func Dispatch() dispatcher.Middleware {
	return DispatchWithTracer(otel.Tracer(scopeName))
}

func DispatchWithTracer(tracer trace.Tracer) dispatcher.Middleware {
	return func(next dispatcher.Dispatcher) dispatcher.Dispatcher {
		return dispatcher.Func(func(ctx context.Context, cmd domain.Command) error {
			ctx, span := tracer.Start(ctx, "cmdflow.dispatch",
				trace.WithSpanKind(trace.SpanKindProducer),
				trace.WithAttributes(commandAttributes(cmd)...),
			)
			err := next.Dispatch(ctx, cmd)
			endSpan(span, err)
			return err
		})
	}
}

func Process() processor.Middleware {
	return ProcessWithTracer(otel.Tracer(scopeName))
}

// ProcessWithTracer also records how long the command waited since it was
// created, as command.latency_ms.
func ProcessWithTracer(tracer trace.Tracer) processor.Middleware {
	return func(next processor.Processor) processor.Processor {
		return processor.ProcessorFunc(func(ctx context.Context, cmd domain.Command) error {
			latency := time.Since(cmd.CommandTime())
			ctx, span := tracer.Start(ctx, "cmdflow.process",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(commandAttributes(cmd)...),
				trace.WithAttributes(attribute.Int64("command.latency_ms", latency.Milliseconds())),
			)
			err := next.Process(ctx, cmd)
			endSpan(span, err)
			return err
		})
	}
}

func Metrics() processor.Middleware {
	return MetricsWithMeter(otel.Meter(scopeName))
}

// MetricsWithMeter records processing time and queue latency per command type.
func MetricsWithMeter(meter metric.Meter) processor.Middleware {
	// Instrument errors leave no-op instruments behind.
	processTime, _ := meter.Float64Histogram(
		"cmdflow.command.process_time",
		metric.WithDescription("Time spent processing a command"),
		metric.WithUnit("ms"),
	)
	latency, _ := meter.Float64Histogram(
		"cmdflow.command.latency",
		metric.WithDescription("Time between command creation and the start of its processing"),
		metric.WithUnit("ms"),
	)
	processed, _ := meter.Int64Counter(
		"cmdflow.command.processed",
		metric.WithDescription("Processed commands"),
		metric.WithUnit("{command}"),
	)

	return func(next processor.Processor) processor.Processor {
		return processor.ProcessorFunc(func(ctx context.Context, cmd domain.Command) error {
			start := time.Now()
			latency.Record(ctx, float64(start.Sub(cmd.CommandTime()))/float64(time.Millisecond),
				metric.WithAttributes(attribute.String("command.type", cmd.CommandType())))

			err := next.Process(ctx, cmd)

			status := "ok"
			if err != nil {
				status = "error"
			}
			attrs := metric.WithAttributes(
				attribute.String("command.type", cmd.CommandType()),
				attribute.String("status", status),
			)
			processTime.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
			processed.Add(ctx, 1, attrs)
			return err
		})
	}
}
