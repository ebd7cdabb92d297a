package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nevindra/tandem"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a tandem.Tool with OTEL instrumentation. Calls made
// from a channel, branch or worker are tagged with that process and its
// channel.
type ObservedTool struct {
	inner tandem.Tool
	inst  *Instruments
}

var _ tandem.Tool = (*ObservedTool)(nil)

// WrapTool returns an instrumented tool.
func WrapTool(inner tandem.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Definitions() []tandem.ToolDefinition {
	return o.inner.Definitions()
}

func (o *ObservedTool) Execute(ctx context.Context, name string, args json.RawMessage) (tandem.ToolResult, error) {
	scope := processAttrs(ctx)
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		append([]attribute.KeyValue{AttrToolName.String(name)}, scope...)...,
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Error != "" {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Content)),
	)

	// Process ids are unbounded, so metrics only carry the process type.
	metricAttrs := []attribute.KeyValue{AttrToolName.String(name)}
	if pid, _, ok := tandem.ProcessFromContext(ctx); ok {
		metricAttrs = append(metricAttrs, AttrProcessType.String(pid.Type.String()))
	}
	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		append(metricAttrs, attribute.String("status", status))...,
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(metricAttrs...))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result.Content)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	for _, kv := range scope {
		rec.AddAttributes(otellog.String(string(kv.Key), kv.Value.AsString()))
	}
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

// processAttrs returns the process type, id and owning channel recorded in
// ctx, or nil for calls made outside a process.
func processAttrs(ctx context.Context) []attribute.KeyValue {
	pid, channel, ok := tandem.ProcessFromContext(ctx)
	if !ok {
		return nil
	}
	attrs := []attribute.KeyValue{
		AttrProcessType.String(pid.Type.String()),
		AttrProcessID.String(pid.ID),
	}
	if channel != "" {
		attrs = append(attrs, AttrChannelID.String(string(channel)))
	}
	return attrs
}
