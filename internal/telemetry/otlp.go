package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// otlpHTTPExporter pushes finished spans to an OTLP/HTTP collector using
// the JSON encoding. It keeps the module free of the heavyweight
// otlptrace exporter dependency while staying wire-compatible.
type otlpHTTPExporter struct {
	endpoint string
	client   *http.Client
}

func newOTLPHTTPExporter(endpoint string, timeout time.Duration) *otlpHTTPExporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &otlpHTTPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// ExportSpans sends the spans to the collector. An empty batch is a no-op.
func (e *otlpHTTPExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	payload, err := json.Marshal(buildOTLPTraceRequest(spans))
	if err != nil {
		return fmt.Errorf("encode otlp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build otlp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send otlp request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if readErr != nil {
			body = []byte("body-read-error")
		}
		return fmt.Errorf("otlp export failed status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

// Shutdown satisfies sdktrace.SpanExporter; the exporter holds no state.
func (e *otlpHTTPExporter) Shutdown(context.Context) error {
	return nil
}

type otlpTraceRequest struct {
	ResourceSpans []otlpResourceSpans `json:"resourceSpans"`
}

type otlpResourceSpans struct {
	Resource   otlpResource     `json:"resource"`
	ScopeSpans []otlpScopeSpans `json:"scopeSpans"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpScopeSpans struct {
	Scope otlpScope  `json:"scope"`
	Spans []otlpSpan `json:"spans"`
}

type otlpScope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type otlpSpan struct {
	TraceID           string          `json:"traceId"`
	SpanID            string          `json:"spanId"`
	ParentSpanID      string          `json:"parentSpanId,omitempty"`
	Name              string          `json:"name"`
	Kind              int             `json:"kind"`
	StartTimeUnixNano string          `json:"startTimeUnixNano"`
	EndTimeUnixNano   string          `json:"endTimeUnixNano"`
	Attributes        []otlpAttribute `json:"attributes,omitempty"`
	Status            otlpStatus      `json:"status"`
}

type otlpStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type otlpAttribute struct {
	Key   string       `json:"key"`
	Value otlpAnyValue `json:"value"`
}

type otlpAnyValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
}

func buildOTLPTraceRequest(spans []sdktrace.ReadOnlySpan) otlpTraceRequest {
	type scopeKey struct {
		resource string
		scope    string
	}

	resourceOrder := make([]string, 0, 1)
	resources := make(map[string]*otlpResourceSpans)
	scopes := make(map[scopeKey]*otlpScopeSpans)

	for _, span := range spans {
		resourceID := span.Resource().String()
		resourceSpans, ok := resources[resourceID]
		if !ok {
			resourceSpans = &otlpResourceSpans{
				Resource: otlpResource{
					Attributes: toOTLPAttributes(span.Resource().Attributes()),
				},
			}
			resources[resourceID] = resourceSpans
			resourceOrder = append(resourceOrder, resourceID)
		}

		scope := span.InstrumentationScope()
		key := scopeKey{resource: resourceID, scope: scope.Name + "@" + scope.Version}
		scopeSpans, ok := scopes[key]
		if !ok {
			resourceSpans.ScopeSpans = append(resourceSpans.ScopeSpans, otlpScopeSpans{
				Scope: otlpScope{Name: scope.Name, Version: scope.Version},
			})
			scopeSpans = &resourceSpans.ScopeSpans[len(resourceSpans.ScopeSpans)-1]
			scopes[key] = scopeSpans
		}
		scopeSpans.Spans = append(scopeSpans.Spans, toOTLPSpan(span))
	}

	request := otlpTraceRequest{ResourceSpans: make([]otlpResourceSpans, 0, len(resourceOrder))}
	for _, resourceID := range resourceOrder {
		request.ResourceSpans = append(request.ResourceSpans, *resources[resourceID])
	}
	return request
}

func toOTLPSpan(span sdktrace.ReadOnlySpan) otlpSpan {
	spanContext := span.SpanContext()

	parentSpanID := ""
	if span.Parent().IsValid() {
		parentSpanID = span.Parent().SpanID().String()
	}

	status := span.Status()
	return otlpSpan{
		TraceID:           spanContext.TraceID().String(),
		SpanID:            spanContext.SpanID().String(),
		ParentSpanID:      parentSpanID,
		Name:              span.Name(),
		Kind:              int(span.SpanKind()),
		StartTimeUnixNano: strconv.FormatInt(span.StartTime().UnixNano(), 10),
		EndTimeUnixNano:   strconv.FormatInt(span.EndTime().UnixNano(), 10),
		Attributes:        toOTLPAttributes(span.Attributes()),
		Status: otlpStatus{
			Code:    int(status.Code),
			Message: status.Description,
		},
	}
}

func toOTLPAttributes(attributes []attribute.KeyValue) []otlpAttribute {
	if len(attributes) == 0 {
		return nil
	}

	converted := make([]otlpAttribute, 0, len(attributes))
	for _, kv := range attributes {
		value := otlpAnyValue{}
		switch kv.Value.Type() {
		case attribute.BOOL:
			boolValue := kv.Value.AsBool()
			value.BoolValue = &boolValue
		case attribute.INT64:
			intValue := strconv.FormatInt(kv.Value.AsInt64(), 10)
			value.IntValue = &intValue
		case attribute.FLOAT64:
			doubleValue := kv.Value.AsFloat64()
			value.DoubleValue = &doubleValue
		default:
			stringValue := kv.Value.Emit()
			value.StringValue = &stringValue
		}
		converted = append(converted, otlpAttribute{Key: string(kv.Key), Value: value})
	}
	return converted
}
