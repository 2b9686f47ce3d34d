package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gitboss/agent-api/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// newRouter wires the report, metrics, and health endpoints on a
// single mux.
func (r *Runtime) newRouter(metricsHandler http.Handler, healthHandler http.Handler) http.Handler {
	router := chi.NewRouter()
	traceMode := telemetry.TraceMode()

	handle := func(pattern, route string, handler http.Handler) {
		router.Handle(pattern, r.wrapHTTPHandler(traceMode, route, handler))
	}

	handle("/activity/contributor", "activity_contributor", http.HandlerFunc(r.handleContributorActivity))
	handle("/repo/stats", "repo_stats", http.HandlerFunc(r.handleRepoStats))
	handle("/repo/activity", "repo_activity", http.HandlerFunc(r.handleTeamActivity))
	handle("/repo/contributors/stats", "repo_contributors_stats", http.HandlerFunc(r.handleTopContributors))
	handle("/repo/contributors", "repo_contributors", http.HandlerFunc(r.handleContributors))
	handle("/repository-prs/", "repository_prs", http.HandlerFunc(r.handleRepositoryPRs))

	handle("/metrics", "metrics", metricsHandler)
	handle("/livez", "livez", healthHandler)
	handle("/readyz", "readyz", healthHandler)
	handle("/healthz", "healthz", healthHandler)
	return router
}

func (r *Runtime) wrapHTTPHandler(traceMode, route string, handler http.Handler) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	operation := strings.TrimSpace(route)
	if operation == "" {
		operation = "handler"
	}
	traced := !strings.EqualFold(strings.TrimSpace(traceMode), "off")

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		ctx := req.Context()

		var span trace.Span
		if traced {
			ctx, span = otel.Tracer("gitboss-agent/internal/app").Start(
				ctx,
				"http.server."+operation,
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.target", req.URL.Path),
				),
			)
			defer span.End()
		}

		recorder := &statusCapturingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		handler.ServeHTTP(recorder, req.WithContext(ctx))

		r.metrics.ObserveRequest(operation, recorder.status, time.Since(started))
		if span == nil {
			return
		}
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
			return
		}
		span.SetStatus(codes.Ok, "request completed")
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
