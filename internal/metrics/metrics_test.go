package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRequest("activity_contributor", 200, 120*time.Millisecond)
	m.ObserveRequest("activity_contributor", 502, 40*time.Millisecond)
	m.ObserveGitHubRequest("ok")
	m.ObserveGitHubRequest("rate_limited")
	m.ObserveRateLimitWait()
	m.ObserveRetry()
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.AddSkippedFetches(3)
	m.AddSkippedFetches(0)
	m.AddSkippedFetches(-1)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	exposition := string(body)

	wantLines := []string{
		`gitboss_agent_http_requests_total{route="activity_contributor",status="200"} 1`,
		`gitboss_agent_http_requests_total{route="activity_contributor",status="502"} 1`,
		`gitboss_agent_github_requests_total{outcome="ok"} 1`,
		`gitboss_agent_github_requests_total{outcome="rate_limited"} 1`,
		`gitboss_agent_github_rate_limit_waits_total 1`,
		`gitboss_agent_github_retry_attempts_total 1`,
		`gitboss_agent_report_cache_hits_total 1`,
		`gitboss_agent_report_cache_misses_total 1`,
		`gitboss_agent_aggregation_skipped_fetches_total 3`,
		`gitboss_agent_http_request_duration_seconds_count{route="activity_contributor"} 2`,
	}
	for _, line := range wantLines {
		if !strings.Contains(exposition, line) {
			t.Fatalf("exposition missing %q\n%s", line, exposition)
		}
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveRequest("route", 200, time.Second)
	m.ObserveGitHubRequest("ok")
	m.ObserveRateLimitWait()
	m.ObserveRetry()
	m.ObserveCache(true)
	m.AddSkippedFetches(1)
}
