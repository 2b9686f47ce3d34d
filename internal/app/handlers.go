package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gitboss/agent-api/internal/activity"
	"github.com/gitboss/agent-api/internal/cache"
	"github.com/gitboss/agent-api/internal/githubapi"
	"github.com/gitboss/agent-api/internal/timeline"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (r *Runtime) handleContributorActivity(w http.ResponseWriter, req *http.Request) {
	owner, repo, err := r.ownerRepo(req)
	if err != nil {
		r.writeError(w, err)
		return
	}
	username := strings.TrimSpace(req.URL.Query().Get("username"))
	if username == "" {
		r.writeError(w, &activity.ValidationError{Message: "username is required"})
		return
	}
	window, err := activity.ParseWindow(req.URL.Query().Get("start_date"), req.URL.Query().Get("end_date"))
	if err != nil {
		r.writeError(w, err)
		return
	}

	payload, err := r.assembler.ContributorReport(req.Context(), owner, repo, username, window)
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.noteGitHubOutcome(true)
	r.metrics.AddSkippedFetches(int64(payload.SkippedFetches))
	r.writeJSON(w, http.StatusOK, payload)
}

func (r *Runtime) handleRepoStats(w http.ResponseWriter, req *http.Request) {
	owner, repo, granularity, err := r.repoAndRange(req)
	if err != nil {
		r.writeError(w, err)
		return
	}
	key := cache.Key("stats", owner, repo, string(granularity))
	r.serveCached(w, req, key, func(ctx context.Context) (any, error) {
		return r.assembler.RepoStats(ctx, owner, repo, granularity)
	})
}

func (r *Runtime) handleTeamActivity(w http.ResponseWriter, req *http.Request) {
	owner, repo, granularity, err := r.repoAndRange(req)
	if err != nil {
		r.writeError(w, err)
		return
	}
	key := cache.Key("activity", owner, repo, string(granularity))
	r.serveCached(w, req, key, func(ctx context.Context) (any, error) {
		return r.assembler.TeamActivity(ctx, owner, repo, granularity)
	})
}

func (r *Runtime) handleTopContributors(w http.ResponseWriter, req *http.Request) {
	owner, repo, granularity, err := r.repoAndRange(req)
	if err != nil {
		r.writeError(w, err)
		return
	}
	limit := 10
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 {
			r.writeError(w, &activity.ValidationError{Message: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	key := cache.Key("top", owner, repo, string(granularity), strconv.Itoa(limit))
	r.serveCached(w, req, key, func(ctx context.Context) (any, error) {
		return r.assembler.TopContributors(ctx, owner, repo, granularity, limit)
	})
}

func (r *Runtime) handleContributors(w http.ResponseWriter, req *http.Request) {
	owner, repo, err := r.ownerRepo(req)
	if err != nil {
		r.writeError(w, err)
		return
	}
	payload, err := r.assembler.Contributors(req.Context(), owner, repo)
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.noteGitHubOutcome(true)
	r.writeJSON(w, http.StatusOK, payload)
}

func (r *Runtime) handleRepositoryPRs(w http.ResponseWriter, req *http.Request) {
	owner, repo, err := r.ownerRepo(req)
	if err != nil {
		r.writeError(w, err)
		return
	}
	window, err := activity.ParseWindow(req.URL.Query().Get("start_date"), req.URL.Query().Get("end_date"))
	if err != nil {
		r.writeError(w, err)
		return
	}

	payload, err := r.assembler.RepositoryPRs(req.Context(), owner, repo, window, req.URL.Query().Get("state"))
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.noteGitHubOutcome(true)
	r.writeJSON(w, http.StatusOK, payload)
}

// serveCached serves a cached payload when present and otherwise
// builds, stores, and serves it. Cache failures degrade to recompute;
// they never fail the request.
func (r *Runtime) serveCached(w http.ResponseWriter, req *http.Request, key string, build func(ctx context.Context) (any, error)) {
	ctx := req.Context()

	cached, hit, err := r.cache.Get(ctx, key)
	if err != nil {
		r.noteCacheOutcome(false)
		r.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else {
		r.noteCacheOutcome(true)
	}
	r.metrics.ObserveCache(hit)
	if hit {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached)
		return
	}

	payload, err := build(ctx)
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.noteGitHubOutcome(true)

	encoded, err := json.Marshal(payload)
	if err != nil {
		r.writeError(w, err)
		return
	}
	if err := r.cache.Set(ctx, key, encoded); err != nil {
		r.noteCacheOutcome(false)
		r.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "miss")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (r *Runtime) ownerRepo(req *http.Request) (string, string, error) {
	owner := strings.TrimSpace(req.URL.Query().Get("owner"))
	if owner == "" {
		owner = r.cfg.GitHub.DefaultOwner
	}
	repo := strings.TrimSpace(req.URL.Query().Get("repo"))
	if repo == "" {
		repo = r.cfg.GitHub.DefaultRepo
	}
	if owner == "" || repo == "" {
		return "", "", &activity.ValidationError{Message: "owner and repo are required"}
	}
	return owner, repo, nil
}

func (r *Runtime) repoAndRange(req *http.Request) (string, string, timeline.Range, error) {
	owner, repo, err := r.ownerRepo(req)
	if err != nil {
		return "", "", "", err
	}
	// An absent range defaults to week; only an explicit unknown value
	// is a validation error.
	granularity := timeline.RangeWeek
	if raw := strings.TrimSpace(req.URL.Query().Get("range")); raw != "" {
		granularity, err = timeline.ParseRange(raw)
		if err != nil {
			return "", "", "", err
		}
	}
	return owner, repo, granularity, nil
}

func (r *Runtime) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case activity.IsValidationError(err) || errors.Is(err, timeline.ErrUnknownRange):
		status = http.StatusBadRequest
	case githubapi.IsNotFound(err):
		status = http.StatusNotFound
	case githubapi.IsRateLimited(err):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		r.noteGitHubOutcome(false)
		r.logger.Warn("request failed upstream", zap.Int("status", status), zap.Error(err))
	}
	r.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (r *Runtime) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Warn("response encode failed", zap.Error(err))
	}
}
