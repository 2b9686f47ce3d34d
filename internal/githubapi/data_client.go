package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultGitHubAPIBaseURL = "https://api.github.com/"

// RepoCommit is one commit summary from the commit list endpoint.
type RepoCommit struct {
	SHA         string
	Author      string
	Message     string
	CommittedAt time.Time
}

// CommitDetail is a typed commit detail response including line stats
// and the paths it touched.
type CommitDetail struct {
	SHA          string
	Author       string
	Message      string
	Additions    int
	Deletions    int
	Total        int
	ChangedFiles []string
	CommittedAt  time.Time
}

// SearchIssue is one item from the issue/PR search endpoint.
type SearchIssue struct {
	Number        int
	Title         string
	State         string
	User          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      time.Time
	IsPullRequest bool
	MergedAt      time.Time
}

// Merged reports whether the search item is a merged pull request.
// Only the merged_at timestamp is authoritative; a closed PR without
// one was closed unmerged.
func (s SearchIssue) Merged() bool {
	return s.IsPullRequest && !s.MergedAt.IsZero()
}

// PullRequest is one pull request summary from the list endpoint.
type PullRequest struct {
	Number    int
	Title     string
	State     string
	User      string
	CreatedAt time.Time
	UpdatedAt time.Time
	MergedAt  time.Time
	ClosedAt  time.Time
}

// PullReview is one pull request review submission.
type PullReview struct {
	ID          int64
	User        string
	State       string
	Body        string
	SubmittedAt time.Time
}

// ReviewComment is one inline pull request review comment.
type ReviewComment struct {
	ID        int64
	User      string
	Body      string
	Path      string
	CreatedAt time.Time
}

// IssueComment is one comment on an issue or pull request thread.
type IssueComment struct {
	ID        int64
	User      string
	Body      string
	CreatedAt time.Time
}

// IssueEvent is one timeline event on an issue.
type IssueEvent struct {
	ID        int64
	Event     string
	Actor     string
	CreatedAt time.Time
}

// Contributor is one repository contributor summary.
type Contributor struct {
	Login         string
	Contributions int
}

// DataClient is a typed GitHub REST client for the activity endpoints.
type DataClient struct {
	baseURL       *url.URL
	requestClient *Client
	paginator     *Paginator
}

// NewDataClient creates a typed data client over the generic
// retry/rate-limit request client.
func NewDataClient(baseURL string, requestClient *Client, perPage int) (*DataClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}

	parsed, err := parseAPIBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &DataClient{
		baseURL:       parsed,
		requestClient: requestClient,
		paginator:     NewPaginator(requestClient, perPage),
	}, nil
}

// ListCommits lists commits in a window, optionally filtered to one author.
// The until bound is exclusive of nothing on the API side; callers pass
// the instant after the last moment they want included.
func (c *DataClient) ListCommits(ctx context.Context, owner, repo, author string, since, until time.Time) ([]RepoCommit, error) {
	reqURL, err := c.endpoint(owner, repo, "commits")
	if err != nil {
		return nil, err
	}
	query := reqURL.Query()
	if strings.TrimSpace(author) != "" {
		query.Set("author", author)
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		query.Set("until", until.UTC().Format(time.RFC3339))
	}
	reqURL.RawQuery = query.Encode()

	payloads, err := collectPages[commitListPayload](ctx, c.paginator, reqURL, "list commits")
	if err != nil {
		return nil, err
	}

	commits := make([]RepoCommit, 0, len(payloads))
	for _, payload := range payloads {
		typed := RepoCommit{
			SHA:         payload.SHA,
			Message:     payload.Commit.Message,
			CommittedAt: parseRFC3339(payload.Commit.Author.Date),
		}
		if payload.Author != nil {
			typed.Author = payload.Author.Login
		}
		commits = append(commits, typed)
	}
	return commits, nil
}

// GetCommit reads commit detail including additions and deletions.
func (c *DataClient) GetCommit(ctx context.Context, owner, repo, sha string) (CommitDetail, error) {
	if strings.TrimSpace(sha) == "" {
		return CommitDetail{}, fmt.Errorf("sha is required")
	}
	reqURL, err := c.endpoint(owner, repo, "commits", url.PathEscape(sha))
	if err != nil {
		return CommitDetail{}, err
	}

	var payload commitDetailPayload
	if err := c.getJSON(ctx, reqURL, &payload); err != nil {
		return CommitDetail{}, fmt.Errorf("commit detail: %w", err)
	}

	detail := CommitDetail{
		SHA:         payload.SHA,
		Message:     payload.Commit.Message,
		Additions:   payload.Stats.Additions,
		Deletions:   payload.Stats.Deletions,
		Total:       payload.Stats.Total,
		CommittedAt: parseRFC3339(payload.Commit.Author.Date),
	}
	for _, file := range payload.Files {
		if file.Filename != "" {
			detail.ChangedFiles = append(detail.ChangedFiles, file.Filename)
		}
	}
	if payload.Author != nil {
		detail.Author = payload.Author.Login
	}
	return detail, nil
}

// SearchIssues runs an issue/PR search query and returns all items.
func (c *DataClient) SearchIssues(ctx context.Context, searchQuery string) ([]SearchIssue, error) {
	if strings.TrimSpace(searchQuery) == "" {
		return nil, fmt.Errorf("search query is required")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "search", "issues")
	query := reqURL.Query()
	query.Set("q", searchQuery)
	reqURL.RawQuery = query.Encode()

	payloads, err := collectPages[searchIssuePayload](ctx, c.paginator, reqURL, "search issues")
	if err != nil {
		return nil, err
	}

	issues := make([]SearchIssue, 0, len(payloads))
	for _, payload := range payloads {
		typed := SearchIssue{
			Number:    payload.Number,
			Title:     payload.Title,
			State:     payload.State,
			CreatedAt: parseRFC3339(payload.CreatedAt),
			UpdatedAt: parseRFC3339(payload.UpdatedAt),
			ClosedAt:  parseNullableRFC3339(payload.ClosedAt),
		}
		if payload.User != nil {
			typed.User = payload.User.Login
		}
		if payload.PullRequest != nil {
			typed.IsPullRequest = true
			typed.MergedAt = parseNullableRFC3339(payload.PullRequest.MergedAt)
		}
		issues = append(issues, typed)
	}
	return issues, nil
}

// SearchIssueCount runs an issue/PR search query and returns only the
// total match count, fetching a single minimal page.
func (c *DataClient) SearchIssueCount(ctx context.Context, searchQuery string) (int, error) {
	if strings.TrimSpace(searchQuery) == "" {
		return 0, fmt.Errorf("search query is required")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "search", "issues")
	query := reqURL.Query()
	query.Set("q", searchQuery)
	query.Set("per_page", "1")
	reqURL.RawQuery = query.Encode()

	for page, err := range NewPaginator(c.requestClient, 1).Pages(ctx, reqURL) {
		if err != nil {
			return 0, fmt.Errorf("search issue count: %w", err)
		}
		return page.TotalCount, nil
	}
	return 0, nil
}

// ListPullRequests lists repository pull requests filtered to a window
// on creation, merge, or update time.
func (c *DataClient) ListPullRequests(ctx context.Context, owner, repo, state string, since, until time.Time) ([]PullRequest, error) {
	reqURL, err := c.endpoint(owner, repo, "pulls")
	if err != nil {
		return nil, err
	}
	query := reqURL.Query()
	if strings.TrimSpace(state) == "" {
		state = "all"
	}
	query.Set("state", state)
	query.Set("sort", "updated")
	query.Set("direction", "desc")
	reqURL.RawQuery = query.Encode()

	payloads, err := collectPages[pullRequestPayload](ctx, c.paginator, reqURL, "list pull requests")
	if err != nil {
		return nil, err
	}

	var pulls []PullRequest
	for _, payload := range payloads {
		typed := PullRequest{
			Number:    payload.Number,
			Title:     payload.Title,
			State:     payload.State,
			CreatedAt: parseRFC3339(payload.CreatedAt),
			UpdatedAt: parseRFC3339(payload.UpdatedAt),
			MergedAt:  parseNullableRFC3339(payload.MergedAt),
			ClosedAt:  parseNullableRFC3339(payload.ClosedAt),
		}
		if payload.User != nil {
			typed.User = payload.User.Login
		}
		if !withinWindow(typed.CreatedAt, since, until) &&
			!withinWindow(typed.MergedAt, since, until) &&
			!withinWindow(typed.UpdatedAt, since, until) {
			continue
		}
		pulls = append(pulls, typed)
	}
	return pulls, nil
}

// ListPullReviews lists review submissions for one pull request.
func (c *DataClient) ListPullReviews(ctx context.Context, owner, repo string, pullNumber int) ([]PullReview, error) {
	reqURL, err := c.numberedEndpoint(owner, repo, "pulls", pullNumber, "reviews")
	if err != nil {
		return nil, err
	}

	payloads, err := collectPages[pullReviewPayload](ctx, c.paginator, reqURL, "list pull reviews")
	if err != nil {
		return nil, err
	}

	reviews := make([]PullReview, 0, len(payloads))
	for _, payload := range payloads {
		typed := PullReview{
			ID:          payload.ID,
			State:       payload.State,
			Body:        payload.Body,
			SubmittedAt: parseNullableRFC3339(payload.SubmittedAt),
		}
		if payload.User != nil {
			typed.User = payload.User.Login
		}
		reviews = append(reviews, typed)
	}
	return reviews, nil
}

// ListReviewComments lists inline review comments for one pull request.
func (c *DataClient) ListReviewComments(ctx context.Context, owner, repo string, pullNumber int) ([]ReviewComment, error) {
	reqURL, err := c.numberedEndpoint(owner, repo, "pulls", pullNumber, "comments")
	if err != nil {
		return nil, err
	}

	payloads, err := collectPages[reviewCommentPayload](ctx, c.paginator, reqURL, "list review comments")
	if err != nil {
		return nil, err
	}

	comments := make([]ReviewComment, 0, len(payloads))
	for _, payload := range payloads {
		typed := ReviewComment{
			ID:        payload.ID,
			Body:      payload.Body,
			Path:      payload.Path,
			CreatedAt: parseRFC3339(payload.CreatedAt),
		}
		if payload.User != nil {
			typed.User = payload.User.Login
		}
		comments = append(comments, typed)
	}
	return comments, nil
}

// ListIssueComments lists thread comments for one issue or pull request.
func (c *DataClient) ListIssueComments(ctx context.Context, owner, repo string, issueNumber int) ([]IssueComment, error) {
	reqURL, err := c.numberedEndpoint(owner, repo, "issues", issueNumber, "comments")
	if err != nil {
		return nil, err
	}

	payloads, err := collectPages[issueCommentPayload](ctx, c.paginator, reqURL, "list issue comments")
	if err != nil {
		return nil, err
	}

	comments := make([]IssueComment, 0, len(payloads))
	for _, payload := range payloads {
		typed := IssueComment{
			ID:        payload.ID,
			Body:      payload.Body,
			CreatedAt: parseRFC3339(payload.CreatedAt),
		}
		if payload.User != nil {
			typed.User = payload.User.Login
		}
		comments = append(comments, typed)
	}
	return comments, nil
}

// ListIssueEvents lists timeline events for one issue.
func (c *DataClient) ListIssueEvents(ctx context.Context, owner, repo string, issueNumber int) ([]IssueEvent, error) {
	reqURL, err := c.numberedEndpoint(owner, repo, "issues", issueNumber, "events")
	if err != nil {
		return nil, err
	}

	payloads, err := collectPages[issueEventPayload](ctx, c.paginator, reqURL, "list issue events")
	if err != nil {
		return nil, err
	}

	events := make([]IssueEvent, 0, len(payloads))
	for _, payload := range payloads {
		typed := IssueEvent{
			ID:        payload.ID,
			Event:     payload.Event,
			CreatedAt: parseRFC3339(payload.CreatedAt),
		}
		if payload.Actor != nil {
			typed.Actor = payload.Actor.Login
		}
		events = append(events, typed)
	}
	return events, nil
}

// ListContributors lists repository contributors ordered by contribution
// count.
func (c *DataClient) ListContributors(ctx context.Context, owner, repo string) ([]Contributor, error) {
	reqURL, err := c.endpoint(owner, repo, "contributors")
	if err != nil {
		return nil, err
	}

	payloads, err := collectPages[contributorPayload](ctx, c.paginator, reqURL, "list contributors")
	if err != nil {
		return nil, err
	}

	contributors := make([]Contributor, 0, len(payloads))
	for _, payload := range payloads {
		contributors = append(contributors, Contributor(payload))
	}
	return contributors, nil
}

func (c *DataClient) endpoint(owner, repo string, segments ...string) (*url.URL, error) {
	trimmedOwner := strings.TrimSpace(owner)
	trimmedRepo := strings.TrimSpace(repo)
	if trimmedOwner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if trimmedRepo == "" {
		return nil, fmt.Errorf("repo is required")
	}

	reqURL := c.cloneBaseURL()
	parts := append([]string{"repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo)}, segments...)
	reqURL.Path = joinURLPath(reqURL.Path, parts...)
	return reqURL, nil
}

func (c *DataClient) numberedEndpoint(owner, repo, kind string, number int, tail string) (*url.URL, error) {
	if number <= 0 {
		return nil, fmt.Errorf("%s number must be > 0", strings.TrimSuffix(kind, "s"))
	}
	return c.endpoint(owner, repo, kind, strconv.Itoa(number), tail)
}

func (c *DataClient) getJSON(ctx context.Context, reqURL *url.URL, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, _, err := c.requestClient.Do(req)
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("nil response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Status: resp.StatusCode, Body: readTruncatedBody(resp)}
	}

	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

func collectPages[T any](ctx context.Context, paginator *Paginator, reqURL *url.URL, endpoint string) ([]T, error) {
	var collected []T
	for page, err := range paginator.Pages(ctx, reqURL) {
		if err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		for _, item := range page.Items {
			var typed T
			if err := json.Unmarshal(item, &typed); err != nil {
				return nil, fmt.Errorf("decode %s item: %w", endpoint, err)
			}
			collected = append(collected, typed)
		}
	}
	return collected, nil
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultGitHubAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func (c *DataClient) cloneBaseURL() *url.URL {
	return cloneURL(c.baseURL)
}

func joinURLPath(base string, segments ...string) string {
	trimmedBase := strings.TrimSuffix(base, "/")
	builder := strings.Builder{}
	builder.WriteString(trimmedBase)
	for _, segment := range segments {
		builder.WriteString("/")
		builder.WriteString(strings.TrimPrefix(segment, "/"))
	}
	return builder.String()
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullableRFC3339(raw *string) time.Time {
	if raw == nil {
		return time.Time{}
	}
	return parseRFC3339(*raw)
}

func withinWindow(ts, since, until time.Time) bool {
	if ts.IsZero() {
		return false
	}
	if !since.IsZero() && ts.Before(since) {
		return false
	}
	if !until.IsZero() && ts.After(until) {
		return false
	}
	return true
}

type commitListPayload struct {
	SHA    string          `json:"sha"`
	Author *userPayload    `json:"author"`
	Commit commitCoreBlock `json:"commit"`
}

type commitCoreBlock struct {
	Message string            `json:"message"`
	Author  commitAuthorBlock `json:"author"`
}

type commitAuthorBlock struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type commitDetailPayload struct {
	SHA    string          `json:"sha"`
	Author *userPayload    `json:"author"`
	Commit commitCoreBlock `json:"commit"`
	Stats  struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
		Total     int `json:"total"`
	} `json:"stats"`
	Files []struct {
		Filename string `json:"filename"`
	} `json:"files"`
}

type searchIssuePayload struct {
	Number      int                `json:"number"`
	Title       string             `json:"title"`
	State       string             `json:"state"`
	User        *userPayload       `json:"user"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
	ClosedAt    *string            `json:"closed_at"`
	PullRequest *searchPullPayload `json:"pull_request"`
}

type searchPullPayload struct {
	MergedAt *string `json:"merged_at"`
}

type pullRequestPayload struct {
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	State     string       `json:"state"`
	User      *userPayload `json:"user"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	MergedAt  *string      `json:"merged_at"`
	ClosedAt  *string      `json:"closed_at"`
}

type pullReviewPayload struct {
	ID          int64        `json:"id"`
	User        *userPayload `json:"user"`
	State       string       `json:"state"`
	Body        string       `json:"body"`
	SubmittedAt *string      `json:"submitted_at"`
}

type reviewCommentPayload struct {
	ID        int64        `json:"id"`
	User      *userPayload `json:"user"`
	Body      string       `json:"body"`
	Path      string       `json:"path"`
	CreatedAt string       `json:"created_at"`
}

type issueCommentPayload struct {
	ID        int64        `json:"id"`
	User      *userPayload `json:"user"`
	Body      string       `json:"body"`
	CreatedAt string       `json:"created_at"`
}

type issueEventPayload struct {
	ID        int64        `json:"id"`
	Event     string       `json:"event"`
	Actor     *userPayload `json:"actor"`
	CreatedAt string       `json:"created_at"`
}

type contributorPayload struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

type userPayload struct {
	Login string `json:"login"`
}
