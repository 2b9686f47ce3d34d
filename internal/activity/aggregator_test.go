package activity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gitboss/agent-api/internal/githubapi"
)

type fakeFetcher struct {
	mu sync.Mutex

	commits    []githubapi.RepoCommit
	details    map[string]githubapi.CommitDetail
	detailErrs map[string]error

	authored    []githubapi.SearchIssue
	reviewedBy  []githubapi.SearchIssue
	commentedOn []githubapi.SearchIssue
	created     []githubapi.SearchIssue
	closed      []githubapi.SearchIssue
	searchErr   error

	reviews        map[int][]githubapi.PullReview
	reviewComments map[int][]githubapi.ReviewComment
	issueComments  map[int][]githubapi.IssueComment
	issueEvents    map[int][]githubapi.IssueEvent
	reviewErrs     map[int]error

	inFlight    int
	maxInFlight int
	queries     []string
}

func (f *fakeFetcher) track() func() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func (f *fakeFetcher) ListCommits(context.Context, string, string, string, time.Time, time.Time) ([]githubapi.RepoCommit, error) {
	return f.commits, nil
}

func (f *fakeFetcher) GetCommit(_ context.Context, _, _, sha string) (githubapi.CommitDetail, error) {
	defer f.track()()
	time.Sleep(time.Millisecond)
	if err, ok := f.detailErrs[sha]; ok {
		return githubapi.CommitDetail{}, err
	}
	return f.details[sha], nil
}

func (f *fakeFetcher) SearchIssues(_ context.Context, query string) ([]githubapi.SearchIssue, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	switch {
	case strings.Contains(query, "is:pr") && strings.Contains(query, "author:"):
		return f.authored, nil
	case strings.Contains(query, "reviewed-by:"):
		return f.reviewedBy, nil
	case strings.Contains(query, "commenter:"):
		return f.commentedOn, nil
	case strings.Contains(query, "is:issue") && strings.Contains(query, "author:"):
		return f.created, nil
	case strings.Contains(query, "is:issue") && strings.Contains(query, "is:closed"):
		return f.closed, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", query)
}

func (f *fakeFetcher) ListPullReviews(_ context.Context, _, _ string, pullNumber int) ([]githubapi.PullReview, error) {
	defer f.track()()
	if err, ok := f.reviewErrs[pullNumber]; ok {
		return nil, err
	}
	return f.reviews[pullNumber], nil
}

func (f *fakeFetcher) ListReviewComments(_ context.Context, _, _ string, pullNumber int) ([]githubapi.ReviewComment, error) {
	return f.reviewComments[pullNumber], nil
}

func (f *fakeFetcher) ListIssueComments(_ context.Context, _, _ string, issueNumber int) ([]githubapi.IssueComment, error) {
	return f.issueComments[issueNumber], nil
}

func (f *fakeFetcher) ListIssueEvents(_ context.Context, _, _ string, issueNumber int) ([]githubapi.IssueEvent, error) {
	return f.issueEvents[issueNumber], nil
}

func testWindow() Window {
	return NewWindow(
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC),
	)
}

func inWindow(day, hour int) time.Time {
	return time.Date(2026, 8, day, hour, 0, 0, 0, time.UTC)
}

func TestContributorActivityAggregation(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		commits: []githubapi.RepoCommit{
			{SHA: "abc", Author: "alice", Message: "fix parser", CommittedAt: inWindow(2, 10)},
			{SHA: "def", Author: "alice", Message: "update docs", CommittedAt: inWindow(3, 11)},
		},
		details: map[string]githubapi.CommitDetail{
			"abc": {SHA: "abc", Additions: 10, Deletions: 5, ChangedFiles: []string{"parser.go", "parser_test.go"}},
			"def": {SHA: "def", Additions: 3, Deletions: 2, ChangedFiles: []string{"README.md", "parser.go"}},
		},
		authored: []githubapi.SearchIssue{
			{Number: 20, Title: "add exporter", State: "closed", User: "alice", CreatedAt: inWindow(2, 9), IsPullRequest: true, MergedAt: inWindow(3, 9)},
		},
		reviewedBy: []githubapi.SearchIssue{
			{Number: 7, Title: "bob feature", State: "open", User: "bob", CreatedAt: inWindow(1, 8), IsPullRequest: true},
			{Number: 20, Title: "add exporter", State: "closed", User: "alice", CreatedAt: inWindow(2, 9), IsPullRequest: true},
		},
		commentedOn: []githubapi.SearchIssue{
			{Number: 7, Title: "bob feature", State: "open", User: "bob", CreatedAt: inWindow(1, 8), IsPullRequest: true},
			{Number: 9, Title: "carol feature", State: "open", User: "carol", CreatedAt: inWindow(1, 8), IsPullRequest: true},
		},
		created: []githubapi.SearchIssue{
			{Number: 45, Title: "tracking issue", State: "open", User: "alice", CreatedAt: inWindow(3, 9)},
		},
		closed: []githubapi.SearchIssue{
			{Number: 40, Title: "flaky test", State: "closed", User: "dave"},
			{Number: 41, Title: "stale issue", State: "closed", User: "dave"},
		},
		reviews: map[int][]githubapi.PullReview{
			7: {
				{ID: 1, User: "alice", State: "APPROVED", SubmittedAt: inWindow(4, 15)},
				{ID: 2, User: "alice", State: "COMMENTED", SubmittedAt: time.Date(2026, 7, 20, 10, 0, 0, 0, time.UTC)},
				{ID: 3, User: "bob", State: "COMMENTED", SubmittedAt: inWindow(4, 16)},
			},
		},
		reviewComments: map[int][]githubapi.ReviewComment{
			7: {
				{ID: 11, User: "alice", Body: "nit", Path: "main.go", CreatedAt: inWindow(4, 15)},
			},
		},
		issueComments: map[int][]githubapi.IssueComment{
			7: {
				{ID: 21, User: "alice", Body: "looks good overall", CreatedAt: inWindow(4, 17)},
			},
			9: {
				{ID: 22, User: "alice", Body: "have you considered caching", CreatedAt: inWindow(5, 9)},
			},
		},
		issueEvents: map[int][]githubapi.IssueEvent{
			40: {
				{ID: 31, Event: "assigned", Actor: "dave", CreatedAt: inWindow(1, 9)},
				{ID: 32, Event: "closed", Actor: "alice", CreatedAt: inWindow(6, 12)},
			},
			41: {
				{ID: 33, Event: "closed", Actor: "bob", CreatedAt: inWindow(6, 13)},
			},
		},
	}

	aggregator := NewAggregator(fetcher, nil, 4)
	got, err := aggregator.ContributorActivity(context.Background(), "acme", "widgets", "alice", testWindow())
	if err != nil {
		t.Fatalf("ContributorActivity() unexpected error: %v", err)
	}

	if got.TotalLinesChanged != 20 {
		t.Fatalf("TotalLinesChanged = %d, want 20", got.TotalLinesChanged)
	}
	if len(got.Commits) != 2 {
		t.Fatalf("Commits = %d, want 2", len(got.Commits))
	}
	wantFiles := []string{"README.md", "parser.go", "parser_test.go"}
	if len(got.UniqueFilesChanged) != len(wantFiles) {
		t.Fatalf("UniqueFilesChanged = %v, want %v", got.UniqueFilesChanged, wantFiles)
	}
	for i, file := range wantFiles {
		if got.UniqueFilesChanged[i] != file {
			t.Fatalf("UniqueFilesChanged = %v, want %v", got.UniqueFilesChanged, wantFiles)
		}
	}

	if len(got.AuthoredPRs) != 1 {
		t.Fatalf("AuthoredPRs = %d, want 1", len(got.AuthoredPRs))
	}
	if !got.AuthoredPRs[0].Merged {
		t.Fatalf("AuthoredPRs[0].Merged = false, want true")
	}

	// PR 7 appears in both searches but yields one entry; PR 20 is
	// alice's own and never counts as reviewed; PR 9 has only a thread
	// comment so it is not a reviewed PR.
	if len(got.ReviewedPRs) != 1 {
		t.Fatalf("ReviewedPRs = %d, want 1: %+v", len(got.ReviewedPRs), got.ReviewedPRs)
	}
	reviewed := got.ReviewedPRs[0]
	if reviewed.Number != 7 || reviewed.Author != "bob" {
		t.Fatalf("ReviewedPRs[0] = %+v", reviewed)
	}
	// The July review and bob's review are filtered out.
	if len(reviewed.Reviews) != 1 || reviewed.Reviews[0].State != "APPROVED" {
		t.Fatalf("Reviews = %+v", reviewed.Reviews)
	}
	if len(reviewed.ReviewComments) != 1 {
		t.Fatalf("ReviewComments = %d, want 1", len(reviewed.ReviewComments))
	}

	if len(got.GeneralPRComments) != 2 {
		t.Fatalf("GeneralPRComments = %d threads, want 2", len(got.GeneralPRComments))
	}
	if got.GeneralPRComments[0].Number != 7 || got.GeneralPRComments[1].Number != 9 {
		t.Fatalf("GeneralPRComments = %+v, want threads on PRs 7 and 9", got.GeneralPRComments)
	}
	if len(got.GeneralPRComments[1].Comments) != 1 || got.GeneralPRComments[1].Title != "carol feature" {
		t.Fatalf("GeneralPRComments[1] = %+v", got.GeneralPRComments[1])
	}

	if len(got.CreatedIssues) != 1 || got.CreatedIssues[0].IssueNumber != 45 {
		t.Fatalf("CreatedIssues = %+v", got.CreatedIssues)
	}

	// Issue 40 was closed by alice; issue 41 by bob.
	if len(got.ClosedIssues) != 1 || got.ClosedIssues[0].IssueNumber != 40 {
		t.Fatalf("ClosedIssues = %+v", got.ClosedIssues)
	}

	if got.Partial() {
		t.Fatalf("Partial() = true, want false")
	}

	events := got.Events()
	want := 2 + 1 + 1 + 1 + 2 + 1 + 1
	if len(events) != want {
		t.Fatalf("Events() = %d, want %d", len(events), want)
	}
}

func TestContributorActivityPartialFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		commits: []githubapi.RepoCommit{
			{SHA: "abc", Author: "alice", CommittedAt: inWindow(2, 10)},
			{SHA: "bad", Author: "alice", CommittedAt: inWindow(3, 10)},
		},
		details: map[string]githubapi.CommitDetail{
			"abc": {SHA: "abc", Additions: 4, Deletions: 1},
		},
		detailErrs: map[string]error{
			"bad": fmt.Errorf("boom"),
		},
		reviewedBy: []githubapi.SearchIssue{
			{Number: 7, User: "bob", IsPullRequest: true},
		},
		reviewErrs: map[int]error{
			7: fmt.Errorf("boom"),
		},
	}

	aggregator := NewAggregator(fetcher, nil, 2)
	got, err := aggregator.ContributorActivity(context.Background(), "acme", "widgets", "alice", testWindow())
	if err != nil {
		t.Fatalf("ContributorActivity() unexpected error: %v", err)
	}

	if len(got.Commits) != 2 {
		t.Fatalf("Commits = %d, want 2 (failed detail keeps the commit)", len(got.Commits))
	}
	if got.TotalLinesChanged != 5 {
		t.Fatalf("TotalLinesChanged = %d, want 5", got.TotalLinesChanged)
	}
	if len(got.ReviewedPRs) != 0 {
		t.Fatalf("ReviewedPRs = %d, want 0", len(got.ReviewedPRs))
	}
	if got.SkippedFetches != 2 {
		t.Fatalf("SkippedFetches = %d, want 2", got.SkippedFetches)
	}
	if !got.Partial() {
		t.Fatalf("Partial() = false, want true")
	}
}

func TestContributorActivityTopLevelFailureIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{searchErr: fmt.Errorf("search unavailable")}
	aggregator := NewAggregator(fetcher, nil, 2)

	if _, err := aggregator.ContributorActivity(context.Background(), "acme", "widgets", "alice", testWindow()); err == nil {
		t.Fatalf("ContributorActivity() expected error")
	}
}

func TestContributorActivityBoundsConcurrency(t *testing.T) {
	t.Parallel()

	commits := make([]githubapi.RepoCommit, 20)
	details := make(map[string]githubapi.CommitDetail, 20)
	for i := range commits {
		sha := fmt.Sprintf("sha-%02d", i)
		commits[i] = githubapi.RepoCommit{SHA: sha, Author: "alice", CommittedAt: inWindow(2, 10)}
		details[sha] = githubapi.CommitDetail{SHA: sha, Additions: 1}
	}

	fetcher := &fakeFetcher{commits: commits, details: details}
	aggregator := NewAggregator(fetcher, nil, 3)

	if _, err := aggregator.ContributorActivity(context.Background(), "acme", "widgets", "alice", testWindow()); err != nil {
		t.Fatalf("ContributorActivity() unexpected error: %v", err)
	}
	if fetcher.maxInFlight > 3 {
		t.Fatalf("maxInFlight = %d, want <= 3", fetcher.maxInFlight)
	}
}

func TestClosedIssueSelectionIgnoresAssignment(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		closed: []githubapi.SearchIssue{
			{Number: 52, Title: "orphaned alert", State: "closed", User: "dave"},
		},
		issueEvents: map[int][]githubapi.IssueEvent{
			52: {
				{ID: 1, Event: "assigned", Actor: "dave", CreatedAt: inWindow(1, 9)},
				{ID: 2, Event: "closed", Actor: "alice", CreatedAt: inWindow(5, 12)},
			},
		},
	}

	aggregator := NewAggregator(fetcher, nil, 2)
	got, err := aggregator.ContributorActivity(context.Background(), "acme", "widgets", "alice", testWindow())
	if err != nil {
		t.Fatalf("ContributorActivity() unexpected error: %v", err)
	}

	// The issue is assigned to dave, yet alice closed it: the event
	// history decides, not the assignee.
	if len(got.ClosedIssues) != 1 || got.ClosedIssues[0].IssueNumber != 52 {
		t.Fatalf("ClosedIssues = %+v, want issue 52 closed by alice", got.ClosedIssues)
	}
	for _, query := range fetcher.queries {
		if strings.Contains(query, "assignee:") {
			t.Fatalf("search query %q filters by assignee", query)
		}
	}
}

func TestOwnPRThreadCommentsKept(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		commentedOn: []githubapi.SearchIssue{
			{Number: 20, Title: "add exporter", State: "open", User: "alice", CreatedAt: inWindow(2, 9), IsPullRequest: true},
		},
		issueComments: map[int][]githubapi.IssueComment{
			20: {
				{ID: 21, User: "alice", Body: "rebased on main", CreatedAt: inWindow(4, 17)},
			},
		},
		reviewComments: map[int][]githubapi.ReviewComment{
			20: {
				{ID: 11, User: "alice", Body: "self nit", Path: "main.go", CreatedAt: inWindow(4, 15)},
			},
		},
	}

	aggregator := NewAggregator(fetcher, nil, 2)
	got, err := aggregator.ContributorActivity(context.Background(), "acme", "widgets", "alice", testWindow())
	if err != nil {
		t.Fatalf("ContributorActivity() unexpected error: %v", err)
	}

	// Alice's own PR never shows up as a reviewed PR, but her thread
	// comments on it are still reported.
	if len(got.ReviewedPRs) != 0 {
		t.Fatalf("ReviewedPRs = %+v, want none for the author's own PR", got.ReviewedPRs)
	}
	if len(got.GeneralPRComments) != 1 {
		t.Fatalf("GeneralPRComments = %+v, want one thread", got.GeneralPRComments)
	}
	thread := got.GeneralPRComments[0]
	if thread.Number != 20 || thread.Title != "add exporter" || len(thread.Comments) != 1 {
		t.Fatalf("thread = %+v, want one comment on PR 20", thread)
	}
}

func TestContributorActivityCapsTimelineCandidates(t *testing.T) {
	t.Parallel()

	reviewedBy := make([]githubapi.SearchIssue, 6)
	for i := range reviewedBy {
		reviewedBy[i] = githubapi.SearchIssue{Number: 100 + i, User: "bob", IsPullRequest: true}
	}
	reviews := make(map[int][]githubapi.PullReview, len(reviewedBy))
	for _, issue := range reviewedBy {
		reviews[issue.Number] = []githubapi.PullReview{
			{ID: int64(issue.Number), User: "alice", State: "APPROVED", SubmittedAt: inWindow(4, 15)},
		}
	}

	fetcher := &fakeFetcher{reviewedBy: reviewedBy, reviews: reviews}
	aggregator := NewAggregator(fetcher, nil, 4)
	aggregator.MaxTimelinePRs = 2

	got, err := aggregator.ContributorActivity(context.Background(), "acme", "widgets", "alice", testWindow())
	if err != nil {
		t.Fatalf("ContributorActivity() unexpected error: %v", err)
	}

	// Candidates are sorted by number before the cap, so the two lowest
	// PRs survive.
	if len(got.ReviewedPRs) != 2 {
		t.Fatalf("ReviewedPRs = %d, want 2", len(got.ReviewedPRs))
	}
	if got.ReviewedPRs[0].Number != 100 || got.ReviewedPRs[1].Number != 101 {
		t.Fatalf("ReviewedPRs = %+v, want PRs 100 and 101", got.ReviewedPRs)
	}
}

func TestContributorActivityInputValidation(t *testing.T) {
	t.Parallel()

	aggregator := NewAggregator(&fakeFetcher{}, nil, 2)
	ctx := context.Background()

	if _, err := aggregator.ContributorActivity(ctx, "", "widgets", "alice", testWindow()); err == nil {
		t.Fatalf("expected error for missing owner")
	}
	if _, err := aggregator.ContributorActivity(ctx, "acme", "widgets", " ", testWindow()); err == nil {
		t.Fatalf("expected error for missing login")
	}
	inverted := Window{Start: inWindow(7, 0), End: inWindow(1, 0)}
	if _, err := aggregator.ContributorActivity(ctx, "acme", "widgets", "alice", inverted); err == nil {
		t.Fatalf("expected error for inverted window")
	}
}
