// Package report assembles dashboard-ready views from aggregated
// activity, timeline bins, and repository-wide counts.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gitboss/agent-api/internal/activity"
	"github.com/gitboss/agent-api/internal/githubapi"
	"github.com/gitboss/agent-api/internal/timeline"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFanOutConcurrency  = 10
	defaultTopContributorsCap = 10
)

// DataSource is the subset of the GitHub data client the assembler needs.
type DataSource interface {
	ListCommits(ctx context.Context, owner, repo, author string, since, until time.Time) ([]githubapi.RepoCommit, error)
	SearchIssueCount(ctx context.Context, query string) (int, error)
	ListPullRequests(ctx context.Context, owner, repo, state string, since, until time.Time) ([]githubapi.PullRequest, error)
	ListPullReviews(ctx context.Context, owner, repo string, pullNumber int) ([]githubapi.PullReview, error)
	ListContributors(ctx context.Context, owner, repo string) ([]githubapi.Contributor, error)
}

// ContributorSource aggregates one contributor's activity in a window.
type ContributorSource interface {
	ContributorActivity(ctx context.Context, owner, repo, login string, window activity.Window) (*activity.ContributorActivity, error)
}

// Assembler builds report payloads.
type Assembler struct {
	data         DataSource
	contributors ContributorSource
	logger       *zap.Logger
	concurrency  int
	// Now is injected for testability.
	Now func() time.Time
}

// NewAssembler creates a report assembler. concurrency caps per-PR
// review fan-outs; values <= 0 use the default of 10.
func NewAssembler(data DataSource, contributors ContributorSource, logger *zap.Logger, concurrency int) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = defaultFanOutConcurrency
	}
	return &Assembler{
		data:         data,
		contributors: contributors,
		logger:       logger,
		concurrency:  concurrency,
		Now:          time.Now,
	}
}

// CommitEntry is one commit in a contributor report.
type CommitEntry struct {
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Date         time.Time `json:"date"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	LinesChanged int       `json:"lines_changed"`
	Files        []string  `json:"files,omitempty"`
}

// AuthoredPREntry is one pull request the contributor opened.
type AuthoredPREntry struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Merged    bool      `json:"merged"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewEntry is one review submission in a contributor report.
type ReviewEntry struct {
	State       string    `json:"state"`
	Body        string    `json:"body,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewCommentEntry is one inline review comment.
type ReviewCommentEntry struct {
	Body      string    `json:"body"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewedPREntry groups review-side activity on one pull request.
type ReviewedPREntry struct {
	Number         int                  `json:"number"`
	Title          string               `json:"title"`
	Author         string               `json:"author"`
	Reviews        []ReviewEntry        `json:"reviews,omitempty"`
	ReviewComments []ReviewCommentEntry `json:"review_comments,omitempty"`
}

// GeneralCommentEntry is one PR thread comment outside a review.
type GeneralCommentEntry struct {
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// GeneralCommentThread groups thread comments on one pull request.
type GeneralCommentThread struct {
	PRNumber int                   `json:"pr_number"`
	PRTitle  string                `json:"pr_title"`
	Comments []GeneralCommentEntry `json:"comments"`
}

// CreatedIssueEntry is one issue the contributor opened.
type CreatedIssueEntry struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// ClosedIssueEntry is one issue the contributor closed.
type ClosedIssueEntry struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	ClosedAt time.Time `json:"closed_at"`
}

// ContributorReport is the full per-contributor activity payload.
type ContributorReport struct {
	Username  string `json:"username"`
	Repo      string `json:"repo"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`

	TotalCommits                int           `json:"total_commits"`
	Commits                     []CommitEntry `json:"commits"`
	TotalLinesChanged           int           `json:"total_lines_changed"`
	UniqueFilesChangedInCommits []string      `json:"unique_files_changed_in_commits"`

	AuthoredPRs              []AuthoredPREntry      `json:"authored_prs"`
	ReviewsAndReviewComments []ReviewedPREntry      `json:"reviews_and_review_comments"`
	GeneralPRComments        []GeneralCommentThread `json:"general_pr_comments"`
	CreatedIssues            []CreatedIssueEntry    `json:"created_issues"`
	ClosedIssuesByUser       []ClosedIssueEntry     `json:"closed_issues_by_user"`

	Partial        bool `json:"partial"`
	SkippedFetches int  `json:"skipped_fetches,omitempty"`
}

// ContributorReport assembles the per-contributor activity payload.
func (a *Assembler) ContributorReport(ctx context.Context, owner, repo, username string, window activity.Window) (*ContributorReport, error) {
	aggregated, err := a.contributors.ContributorActivity(ctx, owner, repo, username, window)
	if err != nil {
		return nil, err
	}

	result := &ContributorReport{
		Username:  aggregated.Login,
		Repo:      aggregated.Repo,
		StartDate: window.Start.Format("2006-01-02"),
		EndDate:   window.End.Format("2006-01-02"),

		TotalCommits:                len(aggregated.Commits),
		TotalLinesChanged:           aggregated.TotalLinesChanged,
		UniqueFilesChangedInCommits: aggregated.UniqueFilesChanged,

		Partial:        aggregated.Partial(),
		SkippedFetches: aggregated.SkippedFetches,
	}

	for _, commit := range aggregated.Commits {
		result.Commits = append(result.Commits, CommitEntry{
			SHA:          commit.SHA,
			Message:      commit.Message,
			Date:         commit.When,
			Additions:    commit.Additions,
			Deletions:    commit.Deletions,
			LinesChanged: commit.LinesChanged(),
			Files:        commit.Files,
		})
	}
	for _, pr := range aggregated.AuthoredPRs {
		result.AuthoredPRs = append(result.AuthoredPRs, AuthoredPREntry{
			Number:    pr.Number,
			Title:     pr.Title,
			State:     pr.State,
			Merged:    pr.Merged,
			CreatedAt: pr.When,
		})
	}
	for _, reviewed := range aggregated.ReviewedPRs {
		entry := ReviewedPREntry{
			Number: reviewed.Number,
			Title:  reviewed.Title,
			Author: reviewed.Author,
		}
		for _, review := range reviewed.Reviews {
			entry.Reviews = append(entry.Reviews, ReviewEntry{
				State:       review.State,
				Body:        review.Body,
				SubmittedAt: review.When,
			})
		}
		for _, comment := range reviewed.ReviewComments {
			entry.ReviewComments = append(entry.ReviewComments, ReviewCommentEntry{
				Body:      comment.Body,
				Path:      comment.Path,
				CreatedAt: comment.When,
			})
		}
		result.ReviewsAndReviewComments = append(result.ReviewsAndReviewComments, entry)
	}
	for _, thread := range aggregated.GeneralPRComments {
		entry := GeneralCommentThread{
			PRNumber: thread.Number,
			PRTitle:  thread.Title,
		}
		for _, comment := range thread.Comments {
			entry.Comments = append(entry.Comments, GeneralCommentEntry{
				Body:      comment.Body,
				CreatedAt: comment.When,
			})
		}
		result.GeneralPRComments = append(result.GeneralPRComments, entry)
	}
	for _, issue := range aggregated.CreatedIssues {
		result.CreatedIssues = append(result.CreatedIssues, CreatedIssueEntry{
			Number:    issue.IssueNumber,
			Title:     issue.Title,
			State:     issue.State,
			CreatedAt: issue.When,
		})
	}
	for _, issue := range aggregated.ClosedIssues {
		result.ClosedIssuesByUser = append(result.ClosedIssuesByUser, ClosedIssueEntry{
			Number:   issue.IssueNumber,
			Title:    issue.Title,
			ClosedAt: issue.When,
		})
	}
	return result, nil
}

// StatEntry is one metric with its period-over-period change.
type StatEntry struct {
	Metric string `json:"metric"`
	Count  int    `json:"count"`
	Change string `json:"change"`
}

// RepoStatsReport compares the current period against the previous one.
type RepoStatsReport struct {
	Repo  string      `json:"repo"`
	Range string      `json:"range"`
	Stats []StatEntry `json:"stats"`
}

type periodCounts struct {
	commits int
	prs     int
	issues  int
	reviews int
}

// RepoStats builds repo-wide commit/PR/issue/review counts for the
// current period with percent change against the previous period.
func (a *Assembler) RepoStats(ctx context.Context, owner, repo string, granularity timeline.Range) (*RepoStatsReport, error) {
	now := a.Now()

	currentWindow, err := periodWindow(granularity, 0, now)
	if err != nil {
		return nil, err
	}
	previousWindow, err := periodWindow(granularity, 1, now)
	if err != nil {
		return nil, err
	}

	var current, previous periodCounts
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var countErr error
		current, countErr = a.countPeriod(egCtx, owner, repo, currentWindow)
		return countErr
	})
	eg.Go(func() error {
		var countErr error
		previous, countErr = a.countPeriod(egCtx, owner, repo, previousWindow)
		return countErr
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("repo stats: %w", err)
	}

	return &RepoStatsReport{
		Repo:  owner + "/" + repo,
		Range: string(granularity),
		Stats: []StatEntry{
			{Metric: "commits", Count: current.commits, Change: timeline.PercentChange(float64(current.commits), float64(previous.commits))},
			{Metric: "pull_requests", Count: current.prs, Change: timeline.PercentChange(float64(current.prs), float64(previous.prs))},
			{Metric: "issues", Count: current.issues, Change: timeline.PercentChange(float64(current.issues), float64(previous.issues))},
			{Metric: "reviews", Count: current.reviews, Change: timeline.PercentChange(float64(current.reviews), float64(previous.reviews))},
		},
	}, nil
}

func (a *Assembler) countPeriod(ctx context.Context, owner, repo string, window activity.Window) (periodCounts, error) {
	repoQualifier := fmt.Sprintf("repo:%s/%s", owner, repo)
	searchRange := window.SearchRange()

	var counts periodCounts
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		commits, err := a.data.ListCommits(egCtx, owner, repo, "", window.Start, window.UntilExclusive())
		if err != nil {
			return err
		}
		counts.commits = len(commits)
		return nil
	})
	eg.Go(func() error {
		count, err := a.data.SearchIssueCount(egCtx, fmt.Sprintf("%s is:pr created:%s", repoQualifier, searchRange))
		if err != nil {
			return err
		}
		counts.prs = count
		return nil
	})
	eg.Go(func() error {
		count, err := a.data.SearchIssueCount(egCtx, fmt.Sprintf("%s is:issue created:%s", repoQualifier, searchRange))
		if err != nil {
			return err
		}
		counts.issues = count
		return nil
	})
	eg.Go(func() error {
		reviews, err := a.reviewsInWindow(egCtx, owner, repo, window)
		if err != nil {
			return err
		}
		counts.reviews = len(reviews)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return periodCounts{}, err
	}
	return counts, nil
}

// reviewsInWindow lists PRs touched in the window and fans out over
// their reviews, keeping submissions inside the window. Per-PR review
// failures are logged and skipped.
func (a *Assembler) reviewsInWindow(ctx context.Context, owner, repo string, window activity.Window) ([]githubapi.PullReview, error) {
	pulls, err := a.data.ListPullRequests(ctx, owner, repo, "all", window.Start, window.UntilExclusive())
	if err != nil {
		return nil, err
	}
	return a.collectReviews(ctx, owner, repo, pulls, window), nil
}

func (a *Assembler) collectReviews(ctx context.Context, owner, repo string, pulls []githubapi.PullRequest, window activity.Window) []githubapi.PullReview {
	if len(pulls) == 0 {
		return nil
	}

	var mu sync.Mutex
	var reviews []githubapi.PullReview
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for _, pull := range pulls {
		group.Go(func() error {
			prReviews, err := a.data.ListPullReviews(groupCtx, owner, repo, pull.Number)
			if err != nil {
				a.logger.Warn("pull request reviews fetch failed",
					zap.Int("number", pull.Number),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			for _, review := range prReviews {
				if window.Contains(review.SubmittedAt) {
					reviews = append(reviews, review)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return reviews
}

// ContributorStats is one ranked contributor with period counts.
type ContributorStats struct {
	Username     string `json:"username"`
	Commits      int    `json:"commits"`
	PullRequests int    `json:"pull_requests"`
	Reviews      int    `json:"reviews"`
}

// TopContributorsReport ranks contributors by commits in the period.
type TopContributorsReport struct {
	Repo         string             `json:"repo"`
	Range        string             `json:"range"`
	Contributors []ContributorStats `json:"contributors"`
}

// TopContributors ranks the period's committers and resolves each one's
// PR and review counts. The review counts come from a single shared PR
// list so the fan-out cost does not scale with the contributor count.
func (a *Assembler) TopContributors(ctx context.Context, owner, repo string, granularity timeline.Range, limit int) (*TopContributorsReport, error) {
	if limit <= 0 {
		limit = defaultTopContributorsCap
	}
	now := a.Now()
	window, err := periodWindow(granularity, 0, now)
	if err != nil {
		return nil, err
	}

	commits, err := a.data.ListCommits(ctx, owner, repo, "", window.Start, window.UntilExclusive())
	if err != nil {
		return nil, fmt.Errorf("top contributors: %w", err)
	}
	commitCounts := make(map[string]int)
	for _, commit := range commits {
		author := strings.TrimSpace(commit.Author)
		if author == "" {
			continue
		}
		commitCounts[author]++
	}

	ranked := make([]ContributorStats, 0, len(commitCounts))
	for login, count := range commitCounts {
		ranked = append(ranked, ContributorStats{Username: login, Commits: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Commits != ranked[j].Commits {
			return ranked[i].Commits > ranked[j].Commits
		}
		return ranked[i].Username < ranked[j].Username
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	pulls, err := a.data.ListPullRequests(ctx, owner, repo, "all", window.Start, window.UntilExclusive())
	if err != nil {
		return nil, fmt.Errorf("top contributors: %w", err)
	}
	reviewCounts := make(map[string]int)
	for _, review := range a.collectReviews(ctx, owner, repo, pulls, window) {
		reviewCounts[review.User]++
	}

	repoQualifier := fmt.Sprintf("repo:%s/%s", owner, repo)
	searchRange := window.SearchRange()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for i := range ranked {
		group.Go(func() error {
			count, searchErr := a.data.SearchIssueCount(groupCtx, fmt.Sprintf("%s is:pr author:%s created:%s", repoQualifier, ranked[i].Username, searchRange))
			if searchErr != nil {
				a.logger.Warn("contributor PR count failed",
					zap.String("login", ranked[i].Username),
					zap.Error(searchErr),
				)
				return nil
			}
			ranked[i].PullRequests = count
			return nil
		})
	}
	_ = group.Wait()

	for i := range ranked {
		ranked[i].Reviews = reviewCounts[ranked[i].Username]
	}

	return &TopContributorsReport{
		Repo:         owner + "/" + repo,
		Range:        string(granularity),
		Contributors: ranked,
	}, nil
}

// ActivityBin is one timeline bin with event counts.
type ActivityBin struct {
	Label        string `json:"label"`
	Commits      int    `json:"commits"`
	PullRequests int    `json:"pull_requests"`
	Reviews      int    `json:"reviews"`
}

// TeamActivityReport is the binned team activity timeline.
type TeamActivityReport struct {
	Repo  string        `json:"repo"`
	Range string        `json:"range"`
	Bins  []ActivityBin `json:"bins"`
}

// TeamActivity fills timeline bins with repo-wide commit, PR, and
// review counts assigned by timestamp. Events older than the earliest
// bin are dropped.
func (a *Assembler) TeamActivity(ctx context.Context, owner, repo string, granularity timeline.Range) (*TeamActivityReport, error) {
	endDay := dayOf(a.Now())
	bins := timeline.BuildBins(granularity, endDay)
	if len(bins) == 0 {
		return nil, fmt.Errorf("team activity: %w", timeline.ErrUnknownRange)
	}
	window := activity.NewWindow(bins[0].Start, endDay)

	var (
		commits []githubapi.RepoCommit
		pulls   []githubapi.PullRequest
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var listErr error
		commits, listErr = a.data.ListCommits(egCtx, owner, repo, "", window.Start, window.UntilExclusive())
		return listErr
	})
	eg.Go(func() error {
		var listErr error
		pulls, listErr = a.data.ListPullRequests(egCtx, owner, repo, "all", window.Start, window.UntilExclusive())
		return listErr
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("team activity: %w", err)
	}

	counts := make([]ActivityBin, len(bins))
	for i, bin := range bins {
		counts[i].Label = bin.Label
	}
	for _, commit := range commits {
		if i := timeline.AssignToBin(bins, commit.CommittedAt); i >= 0 {
			counts[i].Commits++
		}
	}
	for _, pull := range pulls {
		if i := timeline.AssignToBin(bins, pull.CreatedAt); i >= 0 {
			counts[i].PullRequests++
		}
	}
	for _, review := range a.collectReviews(ctx, owner, repo, pulls, window) {
		if i := timeline.AssignToBin(bins, review.SubmittedAt); i >= 0 {
			counts[i].Reviews++
		}
	}

	return &TeamActivityReport{
		Repo:  owner + "/" + repo,
		Range: string(granularity),
		Bins:  counts,
	}, nil
}

// ContributorsReport lists repository contributors by total commits.
type ContributorsReport struct {
	Repo         string                  `json:"repo"`
	Contributors []githubapi.Contributor `json:"contributors"`
}

// Contributors lists the repository's all-time contributors.
func (a *Assembler) Contributors(ctx context.Context, owner, repo string) (*ContributorsReport, error) {
	contributors, err := a.data.ListContributors(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	return &ContributorsReport{
		Repo:         owner + "/" + repo,
		Contributors: contributors,
	}, nil
}

// PREntry is one pull request in a windowed listing.
type PREntry struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	User      string     `json:"user"`
	Merged    bool       `json:"merged"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

// PRListReport is a windowed, state-filtered pull request listing.
type PRListReport struct {
	Repo         string    `json:"repo"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date"`
	State        string    `json:"state"`
	PullRequests []PREntry `json:"pull_requests"`
}

// RepositoryPRs lists pull requests touched in the window, filtered by
// state. "merged" keeps only PRs with a merge timestamp; a closed PR
// without one was closed unmerged and stays under "closed".
func (a *Assembler) RepositoryPRs(ctx context.Context, owner, repo string, window activity.Window, state string) (*PRListReport, error) {
	state = strings.ToLower(strings.TrimSpace(state))
	if state == "" {
		state = "all"
	}
	switch state {
	case "all", "open", "closed", "merged":
	default:
		return nil, &activity.ValidationError{Message: fmt.Sprintf("invalid state %q: expected all, open, closed, or merged", state)}
	}

	pulls, err := a.data.ListPullRequests(ctx, owner, repo, "all", window.Start, window.UntilExclusive())
	if err != nil {
		return nil, fmt.Errorf("list repository prs: %w", err)
	}

	result := &PRListReport{
		Repo:      owner + "/" + repo,
		StartDate: window.Start.Format("2006-01-02"),
		EndDate:   window.End.Format("2006-01-02"),
		State:     state,
	}
	for _, pull := range pulls {
		merged := !pull.MergedAt.IsZero()
		switch state {
		case "open":
			if pull.State != "open" {
				continue
			}
		case "closed":
			if pull.State != "closed" {
				continue
			}
		case "merged":
			if !merged {
				continue
			}
		}
		entry := PREntry{
			Number:    pull.Number,
			Title:     pull.Title,
			State:     pull.State,
			User:      pull.User,
			Merged:    merged,
			CreatedAt: pull.CreatedAt,
		}
		if merged {
			mergedAt := pull.MergedAt
			entry.MergedAt = &mergedAt
		}
		result.PullRequests = append(result.PullRequests, entry)
	}
	return result, nil
}

func periodWindow(granularity timeline.Range, offset int, now time.Time) (activity.Window, error) {
	start, end, err := timeline.PeriodRange(granularity, offset, now)
	if err != nil {
		return activity.Window{}, &activity.ValidationError{Message: err.Error()}
	}
	return activity.NewWindow(start, end), nil
}

func dayOf(ts time.Time) time.Time {
	utc := ts.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
