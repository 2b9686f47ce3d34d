package activity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gitboss/agent-api/internal/githubapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSubFetchConcurrency = 10

// Fetcher is the subset of the GitHub data client the aggregator needs.
type Fetcher interface {
	ListCommits(ctx context.Context, owner, repo, author string, since, until time.Time) ([]githubapi.RepoCommit, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (githubapi.CommitDetail, error)
	SearchIssues(ctx context.Context, query string) ([]githubapi.SearchIssue, error)
	ListPullReviews(ctx context.Context, owner, repo string, pullNumber int) ([]githubapi.PullReview, error)
	ListReviewComments(ctx context.Context, owner, repo string, pullNumber int) ([]githubapi.ReviewComment, error)
	ListIssueComments(ctx context.Context, owner, repo string, issueNumber int) ([]githubapi.IssueComment, error)
	ListIssueEvents(ctx context.Context, owner, repo string, issueNumber int) ([]githubapi.IssueEvent, error)
}

// ReviewedPR groups a contributor's review-side activity on one pull
// request they did not author.
type ReviewedPR struct {
	Number         int
	Title          string
	Author         string
	Reviews        []ReviewEvent
	ReviewComments []ReviewCommentEvent
}

// PRCommentThread groups the contributor's thread comments on one pull
// request, including their own.
type PRCommentThread struct {
	Number   int
	Title    string
	Comments []IssueCommentEvent
}

// ContributorActivity is the aggregation result for one contributor in
// one window.
type ContributorActivity struct {
	Login  string
	Repo   string
	Window Window

	Commits            []CommitEvent
	TotalLinesChanged  int
	UniqueFilesChanged []string

	AuthoredPRs       []PullRequestEvent
	ReviewedPRs       []ReviewedPR
	GeneralPRComments []PRCommentThread
	CreatedIssues     []IssueCreatedEvent
	ClosedIssues      []IssueCloseEvent

	// SkippedFetches counts sub-fetches that failed and were dropped
	// rather than failing the whole aggregation.
	SkippedFetches int
}

// Partial reports whether any sub-fetch was skipped.
func (c *ContributorActivity) Partial() bool { return c.SkippedFetches > 0 }

// Events flattens all activity into one dated event stream.
func (c *ContributorActivity) Events() []Event {
	var events []Event
	for _, commit := range c.Commits {
		events = append(events, commit)
	}
	for _, pr := range c.AuthoredPRs {
		events = append(events, pr)
	}
	for _, reviewed := range c.ReviewedPRs {
		for _, review := range reviewed.Reviews {
			events = append(events, review)
		}
		for _, comment := range reviewed.ReviewComments {
			events = append(events, comment)
		}
	}
	for _, thread := range c.GeneralPRComments {
		for _, comment := range thread.Comments {
			events = append(events, comment)
		}
	}
	for _, created := range c.CreatedIssues {
		events = append(events, created)
	}
	for _, closed := range c.ClosedIssues {
		events = append(events, closed)
	}
	return events
}

// Aggregator assembles per-contributor activity from the GitHub API.
type Aggregator struct {
	fetcher     Fetcher
	logger      *zap.Logger
	concurrency int

	// MaxTimelinePRs caps how many candidate PRs and issues get per-item
	// timeline sub-fetches. Zero means no cap.
	MaxTimelinePRs int
}

// NewAggregator creates an aggregator. concurrency caps the number of
// in-flight sub-fetches; values <= 0 use the default of 10.
func NewAggregator(fetcher Fetcher, logger *zap.Logger, concurrency int) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = defaultSubFetchConcurrency
	}
	return &Aggregator{
		fetcher:     fetcher,
		logger:      logger,
		concurrency: concurrency,
	}
}

// ContributorActivity aggregates one contributor's activity in a window.
//
// Top-level listing and search calls are fatal on error. Per-item
// sub-fetches (commit details, per-PR reviews and comments, per-issue
// close verification) are skipped on error and counted in
// SkippedFetches, so a single flaky item cannot sink the whole report.
func (a *Aggregator) ContributorActivity(ctx context.Context, owner, repo, login string, window Window) (*ContributorActivity, error) {
	owner = strings.TrimSpace(owner)
	repo = strings.TrimSpace(repo)
	login = strings.TrimSpace(login)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}
	if login == "" {
		return nil, fmt.Errorf("login is required")
	}
	if window.End.Before(window.Start) {
		return nil, fmt.Errorf("window end must not be before start")
	}

	repoQualifier := fmt.Sprintf("repo:%s/%s", owner, repo)
	searchRange := window.SearchRange()

	var (
		commits        []githubapi.RepoCommit
		authored       []githubapi.SearchIssue
		reviewedBy     []githubapi.SearchIssue
		commentedOn    []githubapi.SearchIssue
		createdIssues  []githubapi.SearchIssue
		closedInWindow []githubapi.SearchIssue
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		commits, err = a.fetcher.ListCommits(egCtx, owner, repo, login, window.Start, window.UntilExclusive())
		return err
	})
	eg.Go(func() error {
		var err error
		authored, err = a.fetcher.SearchIssues(egCtx, fmt.Sprintf("%s is:pr author:%s created:%s", repoQualifier, login, searchRange))
		return err
	})
	eg.Go(func() error {
		var err error
		reviewedBy, err = a.fetcher.SearchIssues(egCtx, fmt.Sprintf("%s is:pr reviewed-by:%s updated:%s", repoQualifier, login, searchRange))
		return err
	})
	eg.Go(func() error {
		var err error
		commentedOn, err = a.fetcher.SearchIssues(egCtx, fmt.Sprintf("%s is:pr commenter:%s updated:%s", repoQualifier, login, searchRange))
		return err
	})
	eg.Go(func() error {
		var err error
		createdIssues, err = a.fetcher.SearchIssues(egCtx, fmt.Sprintf("%s is:issue author:%s created:%s", repoQualifier, login, searchRange))
		return err
	})
	eg.Go(func() error {
		// Search cannot tell who closed an issue, so every issue closed
		// in the window is a candidate and the event-history check does
		// the per-user filtering.
		var err error
		closedInWindow, err = a.fetcher.SearchIssues(egCtx, fmt.Sprintf("%s is:issue is:closed closed:%s", repoQualifier, searchRange))
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("fetch contributor activity: %w", err)
	}

	result := &ContributorActivity{
		Login:  login,
		Repo:   owner + "/" + repo,
		Window: window,
	}
	var skipped atomic.Int64

	result.Commits = a.fetchCommitDetails(ctx, owner, repo, commits, &skipped)
	for _, commit := range result.Commits {
		result.TotalLinesChanged += commit.LinesChanged()
	}
	result.UniqueFilesChanged = uniqueFiles(result.Commits)

	for _, issue := range authored {
		result.AuthoredPRs = append(result.AuthoredPRs, PullRequestEvent{
			Number: issue.Number,
			Title:  issue.Title,
			State:  issue.State,
			Author: issue.User,
			Merged: issue.Merged(),
			When:   issue.CreatedAt,
		})
	}

	for _, issue := range createdIssues {
		if issue.IsPullRequest {
			continue
		}
		result.CreatedIssues = append(result.CreatedIssues, IssueCreatedEvent{
			IssueNumber: issue.Number,
			Title:       issue.Title,
			State:       issue.State,
			Author:      issue.User,
			When:        issue.CreatedAt,
		})
	}

	candidates := a.capCandidates(mergeReviewCandidates(reviewedBy, commentedOn))
	result.ReviewedPRs, result.GeneralPRComments = a.fetchReviewActivity(ctx, owner, repo, login, window, candidates, &skipped)
	result.ClosedIssues = a.verifyClosedIssues(ctx, owner, repo, login, window, a.capCandidates(closedInWindow), &skipped)

	result.SkippedFetches = int(skipped.Load())
	if result.Partial() {
		a.logger.Warn("contributor activity is partial",
			zap.String("repo", result.Repo),
			zap.String("login", login),
			zap.Int("skipped_fetches", result.SkippedFetches),
		)
	}
	return result, nil
}

// fetchCommitDetails resolves line stats for each commit with a bounded
// fan-out. Failed lookups keep the commit with zero line stats.
func (a *Aggregator) fetchCommitDetails(ctx context.Context, owner, repo string, commits []githubapi.RepoCommit, skipped *atomic.Int64) []CommitEvent {
	if len(commits) == 0 {
		return nil
	}

	events := make([]CommitEvent, len(commits))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for i, commit := range commits {
		group.Go(func() error {
			base := CommitEvent{
				SHA:     commit.SHA,
				Author:  commit.Author,
				Message: commit.Message,
				When:    commit.CommittedAt,
			}
			detail, err := a.fetcher.GetCommit(groupCtx, owner, repo, commit.SHA)
			if err != nil {
				a.logger.Warn("commit detail fetch failed",
					zap.String("sha", commit.SHA),
					zap.Error(err),
				)
				skipped.Add(1)
				events[i] = base
				return nil
			}
			base.Additions = detail.Additions
			base.Deletions = detail.Deletions
			base.Files = detail.ChangedFiles
			events[i] = base
			return nil
		})
	}
	// Workers never return errors; Wait is the fan-in barrier.
	_ = group.Wait()
	return events
}

// fetchReviewActivity resolves reviews, inline comments, and thread
// comments for each candidate PR with a bounded fan-out. PRs with no
// surviving activity are dropped. The contributor's own pull requests
// never appear as reviewed PRs, but their thread comments on them are
// still reported.
func (a *Aggregator) fetchReviewActivity(ctx context.Context, owner, repo, login string, window Window, candidates []githubapi.SearchIssue, skipped *atomic.Int64) ([]ReviewedPR, []PRCommentThread) {
	if len(candidates) == 0 {
		return nil, nil
	}

	type prActivity struct {
		reviewed       ReviewedPR
		threadComments []IssueCommentEvent
		fetched        bool
	}

	results := make([]prActivity, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for i, candidate := range candidates {
		group.Go(func() error {
			reviews, err := a.fetcher.ListPullReviews(groupCtx, owner, repo, candidate.Number)
			if err == nil {
				var comments []githubapi.ReviewComment
				comments, err = a.fetcher.ListReviewComments(groupCtx, owner, repo, candidate.Number)
				if err == nil {
					var thread []githubapi.IssueComment
					thread, err = a.fetcher.ListIssueComments(groupCtx, owner, repo, candidate.Number)
					if err == nil {
						entry := prActivity{fetched: true}
						entry.reviewed = ReviewedPR{
							Number: candidate.Number,
							Title:  candidate.Title,
							Author: candidate.User,
						}
						for _, review := range reviews {
							if review.User != login || !window.Contains(review.SubmittedAt) {
								continue
							}
							entry.reviewed.Reviews = append(entry.reviewed.Reviews, ReviewEvent{
								PullNumber: candidate.Number,
								Reviewer:   review.User,
								State:      review.State,
								Body:       review.Body,
								When:       review.SubmittedAt,
							})
						}
						for _, comment := range comments {
							if comment.User != login || !window.Contains(comment.CreatedAt) {
								continue
							}
							entry.reviewed.ReviewComments = append(entry.reviewed.ReviewComments, ReviewCommentEvent{
								PullNumber: candidate.Number,
								Commenter:  comment.User,
								Body:       comment.Body,
								Path:       comment.Path,
								When:       comment.CreatedAt,
							})
						}
						for _, comment := range thread {
							if comment.User != login || !window.Contains(comment.CreatedAt) {
								continue
							}
							entry.threadComments = append(entry.threadComments, IssueCommentEvent{
								IssueNumber: candidate.Number,
								Commenter:   comment.User,
								Body:        comment.Body,
								When:        comment.CreatedAt,
							})
						}
						results[i] = entry
						return nil
					}
				}
			}
			a.logger.Warn("pull request activity fetch failed",
				zap.Int("number", candidate.Number),
				zap.Error(err),
			)
			skipped.Add(1)
			return nil
		})
	}
	_ = group.Wait()

	var reviewed []ReviewedPR
	var threads []PRCommentThread
	for _, entry := range results {
		if !entry.fetched {
			continue
		}
		ownPR := entry.reviewed.Author == login
		if !ownPR && (len(entry.reviewed.Reviews) > 0 || len(entry.reviewed.ReviewComments) > 0) {
			reviewed = append(reviewed, entry.reviewed)
		}
		if len(entry.threadComments) > 0 {
			threads = append(threads, PRCommentThread{
				Number:   entry.reviewed.Number,
				Title:    entry.reviewed.Title,
				Comments: entry.threadComments,
			})
		}
	}
	sort.Slice(reviewed, func(i, j int) bool { return reviewed[i].Number < reviewed[j].Number })
	sort.Slice(threads, func(i, j int) bool { return threads[i].Number < threads[j].Number })
	return reviewed, threads
}

// verifyClosedIssues keeps only issues whose close event was performed
// by the contributor inside the window. Search alone cannot tell who
// closed an issue, so each candidate needs an event-timeline check.
func (a *Aggregator) verifyClosedIssues(ctx context.Context, owner, repo, login string, window Window, candidates []githubapi.SearchIssue, skipped *atomic.Int64) []IssueCloseEvent {
	if len(candidates) == 0 {
		return nil
	}

	verified := make([]*IssueCloseEvent, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for i, candidate := range candidates {
		group.Go(func() error {
			events, err := a.fetcher.ListIssueEvents(groupCtx, owner, repo, candidate.Number)
			if err != nil {
				a.logger.Warn("issue events fetch failed",
					zap.Int("number", candidate.Number),
					zap.Error(err),
				)
				skipped.Add(1)
				return nil
			}
			for _, event := range events {
				if event.Event != "closed" || event.Actor != login || !window.Contains(event.CreatedAt) {
					continue
				}
				verified[i] = &IssueCloseEvent{
					IssueNumber: candidate.Number,
					Title:       candidate.Title,
					ClosedBy:    event.Actor,
					When:        event.CreatedAt,
				}
				return nil
			}
			return nil
		})
	}
	_ = group.Wait()

	var closed []IssueCloseEvent
	for _, entry := range verified {
		if entry != nil {
			closed = append(closed, *entry)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].IssueNumber < closed[j].IssueNumber })
	return closed
}

// capCandidates bounds the per-item sub-fetch fan-out for pathological
// windows with thousands of touched PRs.
func (a *Aggregator) capCandidates(candidates []githubapi.SearchIssue) []githubapi.SearchIssue {
	if a.MaxTimelinePRs <= 0 || len(candidates) <= a.MaxTimelinePRs {
		return candidates
	}
	a.logger.Warn("capping timeline candidates",
		zap.Int("candidates", len(candidates)),
		zap.Int("cap", a.MaxTimelinePRs),
	)
	return candidates[:a.MaxTimelinePRs]
}

// uniqueFiles collects the distinct file paths touched across commits,
// sorted for stable output.
func uniqueFiles(commits []CommitEvent) []string {
	seen := make(map[string]struct{})
	for _, commit := range commits {
		for _, file := range commit.Files {
			seen[file] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	files := make([]string, 0, len(seen))
	for file := range seen {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// mergeReviewCandidates merges the reviewed-by and commenter search
// results, deduplicating by PR number. The contributor's own pull
// requests stay in: they carry the user's thread comments even though
// they can never become reviewed PRs.
func mergeReviewCandidates(reviewedBy, commentedOn []githubapi.SearchIssue) []githubapi.SearchIssue {
	seen := make(map[int]struct{})
	var merged []githubapi.SearchIssue
	for _, issue := range append(append([]githubapi.SearchIssue{}, reviewedBy...), commentedOn...) {
		if _, ok := seen[issue.Number]; ok {
			continue
		}
		seen[issue.Number] = struct{}{}
		merged = append(merged, issue)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Number < merged[j].Number })
	return merged
}
