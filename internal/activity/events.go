package activity

import "time"

// Event is one dated contributor activity occurrence. The concrete
// variants below replace untyped maps so consumers can switch on what
// actually happened.
type Event interface {
	Actor() string
	OccurredAt() time.Time
}

// CommitEvent is one commit authored by the contributor.
type CommitEvent struct {
	SHA       string
	Author    string
	Message   string
	Additions int
	Deletions int
	Files     []string
	When      time.Time
}

func (e CommitEvent) Actor() string         { return e.Author }
func (e CommitEvent) OccurredAt() time.Time { return e.When }

// LinesChanged returns additions plus deletions for the commit.
func (e CommitEvent) LinesChanged() int { return e.Additions + e.Deletions }

// PullRequestEvent is one pull request authored by the contributor.
type PullRequestEvent struct {
	Number int
	Title  string
	State  string
	Author string
	Merged bool
	When   time.Time
}

func (e PullRequestEvent) Actor() string         { return e.Author }
func (e PullRequestEvent) OccurredAt() time.Time { return e.When }

// ReviewEvent is one review submission on someone else's pull request.
type ReviewEvent struct {
	PullNumber int
	Reviewer   string
	State      string
	Body       string
	When       time.Time
}

func (e ReviewEvent) Actor() string         { return e.Reviewer }
func (e ReviewEvent) OccurredAt() time.Time { return e.When }

// ReviewCommentEvent is one inline review comment.
type ReviewCommentEvent struct {
	PullNumber int
	Commenter  string
	Body       string
	Path       string
	When       time.Time
}

func (e ReviewCommentEvent) Actor() string         { return e.Commenter }
func (e ReviewCommentEvent) OccurredAt() time.Time { return e.When }

// IssueCommentEvent is one comment on an issue or pull request thread.
type IssueCommentEvent struct {
	IssueNumber int
	Commenter   string
	Body        string
	When        time.Time
}

func (e IssueCommentEvent) Actor() string         { return e.Commenter }
func (e IssueCommentEvent) OccurredAt() time.Time { return e.When }

// IssueCreatedEvent is one issue the contributor opened.
type IssueCreatedEvent struct {
	IssueNumber int
	Title       string
	State       string
	Author      string
	When        time.Time
}

func (e IssueCreatedEvent) Actor() string         { return e.Author }
func (e IssueCreatedEvent) OccurredAt() time.Time { return e.When }

// IssueCloseEvent is one issue the contributor closed.
type IssueCloseEvent struct {
	IssueNumber int
	Title       string
	ClosedBy    string
	When        time.Time
}

func (e IssueCloseEvent) Actor() string         { return e.ClosedBy }
func (e IssueCloseEvent) OccurredAt() time.Time { return e.When }
