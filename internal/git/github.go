package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v71/github"

	"github.com/joescharf/prguard/internal/models"
)

// DefaultBotName signs the auto-fix pull request body.
const DefaultBotName = "prguard[bot]"

// GitHubError is a failed GitHub API call. It exposes the HTTP status so
// callers can classify the failure.
type GitHubError struct {
	Op     string
	Status int
	Err    error
}

func (e *GitHubError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("github %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("github %s (HTTP %d): %v", e.Op, e.Status, e.Err)
}

func (e *GitHubError) Unwrap() error { return e.Err }

// HTTPStatus returns the response status, or 0 when no response was received.
func (e *GitHubError) HTTPStatus() int { return e.Status }

func wrapGitHub(op string, resp *github.Response, err error) error {
	ge := &GitHubError{Op: op, Err: err}
	if resp != nil && resp.Response != nil {
		ge.Status = resp.StatusCode
	}
	var er *github.ErrorResponse
	if ge.Status == 0 && errors.As(err, &er) && er.Response != nil {
		ge.Status = er.Response.StatusCode
	}
	return ge
}

// GitHub fetches pull request diffs, posts review comments, and publishes
// auto-fix patches as draft pull requests.
type GitHub struct {
	client  *github.Client
	botName string
	now     func() time.Time
}

// GitHubOption configures a GitHub adapter.
type GitHubOption func(*GitHub) error

// WithBotName sets the signature used in auto-fix pull requests.
func WithBotName(name string) GitHubOption {
	return func(g *GitHub) error {
		if name != "" {
			g.botName = name
		}
		return nil
	}
}

// WithBaseURL points the adapter at a specific API root, such as a proxy.
func WithBaseURL(raw string) GitHubOption {
	return func(g *GitHub) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse base url: %w", err)
		}
		g.client.BaseURL = u
		g.client.UploadURL = u
		return nil
	}
}

// NewGitHub creates a GitHub adapter. An empty host or github.com talks to
// the public API; any other host is treated as GitHub Enterprise.
func NewGitHub(token, host string, opts ...GitHubOption) (*GitHub, error) {
	client := github.NewClient(nil)
	if host != "" && host != models.DefaultHost {
		base := "https://" + host + "/api/v3/"
		upload := "https://" + host + "/api/uploads/"
		var err error
		client, err = client.WithEnterpriseURLs(base, upload)
		if err != nil {
			return nil, fmt.Errorf("enterprise urls for %s: %w", host, err)
		}
	}
	g := &GitHub{client: client, botName: DefaultBotName, now: time.Now}
	for _, o := range opts {
		if err := o(g); err != nil {
			return nil, err
		}
	}
	if token != "" {
		g.client = g.client.WithAuthToken(token)
	}
	return g, nil
}

// Fetch returns the unified diff of the pull request.
func (g *GitHub) Fetch(ctx context.Context, s models.Subject) (string, error) {
	diff, resp, err := g.client.PullRequests.GetRaw(ctx, s.Owner, s.Repo, s.Number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", wrapGitHub("get diff", resp, err)
	}
	return diff, nil
}

// Post adds the review body as a pull request comment.
func (g *GitHub) Post(ctx context.Context, s models.Subject, body string) (bool, error) {
	c, resp, err := g.client.Issues.CreateComment(ctx, s.Owner, s.Repo, s.Number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return false, wrapGitHub("create comment", resp, err)
	}
	return c.GetID() != 0, nil
}

// PatchBranch names the branch holding the auto-fix for a pull request.
func PatchBranch(number int, at time.Time) string {
	return fmt.Sprintf("prguard/patch-%d-%d", number, at.Unix())
}

// PatchPath is where the patch file is committed.
func PatchPath(number int) string {
	return fmt.Sprintf(".prguard/patches/pr-%d.patch", number)
}

// Publish commits the patch on a new branch cut from the pull request head
// and opens a draft pull request targeting that head. It returns the draft's
// URL.
func (g *GitHub) Publish(ctx context.Context, s models.Subject, patch, summary string) (string, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, s.Owner, s.Repo, s.Number)
	if err != nil {
		return "", wrapGitHub("get pull request", resp, err)
	}
	headSHA := pr.GetHead().GetSHA()
	headRef := pr.GetHead().GetRef()
	if headSHA == "" || headRef == "" {
		return "", &GitHubError{Op: "get pull request", Err: errors.New("pull request has no head")}
	}

	branch := PatchBranch(s.Number, g.now())
	_, resp, err = g.client.Git.CreateRef(ctx, s.Owner, s.Repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.Ptr(headSHA)},
	})
	if err != nil {
		return "", wrapGitHub("create branch", resp, err)
	}

	if !strings.HasSuffix(patch, "\n") {
		patch += "\n"
	}
	_, resp, err = g.client.Repositories.CreateFile(ctx, s.Owner, s.Repo, PatchPath(s.Number), &github.RepositoryContentFileOptions{
		Message: github.Ptr(fmt.Sprintf("chore: auto-fix formatting issues from PR #%d", s.Number)),
		Content: []byte(patch),
		Branch:  github.Ptr(branch),
	})
	if err != nil {
		return "", wrapGitHub("commit patch", resp, err)
	}

	draft, resp, err := g.client.PullRequests.Create(ctx, s.Owner, s.Repo, &github.NewPullRequest{
		Title: github.Ptr(fmt.Sprintf("🛠️ Auto-fix: Formatting issues from PR #%d", s.Number)),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(headRef),
		Body:  github.Ptr(g.patchBody(s.Number, summary)),
		Draft: github.Ptr(true),
	})
	if err != nil {
		return "", wrapGitHub("create pull request", resp, err)
	}
	return draft.GetHTMLURL(), nil
}

func (g *GitHub) patchBody(number int, summary string) string {
	var b strings.Builder
	b.WriteString("## 🤖 Automated Formatting Fixes\n\n")
	fmt.Fprintf(&b, "This PR contains automated fixes for safe formatting issues detected in PR #%d.\n\n", number)
	b.WriteString(summary)
	b.WriteString("\n\n### 📋 Review Instructions\n")
	fmt.Fprintf(&b, "1. Apply `%s` and verify that only formatting changed\n", PatchPath(number))
	b.WriteString("2. Run tests to ensure functionality is preserved\n")
	b.WriteString("3. Merge if satisfied, or close if not needed\n\n")
	fmt.Fprintf(&b, "---\n🤖 **Generated by %s** | 🔗 **Related to PR #%d**\n", g.botName, number)
	return b.String()
}
