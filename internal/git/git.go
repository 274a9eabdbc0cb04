package git

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
)

func gitCmd(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// LocalRepo is a DiffSource that diffs two refs of a local checkout, for
// reviewing a branch before it is pushed.
type LocalRepo struct {
	Path string
	Base string
	Head string
}

// Fetch returns `git diff base...head`. The subject is only used for
// reporting.
func (r LocalRepo) Fetch(ctx context.Context, _ models.Subject) (string, error) {
	head := r.Head
	if head == "" {
		head = "HEAD"
	}
	return gitCmd(ctx, r.Path, "diff", r.Base+"..."+head)
}

// Subject derives a review subject from the origin remote. The number is
// zero since a local branch has no pull request yet.
func (r LocalRepo) Subject(ctx context.Context) (models.Subject, error) {
	remote, err := gitCmd(ctx, r.Path, "remote", "get-url", "origin")
	if err != nil {
		return models.Subject{}, err
	}
	owner, repo, err := ExtractOwnerRepo(strings.TrimSpace(remote))
	if err != nil {
		return models.Subject{}, err
	}
	s := models.Subject{Host: models.DefaultHost, Owner: owner, Repo: repo}
	s.Locator = "https://" + s.Host + "/" + s.Repository()
	return s, nil
}

// ExtractOwnerRepo parses a GitHub remote URL and returns owner/repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	// Handle SSH: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		path := strings.TrimSuffix(parts[1], ".git")
		segments := strings.SplitN(path, "/", 2)
		if len(segments) != 2 {
			return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
		}
		return segments[0], segments[1], nil
	}

	// Handle HTTPS: https://github.com/owner/repo.git
	trimmed := strings.TrimSuffix(remoteURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	segments := strings.SplitN(trimmed, "/", 2)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" || strings.Contains(segments[0], ":") {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return segments[0], segments[1], nil
}

// DiffFile is a DiffSource reading a diff from disk, or stdin when Path is "-".
type DiffFile struct {
	Path  string
	Stdin io.Reader
}

func (d DiffFile) Fetch(_ context.Context, _ models.Subject) (string, error) {
	if d.Path == "-" {
		in := d.Stdin
		if in == nil {
			in = os.Stdin
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read diff from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return "", fmt.Errorf("read diff file: %w", err)
	}
	return string(data), nil
}

// DryRunSink prints comments and patches instead of publishing them. The
// rendered text goes to Echo, or to the UI's stdout when Echo is nil.
type DryRunSink struct {
	UI   *output.UI
	Echo io.Writer
}

func (d DryRunSink) echo() io.Writer {
	if d.Echo != nil {
		return d.Echo
	}
	return d.UI.Out
}

func (d DryRunSink) Post(_ context.Context, s models.Subject, body string) (bool, error) {
	d.UI.DryRunMsg("Would post review comment on %s", s)
	fmt.Fprintln(d.echo(), body)
	return true, nil
}

func (d DryRunSink) Publish(_ context.Context, s models.Subject, patch, summary string) (string, error) {
	d.UI.DryRunMsg("Would open auto-fix pull request for %s", s)
	w := d.echo()
	fmt.Fprintln(w, summary)
	fmt.Fprintln(w, patch)
	return "", nil
}
