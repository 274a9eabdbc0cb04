package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultHost is assumed for short-form locators like owner/repo#12.
const DefaultHost = "github.com"

// Subject identifies the pull request under review.
type Subject struct {
	Host    string
	Owner   string
	Repo    string
	Number  int
	Locator string // canonical URL; the ledger keys records by it
}

// InputError reports a malformed subject locator.
type InputError struct {
	Locator string
	Reason  string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid subject %q: %s", e.Locator, e.Reason)
}

// ParseSubject parses a pull request URL (https://host/owner/repo/pull/N)
// or the short form owner/repo#N.
func ParseSubject(locator string) (Subject, error) {
	raw := strings.TrimSpace(locator)
	if raw == "" {
		return Subject{}, &InputError{Locator: locator, Reason: "empty locator"}
	}

	if !strings.Contains(raw, "://") {
		return parseShort(locator, raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Subject{}, &InputError{Locator: locator, Reason: err.Error()}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Subject{}, &InputError{Locator: locator, Reason: "unsupported scheme " + u.Scheme}
	}
	if u.Host == "" {
		return Subject{}, &InputError{Locator: locator, Reason: "missing host"}
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// owner/repo/pull/N[/files|/commits...]
	if len(parts) < 4 || parts[2] != "pull" {
		return Subject{}, &InputError{Locator: locator, Reason: "expected /<owner>/<repo>/pull/<number>"}
	}
	n, err := parseNumber(parts[3])
	if err != nil {
		return Subject{}, &InputError{Locator: locator, Reason: err.Error()}
	}
	if parts[0] == "" || parts[1] == "" {
		return Subject{}, &InputError{Locator: locator, Reason: "missing owner or repo"}
	}

	sub := Subject{
		Host:   strings.ToLower(u.Host),
		Owner:  parts[0],
		Repo:   parts[1],
		Number: n,
	}
	sub.Locator = sub.URL()
	return sub, nil
}

func parseShort(locator, raw string) (Subject, error) {
	repoPart, numPart, ok := strings.Cut(raw, "#")
	if !ok {
		return Subject{}, &InputError{Locator: locator, Reason: "expected <owner>/<repo>#<number> or a pull request URL"}
	}
	owner, repo, ok := strings.Cut(repoPart, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return Subject{}, &InputError{Locator: locator, Reason: "expected <owner>/<repo>#<number>"}
	}
	n, err := parseNumber(numPart)
	if err != nil {
		return Subject{}, &InputError{Locator: locator, Reason: err.Error()}
	}
	s := Subject{Host: DefaultHost, Owner: owner, Repo: repo, Number: n}
	s.Locator = s.URL()
	return s, nil
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid pull request number %q", s)
	}
	return n, nil
}

// Repository returns owner/repo.
func (s Subject) Repository() string {
	return s.Owner + "/" + s.Repo
}

// URL returns the canonical pull request URL.
func (s Subject) URL() string {
	return fmt.Sprintf("https://%s/%s/%s/pull/%d", s.Host, s.Owner, s.Repo, s.Number)
}

func (s Subject) String() string {
	return fmt.Sprintf("%s#%d", s.Repository(), s.Number)
}
