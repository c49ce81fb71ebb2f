package domain

import (
	"errors"
	"fmt"
)

// Domain errors.
var (
	ErrUpstreamAuth     = errors.New("github authentication failed (check GITHUB_TOKEN)")
	ErrRateLimited      = errors.New("github rate limit exceeded")
	ErrNotFound         = errors.New("github resource not found")
	ErrStateCorruption  = errors.New("state file is corrupted")
	ErrMissingUsername  = errors.New("github username is not configured (run 'pr-autopilot config --user <login>')")
	ErrPRNotTracked     = errors.New("pull request is not tracked")
	ErrPRAlreadyTracked = errors.New("pull request is already tracked")
	ErrTerminalPR       = errors.New("pull request is already merged or closed")
	ErrIssueNotTracked  = errors.New("issue is not tracked")
	ErrIssueTracked     = errors.New("issue is already tracked")
)

// InvalidURLError is returned when a string is not a GitHub PR or issue URL.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid GitHub pull request URL: %q", e.URL)
}

// PartialFetchFailure records a pull request that could not be fetched in a batch run.
type PartialFetchFailure struct {
	URL string
	Err error
}

func (f PartialFetchFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.URL, f.Err)
}

func (f PartialFetchFailure) Unwrap() error {
	return f.Err
}

// SaveError is returned when the state could not be persisted.
type SaveError struct {
	Path string
	Op   string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save state (%s %s): %v; check that the directory exists, is writable and the disk is not full", e.Op, e.Path, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
