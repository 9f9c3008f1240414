// Package scheduler submits test cases to an external batch scheduler and
// reads back its list of active jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Scheduler is the client side of a batch system.
type Scheduler interface {
	// Submit starts the job for one provisioned case directory and returns the issued id.
	Submit(ctx context.Context, dir string) (string, error)

	// List returns every job the scheduler currently knows about.
	List(ctx context.Context) (Listing, error)
}

// MatchMode controls how a job id is located in a listing.
type MatchMode string

const (
	// MatchSubstring treats an id as active if it appears anywhere in the listing text.
	MatchSubstring MatchMode = "substring"
	// MatchToken requires the id to be a whole whitespace-separated field.
	MatchToken MatchMode = "token"
)

func ParseMatchMode(raw string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchToken:
		return MatchToken, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", raw)
	}
}

// Listing is one snapshot of the scheduler's job list.
type Listing struct {
	Text string

	fields map[string]struct{}
}

func NewListing(text string) Listing {
	fields := strings.Fields(text)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return Listing{Text: text, fields: set}
}

// Active reports whether jobID is present in the listing.
func (l Listing) Active(jobID string, mode MatchMode) bool {
	if jobID == "" {
		return false
	}
	if mode != MatchToken {
		return strings.Contains(l.Text, jobID)
	}
	_, ok := l.fields[jobID]
	return ok
}

var (
	ErrBuildFileMissing = errors.New("build file not found")
	ErrNoJobID          = errors.New("no job id in submission output")
)

// SubmissionError reports a failed or unparsable submission. The case keeps its prior status.
type SubmissionError struct {
	Dir    string
	Output string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Dir, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ListingError reports a failed listing query. The reconciliation pass is skipped.
type ListingError struct {
	Err error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("list jobs: %v", e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }
