package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var jobIDPattern = regexp.MustCompile(`Job <(\d+)>`)

// LSFOptions configures the command backend.
type LSFOptions struct {
	SubmitCommand string
	ListCommand   string
	BuildFile     string
	SubmitTimeout time.Duration
	ListTimeout   time.Duration
}

// LSF drives the scheduler through its command line tools (bsub / bjobs).
type LSF struct {
	opts   LSFOptions
	logger *zap.Logger
}

func NewLSF(opts LSFOptions, logger *zap.Logger) *LSF {
	if opts.SubmitCommand == "" {
		opts.SubmitCommand = "bsub make"
	}
	if opts.ListCommand == "" {
		opts.ListCommand = "bjobs -a"
	}
	if opts.BuildFile == "" {
		opts.BuildFile = "Makefile"
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = 10 * time.Second
	}
	return &LSF{opts: opts, logger: logger.Named("lsf")}
}

func (s *LSF) Submit(ctx context.Context, dir string) (string, error) {
	buildFile := filepath.Join(dir, s.opts.BuildFile)
	if info, err := os.Stat(buildFile); err != nil || info.IsDir() {
		return "", &SubmissionError{Dir: dir, Err: fmt.Errorf("%w: %s", ErrBuildFileMissing, buildFile)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
	defer cancel()

	stdout, stderr, err := runShell(ctx, dir, s.opts.SubmitCommand)
	s.logger.Debug("submit output", zap.String("dir", dir),
		zap.String("stdout", stdout), zap.String("stderr", stderr))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.opts.SubmitTimeout, context.DeadlineExceeded)
		}
		return "", &SubmissionError{Dir: dir, Output: stderr, Err: err}
	}

	jobID, ok := ExtractJobID(stdout)
	if !ok {
		return "", &SubmissionError{Dir: dir, Output: stdout, Err: ErrNoJobID}
	}
	return jobID, nil
}

func (s *LSF) List(ctx context.Context) (Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ListTimeout)
	defer cancel()

	stdout, stderr, err := runShell(ctx, "", s.opts.ListCommand)
	if err != nil {
		if strings.TrimSpace(stderr) != "" {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
		}
		return Listing{}, &ListingError{Err: err}
	}
	return NewListing(stdout), nil
}

// ExtractJobID finds "Job <N>" in submission output.
func ExtractJobID(output string) (string, bool) {
	match := jobIDPattern.FindStringSubmatch(output)
	if match == nil {
		return "", false
	}
	return match[1], true
}

func runShell(ctx context.Context, dir string, command string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.ToValidUTF8(stdout.String(), "")
	errOut := strings.ToValidUTF8(stderr.String(), "")
	if err != nil {
		if ctx.Err() != nil {
			return out, errOut, ctx.Err()
		}
		return out, errOut, fmt.Errorf("command %q failed: %w", command, err)
	}
	return out, errOut, nil
}
