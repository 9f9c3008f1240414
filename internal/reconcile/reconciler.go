// Package reconcile advances running test cases by comparing them against
// the scheduler's job list and their own log output.
package reconcile

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"regrun/internal/logscan"
	"regrun/internal/records"
	"regrun/internal/scheduler"
	"regrun/pkg/model"
)

const defaultParallelism = 8

// Options tunes a Reconciler.
type Options struct {
	// LogFile is the log path relative to a case directory.
	LogFile     string
	MatchMode   scheduler.MatchMode
	Parallelism int
}

// Reconciler 核心对账器
type Reconciler struct {
	records *records.Store
	sched   scheduler.Scheduler
	tail    *logscan.TailReader
	opts    Options
	logger  *zap.Logger

	classify func(path string) (model.Result, error)
}

func New(rs *records.Store, sched scheduler.Scheduler, tail *logscan.TailReader, opts Options, logger *zap.Logger) *Reconciler {
	if opts.LogFile == "" {
		opts.LogFile = "xrun.log"
	}
	if opts.MatchMode == "" {
		opts.MatchMode = scheduler.MatchSubstring
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = defaultParallelism
	}
	return &Reconciler{
		records:  rs,
		sched:    sched,
		tail:     tail,
		opts:     opts,
		logger:   logger.Named("reconcile"),
		classify: logscan.ClassifyFile,
	}
}

type outcomeKind int

const (
	keepRunning outcomeKind = iota // 作业仍在调度器中，刷新预览
	finished                       // 作业已消失，日志已分类
	waiting                        // 作业已消失，日志还没写出来，下一轮再看
	skipped
)

type outcome struct {
	kind    outcomeKind
	preview string
	result  model.Result
}

// Pass runs one reconciliation pass and returns the resulting snapshot.
// When the listing query fails no case is touched and the *scheduler.ListingError
// is returned alongside the unchanged snapshot.
func (r *Reconciler) Pass(ctx context.Context) (model.Report, error) {
	// Step 1: 每轮只查询一次调度器，作为本轮的一致快照
	listing, err := r.sched.List(ctx)
	if err != nil {
		r.logger.Warn("job listing failed, pass skipped", zap.Error(err))
		return BuildReport(r.records.Snapshot()), err
	}

	// Step 2: Filter - 只看 Running 用例
	candidates := selectRunning(r.records.Handles())

	// Step 3: 并行评估，I/O 不持有用例锁
	outcomes := make([]outcome, len(candidates))
	var g errgroup.Group
	g.SetLimit(r.opts.Parallelism)
	for i := range candidates {
		g.Go(func() error {
			outcomes[i] = r.evaluate(ctx, candidates[i], listing)
			return nil
		})
	}
	_ = g.Wait()

	// Step 4: Bind - 在用例锁内提交结果
	for i := range candidates {
		r.commit(ctx, candidates[i], outcomes[i])
	}

	return BuildReport(r.records.Snapshot()), nil
}

func (r *Reconciler) evaluate(ctx context.Context, c candidate, listing scheduler.Listing) outcome {
	if ctx.Err() != nil {
		return outcome{kind: skipped}
	}
	logPath := filepath.Join(c.dir, r.opts.LogFile)

	if listing.Active(c.jobID, r.opts.MatchMode) {
		if model.IsTerminalPreview(c.preview) {
			return outcome{kind: keepRunning, preview: c.preview}
		}
		return outcome{kind: keepRunning, preview: r.tail.Tail(logPath)}
	}

	if _, err := os.Stat(logPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("stat finished log", zap.String("case", c.name), zap.Error(err))
		} else {
			r.logger.Info("job gone but log not written yet",
				zap.String("case", c.name), zap.String("job_id", c.jobID))
		}
		return outcome{kind: waiting}
	}

	result, err := r.classify(logPath)
	if err != nil {
		r.logger.Warn("read finished log", zap.String("case", c.name), zap.Error(err))
		return outcome{kind: waiting}
	}
	return outcome{kind: finished, result: result}
}

var errStale = errors.New("case changed during pass")

func (r *Reconciler) commit(ctx context.Context, c candidate, o outcome) {
	if o.kind == waiting || o.kind == skipped {
		return
	}

	err := r.records.UpdateHandle(ctx, c.handle, func(tc *model.TestCase) error {
		if !c.stillSame(tc) {
			return errStale
		}
		if o.kind == finished {
			return tc.MarkFinished(o.result)
		}
		tc.SetPreview(o.preview)
		return nil
	})

	switch {
	case errors.Is(err, errStale):
		r.logger.Debug("dropped stale outcome", zap.String("case", c.name), zap.String("job_id", c.jobID))
	case err != nil:
		r.logger.Error("commit outcome", zap.String("case", c.name), zap.Error(err))
	case o.kind == finished:
		r.logger.Info("case finished", zap.String("case", c.name),
			zap.String("job_id", c.jobID), zap.String("result", string(o.result)))
	default:
		r.logger.Debug("case running", zap.String("case", c.name), zap.String("job_id", c.jobID))
	}
}
