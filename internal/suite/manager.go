// Package suite exposes the request-level operations on a loaded test matrix.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"regrun/internal/matrix"
	"regrun/internal/reconcile"
	"regrun/internal/records"
	"regrun/internal/scheduler"
	"regrun/pkg/model"
)

var (
	ErrAlreadyProvisioned = errors.New("test case already has a directory")
	ErrNotProvisioned     = errors.New("test case has no directory")
	ErrAlreadySubmitted   = errors.New("test case already has a running job")
)

// Provisioner creates and removes case directories.
type Provisioner interface {
	Create(tc model.TestCase) (string, error)
	Remove(dir string) error
}

// BatchResult reports a *-selected operation. Ineligible and failed indices
// are listed in Failed with the reason.
type BatchResult struct {
	Done   []int          `json:"done"`
	Failed map[int]string `json:"failed,omitempty"`
}

type Manager struct {
	records    *records.Store
	prov       Provisioner
	sched      scheduler.Scheduler
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
}

func NewManager(rs *records.Store, prov Provisioner, sched scheduler.Scheduler, rec *reconcile.Reconciler, logger *zap.Logger) *Manager {
	return &Manager{
		records:    rs,
		prov:       prov,
		sched:      sched,
		reconciler: rec,
		logger:     logger.Named("suite"),
	}
}

// Load parses a matrix and replaces every record. On a parse error the
// current records are kept.
func (m *Manager) Load(ctx context.Context, r io.Reader) ([]model.CaseView, error) {
	cases, err := matrix.Parse(r)
	if err != nil {
		m.logger.Error("parse matrix", zap.Error(err))
		return []model.CaseView{}, err
	}
	m.records.Replace(ctx, cases)
	m.logger.Info("matrix loaded", zap.Int("cases", len(cases)))
	return m.Cases(), nil
}

// Cases returns the current records without reconciling.
func (m *Manager) Cases() []model.CaseView {
	return reconcile.BuildReport(m.records.Snapshot()).Cases
}

// Create provisions the directory of one Pending case.
func (m *Manager) Create(ctx context.Context, index int) (string, error) {
	var dir string
	err := m.records.Update(ctx, index, func(tc *model.TestCase) error {
		if tc.Directory != "" {
			return ErrAlreadyProvisioned
		}
		created, err := m.prov.Create(*tc)
		if err != nil {
			return err
		}
		dir = created
		return tc.MarkCreated(created)
	})
	if err != nil {
		m.logger.Warn("create test case", zap.Int("index", index), zap.Error(err))
		return "", err
	}
	return dir, nil
}

// Run submits one provisioned case that has no job yet. A failed submission
// leaves the case as it was.
func (m *Manager) Run(ctx context.Context, index int) (string, error) {
	var jobID string
	err := m.records.Update(ctx, index, func(tc *model.TestCase) error {
		if tc.Directory == "" {
			return ErrNotProvisioned
		}
		if tc.JobID != "" {
			return ErrAlreadySubmitted
		}
		id, err := m.sched.Submit(ctx, tc.Directory)
		if err != nil {
			return err
		}
		jobID = id
		return tc.MarkRunning(id)
	})
	if err != nil {
		m.logger.Warn("run test case", zap.Int("index", index), zap.Error(err))
		return "", err
	}
	m.logger.Info("job submitted", zap.Int("index", index), zap.String("job_id", jobID))
	return jobID, nil
}

// Delete removes a case directory and resets the record to Pending.
// The scheduler job, if any, is left alone.
func (m *Manager) Delete(ctx context.Context, index int) error {
	err := m.records.Update(ctx, index, func(tc *model.TestCase) error {
		if tc.Directory == "" {
			return ErrNotProvisioned
		}
		if err := m.prov.Remove(tc.Directory); err != nil {
			return err
		}
		tc.Reset()
		return nil
	})
	if err != nil {
		m.logger.Warn("delete test case", zap.Int("index", index), zap.Error(err))
	}
	return err
}

func (m *Manager) CreateSelected(ctx context.Context, indices []int) BatchResult {
	return m.batch(indices, func(i int) error {
		_, err := m.Create(ctx, i)
		return err
	})
}

func (m *Manager) RunSelected(ctx context.Context, indices []int) BatchResult {
	return m.batch(indices, func(i int) error {
		_, err := m.Run(ctx, i)
		return err
	})
}

func (m *Manager) DeleteSelected(ctx context.Context, indices []int) BatchResult {
	return m.batch(indices, func(i int) error {
		return m.Delete(ctx, i)
	})
}

func (m *Manager) batch(indices []int, op func(int) error) BatchResult {
	result := BatchResult{Done: make([]int, 0, len(indices))}
	for _, index := range indices {
		if err := op(index); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[int]string)
			}
			result.Failed[index] = err.Error()
			continue
		}
		result.Done = append(result.Done, index)
	}
	return result
}

// Status runs one reconciliation pass.
func (m *Manager) Status(ctx context.Context) (model.Report, error) {
	report, err := m.reconciler.Pass(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}
	return report, nil
}
