package reconcile

import (
	"regrun/internal/records"
	"regrun/pkg/model"
)

// candidate 是一次对账开始时读到的运行中用例
type candidate struct {
	handle  *records.Handle
	name    string
	jobID   string
	dir     string
	preview string
}

// selectRunning 遍历用例，只保留持有 JobID 的 Running 用例
func selectRunning(handles []*records.Handle) []candidate {
	candidates := make([]candidate, 0, len(handles))
	for _, h := range handles {
		tc := h.Get()
		if tc.Status != model.StatusRunning || tc.JobID == "" {
			continue
		}
		candidates = append(candidates, candidate{
			handle:  h,
			name:    tc.Name,
			jobID:   tc.JobID,
			dir:     tc.Directory,
			preview: tc.LogPreview,
		})
	}
	return candidates
}

// stillSame 提交结果前确认用例没有被删除、重置或重新提交
func (c candidate) stillSame(tc *model.TestCase) bool {
	return tc.Status == model.StatusRunning && tc.JobID == c.jobID && tc.Directory == c.dir
}
