package model

import (
	"errors"
	"fmt"
	"strings"
)

// CaseStatus 测试用例生命周期状态
type CaseStatus string

const (
	StatusPending  CaseStatus = "Pending"  // 刚从矩阵导入，尚未建目录
	StatusCreated  CaseStatus = "Created"  // 目录已生成，等待提交
	StatusRunning  CaseStatus = "Running"  // 已提交到调度器，持有 JobID
	StatusFinished CaseStatus = "Finished" // 日志已分类，结果确定
)

// Result 结束后的判定结果
type Result string

const (
	ResultNone    Result = ""
	ResultPass    Result = "PASS"
	ResultFail    Result = "FAIL"
	ResultTimeout Result = "TIMEOUT"
)

// ErrInvalidTransition is returned when a transition would break a lifecycle invariant.
var ErrInvalidTransition = errors.New("invalid status transition")

// Param 矩阵中的一列 (参数名 -> 值)
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TestCase 对应矩阵的一行
type TestCase struct {
	// 有序参数表，顺序即矩阵列顺序
	Config []Param `json:"config"`

	// 创建时由 Config 计算，之后不再变化
	Name string `json:"name"`

	Directory  string     `json:"dir,omitempty"`
	JobID      string     `json:"job_id,omitempty"`
	Status     CaseStatus `json:"status"`
	LogPreview string     `json:"log"`
	Result     Result     `json:"result,omitempty"`
}

// NewTestCase builds a Pending case and derives its name from the parameter values.
func NewTestCase(config []Param) TestCase {
	params := make([]Param, len(config))
	copy(params, config)
	return TestCase{
		Config: params,
		Name:   CaseName(params),
		Status: StatusPending,
	}
}

// CaseName joins the parameter values with underscores in column order.
func CaseName(config []Param) string {
	values := make([]string, 0, len(config))
	for _, p := range config {
		values = append(values, strings.TrimSpace(p.Value))
	}
	return strings.Join(values, "_")
}

// Lookup returns the value of the named parameter.
func (tc *TestCase) Lookup(name string) (string, bool) {
	for _, p := range tc.Config {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// MarkCreated records a provisioned directory.
func (tc *TestCase) MarkCreated(dir string) error {
	if tc.Status != StatusPending || tc.Directory != "" {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tc.Status, StatusCreated)
	}
	if dir == "" {
		return fmt.Errorf("%w: empty directory", ErrInvalidTransition)
	}
	tc.Directory = dir
	tc.Status = StatusCreated
	return nil
}

// MarkRunning records the scheduler-issued job identifier.
func (tc *TestCase) MarkRunning(jobID string) error {
	if tc.Directory == "" || tc.JobID != "" {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tc.Status, StatusRunning)
	}
	if jobID == "" {
		return fmt.Errorf("%w: empty job id", ErrInvalidTransition)
	}
	tc.JobID = jobID
	tc.Status = StatusRunning
	tc.Result = ResultNone
	tc.LogPreview = ""
	return nil
}

// MarkFinished stores the verdict and releases the job identifier.
func (tc *TestCase) MarkFinished(result Result) error {
	if tc.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tc.Status, StatusFinished)
	}
	if result == ResultNone {
		return fmt.Errorf("%w: empty result", ErrInvalidTransition)
	}
	tc.Result = result
	tc.Status = StatusFinished
	tc.LogPreview = TerminalPreview(result)
	tc.JobID = ""
	return nil
}

// Reset 删除目录后回到 Pending，保留 Config 和 Name
func (tc *TestCase) Reset() {
	tc.Directory = ""
	tc.JobID = ""
	tc.Status = StatusPending
	tc.LogPreview = ""
	tc.Result = ResultNone
}

// SetPreview refreshes the running log preview. Terminal previews are never overwritten.
func (tc *TestCase) SetPreview(preview string) bool {
	if IsTerminalPreview(tc.LogPreview) {
		return false
	}
	tc.LogPreview = preview
	return true
}

const terminalPrefix = "Result: "

// TerminalPreview is the preview stored once a case has a verdict.
func TerminalPreview(result Result) string {
	return terminalPrefix + string(result)
}

func IsTerminalPreview(preview string) bool {
	return strings.HasPrefix(preview, terminalPrefix)
}

// Validate checks the lifecycle invariants.
func (tc *TestCase) Validate() error {
	switch tc.Status {
	case StatusPending, StatusCreated, StatusRunning, StatusFinished:
	default:
		return fmt.Errorf("unknown status %q", tc.Status)
	}
	if (tc.JobID != "") != (tc.Status == StatusRunning) {
		return fmt.Errorf("job id %q with status %s", tc.JobID, tc.Status)
	}
	if (tc.Result != ResultNone) != (tc.Status == StatusFinished) {
		return fmt.Errorf("result %q with status %s", tc.Result, tc.Status)
	}
	if (tc.Directory == "") != (tc.Status == StatusPending) {
		return fmt.Errorf("directory %q with status %s", tc.Directory, tc.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (tc TestCase) Clone() TestCase {
	tc.Config = append([]Param(nil), tc.Config...)
	return tc
}
