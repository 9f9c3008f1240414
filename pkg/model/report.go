package model

// NoLogYet 没有任何日志预览时展示给用户的占位文本
const NoLogYet = "No log yet"

// CaseView 状态快照中的单个用例
type CaseView struct {
	Index      int        `json:"index"`
	Config     []Param    `json:"config"`
	Name       string     `json:"name"`
	JobID      *string    `json:"pid"`
	Directory  *string    `json:"dir"`
	Status     CaseStatus `json:"status"`
	LogPreview string     `json:"log"`
	Result     *Result    `json:"result"`
}

// Summary 聚合计数，Total 只有在全部用例 Finished 后才填充
type Summary struct {
	Pass    int  `json:"pass"`
	Fail    int  `json:"fail"`
	Timeout int  `json:"timeout"`
	Total   *int `json:"total,omitempty"`
}

// Report 一次对账 (reconciliation pass) 的输出
type Report struct {
	Cases       []CaseView `json:"cases"`
	Summary     Summary    `json:"summary"`
	AllFinished bool       `json:"all_finished"`
}

// View renders one case for a status snapshot.
func View(index int, tc TestCase) CaseView {
	v := CaseView{
		Index:      index,
		Config:     append([]Param(nil), tc.Config...),
		Name:       tc.Name,
		Status:     tc.Status,
		LogPreview: tc.LogPreview,
	}
	if tc.JobID != "" {
		id := tc.JobID
		v.JobID = &id
	}
	if tc.Directory != "" {
		dir := tc.Directory
		v.Directory = &dir
	}
	if tc.Result != ResultNone {
		r := tc.Result
		v.Result = &r
	}
	if v.LogPreview == "" {
		v.LogPreview = NoLogYet
	}
	return v
}
