package reconcile

import "regrun/pkg/model"

// BuildReport derives the status snapshot. Counters are recomputed from the
// current verdicts on every call, so repeated passes never double count.
func BuildReport(cases []model.TestCase) model.Report {
	report := model.Report{Cases: make([]model.CaseView, 0, len(cases))}

	finished := 0
	for i, tc := range cases {
		report.Cases = append(report.Cases, model.View(i, tc))
		if tc.Status != model.StatusFinished {
			continue
		}
		finished++
		switch tc.Result {
		case model.ResultPass:
			report.Summary.Pass++
		case model.ResultTimeout:
			report.Summary.Timeout++
		default:
			report.Summary.Fail++
		}
	}

	// 空矩阵同样视为全部完成，total 为 0
	if finished == len(cases) {
		total := len(cases)
		report.Summary.Total = &total
		report.AllFinished = true
	}
	return report
}
