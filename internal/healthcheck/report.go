package healthcheck

import (
	"context"
	"time"
)

// Report aggregates the results of several checkers.
type Report struct {
	Status    string        `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckResult `json:"checks"`
}

// Healthy reports whether no check failed. Warnings do not fail the report.
func (r Report) Healthy() bool {
	return r.Status == StatusOK || r.Status == StatusWarn
}

// Evaluate runs every checker in order and folds their results into one
// report. The overall status is the worst individual status.
func Evaluate(ctx context.Context, checkers ...Checker) Report {
	report := Report{
		Status:    StatusOK,
		CheckedAt: time.Now().UTC(),
		Checks:    []CheckResult{},
	}
	for _, c := range checkers {
		if c == nil {
			continue
		}
		for _, item := range c.ListChecks(ctx) {
			report.Checks = append(report.Checks, item)
			report.Status = worse(report.Status, item.Status)
		}
	}
	return report
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusWarn:
		return 1
	case StatusUnknown:
		return 2
	default:
		return 3
	}
}

func worse(a, b string) string {
	switch {
	case severity(b) <= severity(a):
		return a
	case severity(b) == 3:
		return StatusError
	default:
		return b
	}
}
