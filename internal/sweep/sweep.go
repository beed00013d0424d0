// Package sweep describes the outcome of the daily batch jobs. A sweep runs
// one unit of work per entity, so a report can be partially failed.
package sweep

import (
	"time"
)

const (
	DailyReturns        = "daily_returns"
	OverdueInstallments = "overdue_installments"
)

// Failure records why one entity could not be processed.
type Failure struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// Report summarises one sweep run.
type Report struct {
	Sweep     string    `json:"sweep"`
	Date      time.Time `json:"date"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`

	// NonBusinessDay is set when the run was skipped because of the calendar.
	NonBusinessDay bool `json:"non_business_day,omitempty"`
}

// Fail counts a failed entity.
func (r *Report) Fail(entityID string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{EntityID: entityID, Error: err.Error()})
}

// Observer receives every finished report, typically to export metrics.
type Observer interface {
	ObserveSweep(r Report, took time.Duration)
}

// Nop ignores reports.
type Nop struct{}

func (Nop) ObserveSweep(Report, time.Duration) {}

// BusinessDay reports whether day is Monday to Friday.
func BusinessDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}
