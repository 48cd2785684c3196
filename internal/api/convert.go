package api

import (
	"time"

	"seqwatch/internal/ledger"
	"seqwatch/internal/pipeline"
)

// FromRun converts a pipeline run to its API representation.
func FromRun(run pipeline.Run) Run {
	dto := Run{
		ID:         run.ID,
		Name:       run.Job.Name,
		Batch:      run.Job.Batch,
		Input:      run.Job.Input,
		Output:     run.Job.Output,
		Status:     string(run.Status),
		Error:      run.Error,
		CreatedAt:  formatTime(run.Created),
		StartedAt:  formatTime(run.Started),
		FinishedAt: formatTime(run.Finished),
	}
	if len(run.Messages) > 0 {
		dto.Messages = make([]RunMessage, 0, len(run.Messages))
		for _, msg := range run.Messages {
			dto.Messages = append(dto.Messages, RunMessage{
				Kind:      string(msg.Kind),
				Timestamp: formatTime(msg.Timestamp),
				Content:   msg.Content,
			})
		}
	}
	return dto
}

// FromRuns converts runs preserving order.
func FromRuns(runs []pipeline.Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

// CountRuns tallies runs by status. Every status appears in the result.
func CountRuns(runs []pipeline.Run) map[string]int {
	counts := map[string]int{
		string(pipeline.StatusIdle):    0,
		string(pipeline.StatusRunning): 0,
		string(pipeline.StatusSuccess): 0,
		string(pipeline.StatusError):   0,
		string(pipeline.StatusClosed):  0,
	}
	for _, run := range runs {
		counts[string(run.Status)]++
	}
	return counts
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses an API timestamp, returning the zero time for empty or
// malformed values.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FromEntry converts a ledger entry to its API representation. Ledger
// entries carry no message log.
func FromEntry(entry ledger.Entry) Run {
	return Run{
		ID:         entry.ID,
		Name:       entry.Name,
		Batch:      entry.Batch,
		Input:      entry.Input,
		Output:     entry.Output,
		Status:     entry.Status,
		Error:      entry.Error,
		CreatedAt:  formatTime(entry.Created),
		StartedAt:  formatTime(entry.Started),
		FinishedAt: formatTime(entry.Finished),
	}
}
