package pipeline

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusClosed  Status = "closed"
)

// Terminal reports whether the run has finished executing.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusClosed
}

// Kind labels a run message.
type Kind string

const (
	KindInit    Kind = "init"
	KindStart   Kind = "start"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindClosed  Kind = "closed"
	// KindInfo annotates a run without changing its status.
	KindInfo Kind = "info"
)

// KindStatus maps a message kind to the status it moves a run into. The
// second result is false for kinds that never transition, including unknown
// ones.
func KindStatus(kind Kind) (Status, bool) {
	switch kind {
	case KindInit:
		return StatusIdle, true
	case KindStart:
		return StatusRunning, true
	case KindSuccess:
		return StatusSuccess, true
	case KindError:
		return StatusError, true
	case KindClosed:
		return StatusClosed, true
	default:
		return "", false
	}
}

var allowedTransitions = map[Status][]Status{
	StatusIdle:    {StatusRunning, StatusError},
	StatusRunning: {StatusSuccess, StatusError},
	StatusSuccess: {StatusClosed},
	StatusError:   {StatusClosed},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Message is one entry of a run's log.
type Message struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"ts"`
	Content   string    `json:"content,omitempty"`
}

// Job describes the batch a run annotates.
type Job struct {
	Name   string `json:"name"`
	Batch  string `json:"batch"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Run is a copy of one run's state. Values returned by the Runner are never
// shared with it.
type Run struct {
	ID       string    `json:"id"`
	Job      Job       `json:"job"`
	Status   Status    `json:"status"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Error    string    `json:"error,omitempty"`
}

// Completion reports a run that reached a terminal status.
type Completion struct {
	Run Run
	Err error
}

// Outcome returns the terminal result of the run: success or error for
// finished runs, including closed ones, and the current status otherwise.
func (r Run) Outcome() Status {
	if r.Status != StatusClosed {
		return r.Status
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		switch r.Messages[i].Kind {
		case KindSuccess:
			return StatusSuccess
		case KindError:
			return StatusError
		}
	}
	return StatusClosed
}
