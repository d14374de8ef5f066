// Package scheduler isolates the distributor from a concrete batch
// scheduler's command syntax and output format.
//
// Both operations are fallible and untrusted. A failed status query is an
// *UnavailableError and must only cost the caller one reconciliation pass; a
// failed submission leaves the slot unbound.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// JobID is an opaque scheduler job identifier.
type JobID string

// ErrUnavailable marks a status query that could not be answered.
var ErrUnavailable = errors.New("scheduler unavailable")

// ErrNoJobID marks a submission that did not yield a job identifier.
var ErrNoJobID = errors.New("scheduler: submission returned no job id")

// UnavailableError wraps the cause of a failed status query.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrUnavailable, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrUnavailable, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) hold for every UnavailableError.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// SlotSpec is what a submission needs to know about a slot.
type SlotSpec struct {
	Slot      int
	QueueFile string
	Tasks     int
	JobName   string
}

// Adapter is the contract the distributor depends on.
type Adapter interface {
	// ListActive returns the jobs currently in one of states.
	ListActive(ctx context.Context, states []string) (map[JobID]struct{}, error)
	// Submit starts a job for the slot and returns its identifier.
	Submit(ctx context.Context, spec SlotSpec) (JobID, error)
}

// ParseJobID validates a job identifier token.
func ParseJobID(raw string) (JobID, error) {
	token := strings.TrimSpace(raw)
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", fmt.Errorf("scheduler: invalid job id %q", raw)
	}
	return JobID(token), nil
}

// Sorted returns the ids of a job set in lexical order.
func Sorted(jobs map[JobID]struct{}) []JobID {
	out := make([]JobID, 0, len(jobs))
	for id := range jobs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
