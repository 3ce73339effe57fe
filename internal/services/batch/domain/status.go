package domain

import (
	"strconv"
	"strings"
)

// Status is the closed job status enumeration
type Status string

// Job statuses
const (
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusUnknown   Status = "UNKNOWN"
)

// Terminal reports whether no further transition occurs
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// provider JobState enum values in declaration order
var numericStates = []string{
	"UNSPECIFIED", "QUEUED", "PENDING", "RUNNING", "SUCCEEDED", "FAILED",
	"CANCELLING", "CANCELLED", "PAUSED", "EXPIRED", "UPDATING", "PARTIALLY_SUCCEEDED",
}

// NormalizeStatus maps any provider status shape onto Status.
// Accepts JOB_STATE_ prefixed names, bare names in any case, and numeric enum values
func NormalizeStatus(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(numericStates) {
			return StatusUnknown
		}
		s = numericStates[n]
	}
	s = strings.TrimPrefix(s, "JOB_STATE_")
	// our own names round-trip
	switch Status(s) {
	case StatusSubmitted, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return Status(s)
	}
	switch s {
	case "QUEUED", "PENDING":
		return StatusSubmitted
	case "CANCELLING", "UPDATING", "PAUSED":
		return StatusRunning
	case "PARTIALLY_SUCCEEDED":
		return StatusSucceeded
	case "EXPIRED":
		return StatusFailed
	default:
		return StatusUnknown
	}
}
