// Package domain holds the batch pipeline types and ports
package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// ImageRef is a validated local image; Filename is the stable identifier downstream
type ImageRef struct {
	Path     string
	Filename string
	Size     int64
}

// NewImageRef builds an ImageRef from a path
func NewImageRef(path string) ImageRef {
	return ImageRef{Path: path, Filename: filepath.Base(path)}
}

// SortKey is the case-insensitive ordering key used for output order
func (r ImageRef) SortKey() string { return strings.ToLower(r.Filename) }

// BatchRequest is one inference request in the staged input
type BatchRequest struct {
	CustomID string
	Prompt   string
	FileURI  string
	MimeType string
}

// StagedInput is the object store location of one job's request lines
type StagedInput struct {
	URI   string
	Count int
}

// JobSpec is what the provider needs to create a batch job
type JobSpec struct {
	DisplayName  string
	Model        string
	InputURI     string
	OutputPrefix string
}

// Job is the durable record of a submitted batch job
type Job struct {
	ID           string
	SubmittedAt  time.Time
	OutputPrefix string
	Images       []ImageRef
	Status       Status
}

// JobInfo is one provider status read, already normalized
type JobInfo struct {
	Name      string
	Status    Status
	RawState  string
	OutputDir string
	Error     string
}

// JobState is what the poller reports for a job; Reason is set when the status could not be read
type JobState struct {
	Status    Status
	OutputDir string
	Reason    string
}

// Object is one blob listed from the object store
type Object struct {
	Bucket string
	Name   string
	Size   int64
}

// ResultRecord is one parsed output line of a job
type ResultRecord struct {
	CustomID    string
	HasCustomID bool
	Response    *GenerateResponse
	ErrorStatus string
	Source      string
	Line        int
}

// Description returns the first candidate text, trimmed
func (r ResultRecord) Description() string {
	if r.Response == nil {
		return ""
	}
	return r.Response.Text()
}

// Malformed reports a record carrying neither a response nor an error
func (r ResultRecord) Malformed() bool {
	return r.Response == nil && r.ErrorStatus == ""
}

// Failed reports a record that cannot produce a card
func (r ResultRecord) Failed() bool {
	return r.ErrorStatus != "" || r.Description() == ""
}

// MatchMode names the reconciliation path that produced a pairing
type MatchMode string

const (
	// MatchPrimary pairs by customId
	MatchPrimary MatchMode = "primary"
	// MatchFallback pairs by the content heuristic
	MatchFallback MatchMode = "fallback"
)

// MatchedPair binds one image to one result record
type MatchedPair struct {
	Image  ImageRef
	Record ResultRecord
	Score  float64
	Weak   bool
}

// Reconciliation is the outcome of one matching pass
type Reconciliation struct {
	Pairs           []MatchedPair
	UnmatchedImages []ImageRef
	DroppedRecords  []ResultRecord
	Mode            MatchMode
}

// Card is an (image, description) pair ready for assembly
type Card struct {
	Image       ImageRef
	Description string
}

// Report summarizes one processed job or realtime pass
type Report struct {
	JobID     string
	Processed int
	Skipped   int
	Failed    int
	Cards     int
	Dropped   int
	Malformed int
	DeckPath  string
}

// Add folds o into r
func (r *Report) Add(o Report) {
	r.Processed += o.Processed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Cards += o.Cards
	r.Dropped += o.Dropped
	r.Malformed += o.Malformed
}

// Submission is the result of one Submit call
type Submission struct {
	Job     Job
	Skipped int
	// Waited is set when the call also waited for and processed the job
	Waited bool
	Report Report
}

// ResumeReport summarizes one pass over the registry
type ResumeReport struct {
	Checked   int
	Completed int
	Dropped   int
	Kept      int
	Reports   []Report
}

// Total folds every per-job report into one
func (r ResumeReport) Total() Report {
	var t Report
	for _, x := range r.Reports {
		t.Add(x)
	}
	return t
}

// Capabilities is computed once at process start and passed into constructors
type Capabilities struct {
	// Batch is true when a project, bucket and credentials are available
	Batch bool
	// CLIStatus is true when the gcloud CLI can be used as a secondary status reader
	CLIStatus bool
}
