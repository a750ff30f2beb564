// Package replicate copies a Drive folder tree the caller does not own into
// a folder the caller controls. The tree is walked depth-first; folders are
// recreated through the Ledger's folder map, and each file is either
// duplicated server-side or, when the owner forbids that, streamed through
// this process in chunks. Every remote call goes through a retry.Invoker.
package replicate

import (
	"errors"
	"time"
)

// ErrFallbackRequired signals that a server-side duplicate was refused for
// permission reasons and the file must be stream-copied instead. It never
// surfaces as an outcome error.
var ErrFallbackRequired = errors.New("replicate: server duplicate refused, stream copy required")

// Kind is the classification of a source item.
type Kind string

const (
	KindFile    Kind = "file"
	KindFolder  Kind = "folder"
	KindSpecial Kind = "special"
)

// Strategy is how a file is replicated.
type Strategy string

const (
	StrategyServerDuplicate Strategy = "server_duplicate"
	StrategyStreamCopy      Strategy = "stream_copy"
	StrategySkip            Strategy = "skip"
)

// Status is the terminal state of one item in a run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusRetriedSuccess Status = "retried_success"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
	StatusNotAttempted   Status = "not_attempted"
)

// Succeeded reports whether the item reached the destination.
func (s Status) Succeeded() bool {
	return s == StatusSuccess || s == StatusRetriedSuccess
}

// Reason codes attached to skipped, failed, and not-attempted outcomes.
const (
	ReasonExcluded        = "excluded"
	ReasonShortcut        = "shortcut"
	ReasonAlreadyCopied   = "already_copied"
	ReasonAlreadyVisited  = "already_visited"
	ReasonItemLimit       = "item_limit"
	ReasonCanceled        = "canceled"
	ReasonAccessDenied    = "access_denied"
	ReasonNotDownloadable = "not_downloadable"
	ReasonNotFound        = "not_found"
	ReasonRateLimited     = "rate_limited"
	ReasonTransient       = "transient"
	ReasonUnauthorized    = "unauthorized"
	ReasonListFailed      = "list_failed"
	ReasonCreateFailed    = "create_failed"
	ReasonError           = "error"
)

// TransferPlan is built immediately before dispatch and consumed once.
type TransferPlan struct {
	SourceID     string
	Name         string
	MimeType     string
	Size         int64
	Kind         Kind
	DestParentID string
	Path         string // relative to the source root, for reporting
	Strategy     Strategy
	SkipReason   string
}

// TransferOutcome is the result of one plan, or of a folder that could not
// be created or listed. It is recorded in the Ledger exactly once.
type TransferOutcome struct {
	SourceID     string
	Name         string
	Path         string
	Kind         Kind
	DestParentID string
	DestID       string
	Strategy     Strategy
	FellBack     bool
	Status       Status
	Bytes        int64
	Retries      int
	Err          error
	Reason       string
	DryRun       bool
	RecordedAt   time.Time
}

// ErrString returns the outcome error text, or "".
func (o *TransferOutcome) ErrString() string {
	if o.Err == nil {
		return ""
	}

	return o.Err.Error()
}

// Sink receives every recorded outcome and folder mapping, for persistence.
// Calls are serialized by the Ledger.
type Sink interface {
	RecordOutcome(o TransferOutcome) error
	RecordFolder(sourceID, destID string) error
}

// ProgressFunc is called after every recorded outcome with a fresh snapshot.
type ProgressFunc func(Snapshot)

// ResumeState carries what an earlier run already did for the same source
// and destination: folder mappings and the IDs of files already copied.
type ResumeState struct {
	Folders   map[string]string // source folder ID -> destination folder ID
	Completed map[string]string // source file ID -> destination file ID
}
