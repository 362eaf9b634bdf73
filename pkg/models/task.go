package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the layout used for every timestamp written into a record header.
const TimeFormat = "2006-01-02 15:04:05"

// Status represents the lifecycle state of a task record.
type Status string

const (
	StatusPending          Status = "pending"
	StatusScheduled        Status = "scheduled"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusTimeout          Status = "timeout"
)

// allowedTransitions lists every legal status change. Terminal states have no
// outgoing edges.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusScheduled:        {},
		StatusAwaitingApproval: {},
		StatusFailed:           {},
	},
	StatusScheduled: {
		StatusAwaitingApproval: {},
		StatusCompleted:        {},
		StatusFailed:           {},
	},
	StatusAwaitingApproval: {
		StatusApproved: {},
		StatusRejected: {},
		StatusTimeout:  {},
	},
	StatusApproved: {
		StatusScheduled: {},
	},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ParseStatus normalizes a header value into a Status. Unknown or empty values
// are treated as pending, the state every fresh record starts in.
func ParseStatus(s string) Status {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusScheduled, StatusAwaitingApproval, StatusApproved,
		StatusRejected, StatusCompleted, StatusFailed, StatusTimeout:
		return st
	case "timed_out", "expired":
		return StatusTimeout
	case "done":
		return StatusCompleted
	default:
		return StatusPending
	}
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected, StatusTimeout:
		return true
	}
	return false
}

// Priority represents the urgency of a task record.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes a header value. Unrecognized values fall back to medium.
func ParsePriority(s string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p
	default:
		return PriorityMedium
	}
}

// Rank returns the scheduling rank; lower ranks are served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Folder names a lifecycle folder of the record store. The on-disk directory
// name is configurable; Folder is the logical key.
type Folder string

const (
	FolderInbox         Folder = "inbox"
	FolderNeedsAction   Folder = "needs_action"
	FolderNeedsApproval Folder = "needs_approval"
	FolderDone          Folder = "done"
	FolderActions       Folder = "actions"
)

// LifecycleFolders are the folders that hold derived task records. Inbox holds
// raw, unclassified source items and is not part of this set.
var LifecycleFolders = []Folder{FolderNeedsAction, FolderNeedsApproval, FolderDone, FolderActions}

// Recognized header keys.
const (
	KeyType             = "type"
	KeyStatus           = "status"
	KeyPriority         = "priority"
	KeyTaskType         = "task_type"
	KeyCreatedAt        = "created_at"
	KeyCompletedAt      = "completed_at"
	KeyRelatedFiles     = "related_files"
	KeySourceFile       = "source_file"
	KeyActionType       = "action_type"
	KeyRequiresApproval = "requires_approval"
	KeyApproved         = "approved"
	KeyMaxRetries       = "max_retries"
	KeyRetryCount       = "retry_count"
	KeyErrorMessage     = "error_message"
	KeyTimeoutAt        = "timeout_at"
	KeyReviewedAt       = "reviewed_at"
	KeyURL              = "url"
	KeyMethod           = "method"
	KeyHeaderPrefix     = "header_"
)

// TaskRecord is one unit of work: a header plus a free-text markdown body,
// resident in exactly one lifecycle folder.
type TaskRecord struct {
	Name      string
	Folder    Folder
	Header    *Header
	Body      string
	HasHeader bool
	ModTime   time.Time
}

// NewTaskRecord returns an empty pending record with the given filename.
func NewTaskRecord(name string) *TaskRecord {
	h := NewHeader()
	return &TaskRecord{Name: name, Header: h, HasHeader: true}
}

// Status returns the record's parsed status.
func (r *TaskRecord) Status() Status {
	return ParseStatus(r.Header.Get(KeyStatus))
}

// Priority returns the record's parsed priority.
func (r *TaskRecord) Priority() Priority {
	return ParsePriority(r.Header.Get(KeyPriority))
}

// ActionType returns the lower-cased action_type, or "" for plain tasks.
func (r *TaskRecord) ActionType() string {
	return strings.ToLower(strings.TrimSpace(r.Header.Get(KeyActionType)))
}

// RequiresApproval returns the explicit requires_approval value and whether
// the header sets it at all.
func (r *TaskRecord) RequiresApproval() (required, set bool) {
	if !r.Header.Has(KeyRequiresApproval) {
		return false, false
	}
	return ParseBool(r.Header.Get(KeyRequiresApproval)), true
}

// MaxRetries returns the attempt budget from the header, or def when unset or invalid.
func (r *TaskRecord) MaxRetries(def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(KeyMaxRetries)))
	if err != nil || n < 1 {
		return def
	}
	return n
}

// CreatedAt returns the created_at header as a time, falling back to the file
// modification time when the header is missing or unparseable.
func (r *TaskRecord) CreatedAt() time.Time {
	if t, ok := ParseTime(r.Header.Get(KeyCreatedAt)); ok {
		return t
	}
	return r.ModTime
}

// Transition moves the record to a new status, enforcing the transition table.
func (r *TaskRecord) Transition(to Status) error {
	from := r.Status()
	if !CanTransition(from, to) {
		return fmt.Errorf("record %s: illegal transition %s -> %s", r.Name, from, to)
	}
	r.Header.Set(KeyStatus, string(to))
	return nil
}

// Stamp sets key to the formatted time.
func (r *TaskRecord) Stamp(key string, t time.Time) {
	r.Header.Set(key, t.Format(TimeFormat))
}

// ParseBool interprets common truthy header spellings.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'`)) {
	case "true", "yes", "1", "y", "on":
		return true
	}
	return false
}

var timeLayouts = []string{
	TimeFormat,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp spellings found in record headers.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
