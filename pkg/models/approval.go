package models

import "time"

// ApprovalStatus is the status written into an approval request header.
// Approval requests use upper-case values, unlike task records.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalTimeout  ApprovalStatus = "TIMEOUT"
)

// Decision is a human verdict read from a decision slot.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// DetailItem is one labelled line of an approval request's details list.
type DetailItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ApprovalRequest is a standalone request for a human decision.
type ApprovalRequest struct {
	ID          string
	Title       string
	Description string
	Details     []DetailItem
	Requester   string
	Priority    Priority
	Status      ApprovalStatus
	CreatedAt   time.Time
	TimeoutAt   time.Time
	ReviewedAt  time.Time
	Notes       string
}

// Filename returns the request's record filename.
func (r *ApprovalRequest) Filename() string {
	return "approval_" + r.ID + ".md"
}
