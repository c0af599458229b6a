// Package assignment models the crew that executes a fully approved
// document's task: one team leader, ordinary members, and at least one
// reporter who must attach completion evidence.
package assignment

import (
	"errors"
	"fmt"
	"time"
)

// Status is the per-participant state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// AggregateStatus is derived from the group, never stored.
type AggregateStatus string

const (
	AggregateNotStarted AggregateStatus = "not_started"
	AggregateInProgress AggregateStatus = "in_progress"
	AggregateDone       AggregateStatus = "done"
)

var (
	ErrReportRequired    = errors.New("reporter must attach a report document")
	ErrInvalidTransition = errors.New("invalid assignment transition")
	ErrLeaderRequired    = errors.New("group needs exactly one team leader")
	ErrReporterRequired  = errors.New("group needs at least one reporter")
	ErrNotInGroup        = errors.New("participant is not part of the group")
)

// Assignment is one participant's entry in a completed document's task group.
type Assignment struct {
	ID               string     `json:"id"`
	DocumentID       string     `json:"documentId"`
	UserID           string     `json:"userId"`
	TeamLeader       bool       `json:"isTeamLeader"`
	Reporter         bool       `json:"isReporter"`
	Status           Status     `json:"status"`
	Note             string     `json:"note,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ReportDocumentID string     `json:"reportDocumentId,omitempty"`
}

// ReportLink ties a follow-up report memo back to the document whose task it
// reports on. The report document re-enters the approval flow on its own.
type ReportLink struct {
	OriginalDocumentID string `json:"originalDocumentId"`
	ReportDocumentID   string `json:"reportDocumentId"`
}

// ValidateGroup checks the structural invariants of a task group.
func ValidateGroup(group []Assignment) error {
	leaders := 0
	reporters := 0
	for _, a := range group {
		if a.TeamLeader {
			leaders++
		}
		if a.Reporter {
			reporters++
		}
	}
	if leaders != 1 {
		return fmt.Errorf("%w: found %d", ErrLeaderRequired, leaders)
	}
	if reporters < 1 {
		return ErrReporterRequired
	}
	return nil
}

// Acknowledge starts work on the group. When the team leader acknowledges,
// they designate the reporters; the leader and every designated reporter move
// to in-progress. A non-leader participant only moves their own entry.
// Returns the entries that changed.
func Acknowledge(group []Assignment, actorUserID string, reporterIDs []string) ([]Assignment, error) {
	actor := findByUser(group, actorUserID)
	if actor == nil {
		return nil, ErrNotInGroup
	}
	if actor.Status != StatusPending {
		return nil, fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, actor.Status)
	}
	if !actor.TeamLeader {
		actor.Status = StatusInProgress
		return []Assignment{*actor}, nil
	}
	if len(reporterIDs) == 0 {
		return nil, ErrReporterRequired
	}
	for _, id := range reporterIDs {
		if findByUser(group, id) == nil {
			return nil, fmt.Errorf("%w: reporter %s", ErrNotInGroup, id)
		}
	}
	var changed []Assignment
	actor.Status = StatusInProgress
	actor.Reporter = containsID(reporterIDs, actor.UserID) || actor.Reporter
	changed = append(changed, *actor)
	for _, id := range reporterIDs {
		if id == actorUserID {
			continue
		}
		member := findByUser(group, id)
		member.Reporter = true
		if member.Status == StatusPending {
			member.Status = StatusInProgress
		}
		changed = append(changed, *member)
	}
	return changed, nil
}

// Complete finishes one participant's entry. Reporters must attach the report
// document that re-enters the approval flow; ordinary members need only a note.
func Complete(a *Assignment, note, reportDocumentID string, now time.Time) error {
	if a.Status != StatusInProgress {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, a.Status)
	}
	if a.Reporter && reportDocumentID == "" {
		return ErrReportRequired
	}
	a.Status = StatusCompleted
	a.Note = note
	a.ReportDocumentID = reportDocumentID
	a.CompletedAt = &now
	return nil
}

// Cancel withdraws a pending or in-progress entry.
func Cancel(a *Assignment) error {
	if a.Status != StatusPending && a.Status != StatusInProgress {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, a.Status)
	}
	a.Status = StatusCancelled
	return nil
}

// Aggregate derives the group status: not started until anyone acknowledges,
// done once every reporter has completed, in progress otherwise.
func Aggregate(group []Assignment) AggregateStatus {
	if len(group) == 0 {
		return AggregateNotStarted
	}
	allPending := true
	reportersDone := true
	hasReporter := false
	for _, a := range group {
		if a.Status != StatusPending {
			allPending = false
		}
		if a.Reporter {
			hasReporter = true
			if a.Status != StatusCompleted {
				reportersDone = false
			}
		}
	}
	if allPending {
		return AggregateNotStarted
	}
	if hasReporter && reportersDone {
		return AggregateDone
	}
	return AggregateInProgress
}

func findByUser(group []Assignment, userID string) *Assignment {
	for i := range group {
		if group[i].UserID == userID {
			return &group[i]
		}
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
