package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AssignmentState tracks the activation lifecycle of a temporary assignment.
type AssignmentState string

const (
	AssignmentNotProcessed         AssignmentState = "NotProcessed"
	AssignmentActive               AssignmentState = "Active"
	AssignmentActiveWithExpiration AssignmentState = "ActiveWithExpiration"
	AssignmentInactive             AssignmentState = "Inactive"
	AssignmentErrorOccurred        AssignmentState = "ErrorOccurred"
)

// IsActive reports whether members of the assignment currently hold the target.
func (s AssignmentState) IsActive() bool {
	return s == AssignmentActive || s == AssignmentActiveWithExpiration
}

// NotificationStatus is a set of flags recording which notifications were sent.
type NotificationStatus uint8

const (
	NotificationNotSent          NotificationStatus = 0
	NotificationActivationSent   NotificationStatus = 1 << 0
	NotificationDeactivationSent NotificationStatus = 1 << 1
)

// Has reports whether all flags in f are set.
func (s NotificationStatus) Has(f NotificationStatus) bool {
	return s&f == f
}

func (s NotificationStatus) String() string {
	if s == NotificationNotSent {
		return "NotSent"
	}
	var parts []string
	if s.Has(NotificationActivationSent) {
		parts = append(parts, "ActivationSent")
	}
	if s.Has(NotificationDeactivationSent) {
		parts = append(parts, "DeactivationSent")
	}
	return strings.Join(parts, "|")
}

// ErrInvalidNotificationTransition signals a state pair the notification bookkeeping does not know.
var ErrInvalidNotificationTransition = errors.New("invalid notification state transition")

// TemporaryAssignment is a profile-to-target membership bounded in time.
type TemporaryAssignment struct {
	ID                 string             `json:"id"`
	ProfileID          string             `json:"profile_id"`
	ProfileType        ObjectType         `json:"profile_type"`
	TargetID           string             `json:"target_id"`
	TargetType         ObjectType         `json:"target_type"`
	State              AssignmentState    `json:"state"`
	NotificationStatus NotificationStatus `json:"notification_status"`
	Start              *time.Time         `json:"start,omitempty"`
	End                *time.Time         `json:"end,omitempty"`
	LastErrorMessage   string             `json:"last_error_message,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Profile returns the graph identity of the assigned profile.
func (a TemporaryAssignment) Profile() ObjectIdent {
	return ObjectIdent{ID: a.ProfileID, Type: a.ProfileType}
}

// Target returns the graph identity of the assignment target.
func (a TemporaryAssignment) Target() ObjectIdent {
	return ObjectIdent{ID: a.TargetID, Type: a.TargetType}
}

// EffectiveState is the state used as the origin of the next transition.
// An errored assignment resumes from the state its notification flags imply.
func (a TemporaryAssignment) EffectiveState() AssignmentState {
	if a.State != AssignmentErrorOccurred {
		return a.State
	}
	switch {
	case a.NotificationStatus.Has(NotificationDeactivationSent):
		return AssignmentInactive
	case a.NotificationStatus.Has(NotificationActivationSent):
		if a.End == nil {
			return AssignmentActive
		}
		return AssignmentActiveWithExpiration
	default:
		return AssignmentNotProcessed
	}
}

// NextState returns the state that follows from at, stepping at most one transition.
func (a TemporaryAssignment) NextState(at time.Time) (AssignmentState, bool) {
	switch current := a.EffectiveState(); current {
	case AssignmentNotProcessed:
		if a.Start != nil && at.Before(*a.Start) {
			return current, false
		}
		if a.End == nil {
			return AssignmentActive, true
		}
		return AssignmentActiveWithExpiration, true
	case AssignmentActiveWithExpiration:
		if a.End != nil && !at.Before(*a.End) {
			return AssignmentInactive, true
		}
		return current, false
	default:
		return current, false
	}
}

// Reset clears the bookkeeping so the assignment is processed again from scratch.
func (a TemporaryAssignment) Reset() TemporaryAssignment {
	a.State = AssignmentNotProcessed
	a.NotificationStatus = NotificationNotSent
	a.LastErrorMessage = ""
	return a
}

// HasTimeWindow reports whether the window needs scheduled activation or deactivation.
func HasTimeWindow(conditions []RangeCondition) bool {
	for _, c := range conditions {
		if !c.IsTrivial() {
			return true
		}
	}
	return false
}

// UpdateNotificationState applies the notification bookkeeping for a state change.
func UpdateNotificationState(oldState, newState AssignmentState, status NotificationStatus) (NotificationStatus, error) {
	switch {
	case oldState == AssignmentNotProcessed && newState == AssignmentActiveWithExpiration:
		return status | NotificationActivationSent, nil
	case oldState == AssignmentActiveWithExpiration && newState == AssignmentInactive:
		if status.Has(NotificationDeactivationSent) {
			return status, nil
		}
		return status | NotificationDeactivationSent, nil
	case oldState == AssignmentNotProcessed && newState == AssignmentActive:
		return status | NotificationActivationSent, nil
	default:
		return status, fmt.Errorf("%w: %s -> %s", ErrInvalidNotificationTransition, oldState, newState)
	}
}
