// Package alert builds fraud alerts and moves them through their review
// lifecycle: PENDING -> INVESTIGATING -> RESOLVED | DISMISSED.
//
// Each lifecycle state is its own type and exposes only the transitions that
// are legal from it, so an illegal transition does not compile. Transitions
// never mutate their input; they return the next alert value with Version
// incremented, which the caller persists with a compare-and-swap on the
// previous version.
package alert

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Sentinel errors.
var (
	ErrTerminal          = errors.New("alert is closed")
	ErrInvalidTransition = errors.New("invalid alert transition")
	ErrEmptyResolution   = errors.New("resolution must not be empty")
	ErrEmptyAssignee     = errors.New("assignee must not be empty")
	ErrEmptyNote         = errors.New("note must not be empty")
	ErrUnknownStatus     = errors.New("unknown alert status")
)

// New builds a PENDING alert whose type is taken from the evidence.
func New(ev domain.Evidence, severity domain.Severity, description string, score domain.FraudScore, studentID, sessionID string, now time.Time) domain.FraudAlert {
	return domain.FraudAlert{
		ID:          "alt_" + uuid.NewString(),
		Type:        ev.AlertType(),
		Severity:    severity,
		Description: description,
		StudentID:   studentID,
		SessionID:   sessionID,
		Evidence:    ev,
		Score:       score,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

// ─── Typed states ────────────────────────────────────────────────────────────

// State is an alert in one specific lifecycle state.
type State interface {
	Alert() domain.FraudAlert
	Status() domain.AlertStatus
}

// Pending alerts await an investigator.
type Pending struct{ a domain.FraudAlert }

// Investigating alerts have an assignee and accept notes.
type Investigating struct{ a domain.FraudAlert }

// Resolved is terminal.
type Resolved struct{ a domain.FraudAlert }

// Dismissed is terminal.
type Dismissed struct{ a domain.FraudAlert }

func (s Pending) Alert() domain.FraudAlert       { return s.a }
func (s Investigating) Alert() domain.FraudAlert { return s.a }
func (s Resolved) Alert() domain.FraudAlert      { return s.a }
func (s Dismissed) Alert() domain.FraudAlert     { return s.a }

func (Pending) Status() domain.AlertStatus       { return domain.StatusPending }
func (Investigating) Status() domain.AlertStatus { return domain.StatusInvestigating }
func (Resolved) Status() domain.AlertStatus      { return domain.StatusResolved }
func (Dismissed) Status() domain.AlertStatus     { return domain.StatusDismissed }

// From wraps a stored alert in its typed state.
func From(a domain.FraudAlert) (State, error) {
	switch a.Status {
	case domain.StatusPending:
		return Pending{a}, nil
	case domain.StatusInvestigating:
		return Investigating{a}, nil
	case domain.StatusResolved:
		return Resolved{a}, nil
	case domain.StatusDismissed:
		return Dismissed{a}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, a.Status)
}

// Assign starts the investigation.
func (s Pending) Assign(assignee string, at time.Time) (Investigating, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return Investigating{}, ErrEmptyAssignee
	}
	next := advance(s.a, domain.StatusInvestigating, at)
	next.Investigation = &domain.Investigation{Assignee: assignee, AssignedAt: &at}
	return Investigating{next}, nil
}

// Dismiss closes the alert without investigation.
func (s Pending) Dismiss(reason string, at time.Time) Dismissed {
	next := advance(s.a, domain.StatusDismissed, at)
	next.Investigation = &domain.Investigation{DismissReason: strings.TrimSpace(reason), DismissedAt: &at}
	return Dismissed{next}
}

// Assign is idempotent for the current assignee and reassigns otherwise.
func (s Investigating) Assign(assignee string, at time.Time) (Investigating, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return Investigating{}, ErrEmptyAssignee
	}
	if s.a.Investigation != nil && s.a.Investigation.Assignee == assignee {
		return s, nil
	}
	next := advance(s.a, domain.StatusInvestigating, at)
	next.Investigation.Assignee = assignee
	next.Investigation.AssignedAt = &at
	return Investigating{next}, nil
}

// AddNote appends a reviewer note; the status is unchanged.
func (s Investigating) AddNote(author, text string, at time.Time) (Investigating, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Investigating{}, ErrEmptyNote
	}
	next := advance(s.a, domain.StatusInvestigating, at)
	next.Investigation.Notes = append(next.Investigation.Notes, domain.InvestigationNote{
		ID:        uuid.NewString(),
		Author:    strings.TrimSpace(author),
		Text:      text,
		CreatedAt: at,
	})
	return Investigating{next}, nil
}

// Resolve closes the investigation with a resolution.
func (s Investigating) Resolve(resolution string, at time.Time) (Resolved, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return Resolved{}, ErrEmptyResolution
	}
	next := advance(s.a, domain.StatusResolved, at)
	next.Investigation.Resolution = resolution
	next.Investigation.ResolvedAt = &at
	return Resolved{next}, nil
}

// Dismiss closes the investigation as a false positive.
func (s Investigating) Dismiss(reason string, at time.Time) Dismissed {
	next := advance(s.a, domain.StatusDismissed, at)
	next.Investigation.DismissReason = strings.TrimSpace(reason)
	next.Investigation.DismissedAt = &at
	return Dismissed{next}
}

// advance copies a, including its investigation, and stamps the new status.
func advance(a domain.FraudAlert, status domain.AlertStatus, at time.Time) domain.FraudAlert {
	next := a
	if a.Investigation != nil {
		inv := *a.Investigation
		inv.Notes = slices.Clone(a.Investigation.Notes)
		next.Investigation = &inv
	} else {
		next.Investigation = &domain.Investigation{}
	}
	next.Status = status
	next.UpdatedAt = at
	next.Version = a.Version + 1
	return next
}

// ─── Commands on stored alerts ───────────────────────────────────────────────

// Assign moves a PENDING alert to INVESTIGATING, or reassigns an
// INVESTIGATING one.
func Assign(a domain.FraudAlert, assignee string, at time.Time) (domain.FraudAlert, error) {
	st, err := From(a)
	if err != nil {
		return a, err
	}
	switch s := st.(type) {
	case Pending:
		next, err := s.Assign(assignee, at)
		if err != nil {
			return a, err
		}
		return next.Alert(), nil
	case Investigating:
		next, err := s.Assign(assignee, at)
		if err != nil {
			return a, err
		}
		return next.Alert(), nil
	}
	return a, closed(st)
}

// AddNote appends a note to an INVESTIGATING alert.
func AddNote(a domain.FraudAlert, author, text string, at time.Time) (domain.FraudAlert, error) {
	st, err := From(a)
	if err != nil {
		return a, err
	}
	switch s := st.(type) {
	case Investigating:
		next, err := s.AddNote(author, text, at)
		if err != nil {
			return a, err
		}
		return next.Alert(), nil
	case Pending:
		return a, fmt.Errorf("%w: assign the alert before adding notes", ErrInvalidTransition)
	}
	return a, closed(st)
}

// Resolve moves an INVESTIGATING alert to RESOLVED.
func Resolve(a domain.FraudAlert, resolution string, at time.Time) (domain.FraudAlert, error) {
	st, err := From(a)
	if err != nil {
		return a, err
	}
	switch s := st.(type) {
	case Investigating:
		next, err := s.Resolve(resolution, at)
		if err != nil {
			return a, err
		}
		return next.Alert(), nil
	case Pending:
		return a, fmt.Errorf("%w: cannot resolve an alert that is not under investigation", ErrInvalidTransition)
	}
	return a, closed(st)
}

// Dismiss moves a PENDING or INVESTIGATING alert to DISMISSED.
func Dismiss(a domain.FraudAlert, reason string, at time.Time) (domain.FraudAlert, error) {
	st, err := From(a)
	if err != nil {
		return a, err
	}
	switch s := st.(type) {
	case Pending:
		return s.Dismiss(reason, at).Alert(), nil
	case Investigating:
		return s.Dismiss(reason, at).Alert(), nil
	}
	return a, closed(st)
}

func closed(st State) error {
	return fmt.Errorf("%w: status is %s", ErrTerminal, st.Status())
}
