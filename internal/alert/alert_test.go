package alert_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/alert"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func pending() domain.FraudAlert {
	ev := domain.LocationEvidence{Latitude: 40.72, Longitude: -74, Accuracy: 5, Distance: 947, SpoofingScore: 0.4}
	score := domain.FraudScore{Overall: 62, RiskLevel: domain.RiskHigh}
	return alert.New(ev, domain.SeverityHigh, "location outside geofence", score, "stu_1", "ses_1", t0)
}

func TestNew(t *testing.T) {
	a := pending()
	assert.True(t, strings.HasPrefix(a.ID, "alt_"))
	assert.Equal(t, domain.AlertLocationSpoofing, a.Type)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Nil(t, a.Investigation)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, t0, a.CreatedAt)
}

func TestLifecycle_Resolve(t *testing.T) {
	a := pending()

	inv, err := alert.Assign(a, "dr.hassan", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInvestigating, inv.Status)
	assert.Equal(t, "dr.hassan", inv.Investigation.Assignee)
	assert.Equal(t, 2, inv.Version)
	assert.Equal(t, domain.StatusPending, a.Status, "input is not mutated")

	noted, err := alert.AddNote(inv, "dr.hassan", "checked CCTV, student absent", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInvestigating, noted.Status)
	assert.Len(t, noted.Investigation.Notes, 1)
	assert.Empty(t, inv.Investigation.Notes, "notes are copied, not shared")

	done, err := alert.Resolve(noted, "confirmed proxy attendance", t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, done.Status)
	assert.Equal(t, "confirmed proxy attendance", done.Investigation.Resolution)
	require.NotNil(t, done.Investigation.ResolvedAt)
	assert.Equal(t, t0.Add(3*time.Minute), *done.Investigation.ResolvedAt)
	assert.Equal(t, 4, done.Version)
}

func TestAssign_Idempotent(t *testing.T) {
	inv, err := alert.Assign(pending(), "dr.hassan", t0)
	require.NoError(t, err)

	again, err := alert.Assign(inv, "dr.hassan", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, inv, again)

	other, err := alert.Assign(inv, "dr.mona", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "dr.mona", other.Investigation.Assignee)
	assert.Equal(t, inv.Version+1, other.Version)
}

func TestDismiss_FromPendingAndInvestigating(t *testing.T) {
	d, err := alert.Dismiss(pending(), "GPS drift near building edge", t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDismissed, d.Status)
	assert.Equal(t, "GPS drift near building edge", d.Investigation.DismissReason)

	inv, err := alert.Assign(pending(), "dr.hassan", t0)
	require.NoError(t, err)
	d, err = alert.Dismiss(inv, "", t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDismissed, d.Status)
	assert.Equal(t, "dr.hassan", d.Investigation.Assignee)
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	inv, err := alert.Assign(pending(), "dr.hassan", t0)
	require.NoError(t, err)
	resolved, err := alert.Resolve(inv, "done", t0)
	require.NoError(t, err)
	dismissed, err := alert.Dismiss(pending(), "noise", t0)
	require.NoError(t, err)

	for _, closed := range []domain.FraudAlert{resolved, dismissed} {
		_, err := alert.Assign(closed, "someone", t0)
		assert.ErrorIs(t, err, alert.ErrTerminal)
		_, err = alert.AddNote(closed, "someone", "note", t0)
		assert.ErrorIs(t, err, alert.ErrTerminal)
		_, err = alert.Resolve(closed, "again", t0)
		assert.ErrorIs(t, err, alert.ErrTerminal)
		_, err = alert.Dismiss(closed, "again", t0)
		assert.ErrorIs(t, err, alert.ErrTerminal)
	}
}

func TestInvalidTransitions(t *testing.T) {
	a := pending()

	_, err := alert.Resolve(a, "skip the investigation", t0)
	assert.ErrorIs(t, err, alert.ErrInvalidTransition)

	_, err = alert.AddNote(a, "someone", "early note", t0)
	assert.ErrorIs(t, err, alert.ErrInvalidTransition)

	_, err = alert.Assign(a, "   ", t0)
	assert.ErrorIs(t, err, alert.ErrEmptyAssignee)

	inv, err := alert.Assign(a, "dr.hassan", t0)
	require.NoError(t, err)
	_, err = alert.Resolve(inv, "  ", t0)
	assert.ErrorIs(t, err, alert.ErrEmptyResolution)
	_, err = alert.AddNote(inv, "dr.hassan", "", t0)
	assert.ErrorIs(t, err, alert.ErrEmptyNote)

	a.Status = "REOPENED"
	_, err = alert.Assign(a, "dr.hassan", t0)
	assert.ErrorIs(t, err, alert.ErrUnknownStatus)
}

func TestTypedStates(t *testing.T) {
	st, err := alert.From(pending())
	require.NoError(t, err)
	p, ok := st.(alert.Pending)
	require.True(t, ok)

	inv, err := p.Assign("dr.hassan", t0)
	require.NoError(t, err)
	res, err := inv.Resolve("confirmed", t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, res.Status())
	assert.Equal(t, domain.StatusResolved, res.Alert().Status)
}

func TestAlertJSONRoundTripKeepsEvidenceType(t *testing.T) {
	a := pending()
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var back domain.FraudAlert
	require.NoError(t, json.Unmarshal(raw, &back))
	ev, ok := back.Evidence.(domain.LocationEvidence)
	require.True(t, ok, "evidence decoded as %T", back.Evidence)
	assert.Equal(t, 947.0, ev.Distance)
	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, a.Type, back.Type)
}
