package assignment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func team() []Assignment {
	return []Assignment{
		{ID: "a1", DocumentID: "d1", UserID: "u-lead", TeamLeader: true, Status: StatusPending},
		{ID: "a2", DocumentID: "d1", UserID: "u-m1", Status: StatusPending},
		{ID: "a3", DocumentID: "d1", UserID: "u-m2", Status: StatusPending},
	}
}

func TestValidateGroup(t *testing.T) {
	group := team()
	group[1].Reporter = true
	assert.NoError(t, ValidateGroup(group))

	assert.ErrorIs(t, ValidateGroup(team()), ErrReporterRequired)

	twoLeads := team()
	twoLeads[1].TeamLeader = true
	twoLeads[2].Reporter = true
	assert.ErrorIs(t, ValidateGroup(twoLeads), ErrLeaderRequired)
}

func TestLeaderAcknowledgeDesignatesReporters(t *testing.T) {
	group := team()

	changed, err := Acknowledge(group, "u-lead", []string{"u-m1"})
	require.NoError(t, err)
	assert.Len(t, changed, 2)

	assert.Equal(t, StatusInProgress, group[0].Status)
	assert.Equal(t, StatusInProgress, group[1].Status)
	assert.True(t, group[1].Reporter)
	assert.Equal(t, StatusPending, group[2].Status)
	assert.Equal(t, AggregateInProgress, Aggregate(group))
}

func TestLeaderAcknowledgeRequiresReporters(t *testing.T) {
	group := team()
	_, err := Acknowledge(group, "u-lead", nil)
	assert.ErrorIs(t, err, ErrReporterRequired)

	_, err = Acknowledge(group, "u-lead", []string{"u-stranger"})
	assert.ErrorIs(t, err, ErrNotInGroup)
}

func TestMemberAcknowledgeMovesOnlyThemselves(t *testing.T) {
	group := team()
	changed, err := Acknowledge(group, "u-m2", nil)
	require.NoError(t, err)
	assert.Len(t, changed, 1)
	assert.Equal(t, StatusInProgress, group[2].Status)
	assert.Equal(t, StatusPending, group[0].Status)
}

func TestAcknowledgeOnlyFromPending(t *testing.T) {
	group := team()
	group[0].Status = StatusInProgress
	_, err := Acknowledge(group, "u-lead", []string{"u-m1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReporterGate(t *testing.T) {
	now := time.Now()
	a := Assignment{UserID: "u-m1", Reporter: true, Status: StatusInProgress}

	err := Complete(&a, "done", "", now)
	assert.ErrorIs(t, err, ErrReportRequired)
	assert.Equal(t, StatusInProgress, a.Status)

	require.NoError(t, Complete(&a, "done", "doc-report", now))
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, "doc-report", a.ReportDocumentID)
	require.NotNil(t, a.CompletedAt)
}

func TestNonReporterCompletesWithoutReport(t *testing.T) {
	a := Assignment{UserID: "u-m2", Status: StatusInProgress}
	assert.NoError(t, Complete(&a, "done", "", time.Now()))

	pending := Assignment{Status: StatusPending}
	assert.ErrorIs(t, Complete(&pending, "", "", time.Now()), ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	a := Assignment{Status: StatusPending}
	assert.NoError(t, Cancel(&a))
	assert.Equal(t, StatusCancelled, a.Status)
	assert.ErrorIs(t, Cancel(&a), ErrInvalidTransition)
}

// Leader + 2 members, one designated reporter; the group counts as done once
// the reporter files, regardless of the other member.
func TestAggregateFollowsReporters(t *testing.T) {
	group := team()
	assert.Equal(t, AggregateNotStarted, Aggregate(group))

	_, err := Acknowledge(group, "u-lead", []string{"u-m1"})
	require.NoError(t, err)
	assert.Equal(t, AggregateInProgress, Aggregate(group))

	require.NoError(t, Complete(&group[1], "summary", "doc-report", time.Now()))
	assert.Equal(t, AggregateDone, Aggregate(group))
	assert.Equal(t, StatusPending, group[2].Status)
}
