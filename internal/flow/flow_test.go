package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/worawit/docflow/internal/approval"
	"github.com/worawit/docflow/internal/assignment"
	"github.com/worawit/docflow/internal/compositor"
	"github.com/worawit/docflow/internal/profile"
	"github.com/worawit/docflow/internal/queue"
	"github.com/worawit/docflow/internal/repository"
	"github.com/worawit/docflow/internal/roster"
)

type fakeDocs struct {
	doc      *repository.Document
	chain    *roster.Roster
	advanced []string // object keys committed, in order
	rejected []approval.Rejection
	failWith error
}

func (f *fakeDocs) Create(ctx context.Context, doc *repository.Document, chain *roster.Roster) error {
	f.doc, f.chain = doc, chain
	return nil
}

func (f *fakeDocs) Get(ctx context.Context, id string) (*repository.Document, *roster.Roster, error) {
	if f.doc == nil {
		return nil, nil, repository.ErrNotFound
	}
	return f.doc, f.chain, nil
}

func (f *fakeDocs) UpsertRosterEntry(ctx context.Context, docID string, e roster.Entry) error {
	return nil
}

func (f *fakeDocs) SavePosition(ctx context.Context, docID string, order int, pos *roster.Position) error {
	return nil
}

func (f *fakeDocs) Advance(ctx context.Context, docID string, expectedOrder int, dec approval.Decision, newObjectKey string, actingOrder int, comment string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.doc.CurrentOrder != expectedOrder {
		return approval.ErrConcurrentModification
	}
	f.doc.CurrentOrder = dec.NextOrder
	f.doc.Status = dec.NextStatus
	f.doc.ObjectKey = newObjectKey
	f.doc.Revision++
	f.advanced = append(f.advanced, newObjectKey)
	return nil
}

func (f *fakeDocs) Reject(ctx context.Context, docID string, expectedOrder int, audit approval.Rejection) error {
	if f.doc.CurrentOrder != expectedOrder {
		return approval.ErrConcurrentModification
	}
	f.doc.CurrentOrder = approval.RejectedOrder
	f.doc.Status = approval.StatusRejected
	f.rejected = append(f.rejected, audit)
	return nil
}

func (f *fakeDocs) Resubmit(ctx context.Context, docID string) error {
	f.doc.CurrentOrder = 1
	f.doc.Status = approval.StatusDraft
	return nil
}

func (f *fakeDocs) MarkAssigned(ctx context.Context, docID string) error {
	f.doc.IsAssigned = true
	return nil
}

type fakeTasks struct {
	group []assignment.Assignment
	links []assignment.ReportLink
}

func (f *fakeTasks) CreateGroup(ctx context.Context, group []assignment.Assignment) error {
	f.group = group
	return nil
}

func (f *fakeTasks) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	for i := range f.group {
		if f.group[i].ID == id {
			a := f.group[i]
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTasks) Group(ctx context.Context, documentID string) ([]assignment.Assignment, error) {
	return append([]assignment.Assignment(nil), f.group...), nil
}

func (f *fakeTasks) Save(ctx context.Context, a *assignment.Assignment) error {
	for i := range f.group {
		if f.group[i].ID == a.ID {
			f.group[i] = *a
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeTasks) LinkReport(ctx context.Context, link assignment.ReportLink) error {
	f.links = append(f.links, link)
	return nil
}

func (f *fakeTasks) ReportLinks(ctx context.Context, originalDocumentID string) ([]assignment.ReportLink, error) {
	var out []assignment.ReportLink
	for _, link := range f.links {
		if link.OriginalDocumentID == originalDocumentID {
			out = append(out, link)
		}
	}
	return out, nil
}

type fakeStore struct {
	objects  map[string][]byte
	uploads  []string
	removals []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if _, ok := f.objects[key]; ok {
		return errors.New("object already exists")
	}
	f.objects[key] = data
	f.uploads = append(f.uploads, key)
	return nil
}

func (f *fakeStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object does not exist")
	}
	return data, nil
}

func (f *fakeStore) Remove(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.removals = append(f.removals, key)
	return nil
}

type fakeComp struct {
	calls int
	err   error
}

func (f *fakeComp) Submit(ctx context.Context, pdfBytes, signatureImage []byte, blocks []compositor.Block) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append(append([]byte(nil), pdfBytes...), []byte(" signed")...), nil
}

type fakeProfiles struct {
	noSignature bool
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (profile.Profile, error) {
	return profile.Profile{UserID: userID, FirstName: "Test", LastName: "Signer", Role: "Director"}, nil
}

func (f *fakeProfiles) RequireSignature(ctx context.Context, userID string) (profile.Profile, error) {
	if f.noSignature {
		return profile.Profile{}, profile.ErrSignatureImageNeeded
	}
	p, _ := f.Get(ctx, userID)
	p.SignatureImageURL = "http://example/sig.png"
	return p, nil
}

func (f *fakeProfiles) FetchSignatureImage(ctx context.Context, url string) ([]byte, error) {
	return []byte("png"), nil
}

type fakeDispatch struct {
	cleanups []queue.CleanupPayload
	events   []queue.EventPayload
}

func (f *fakeDispatch) Cleanup(ctx context.Context, payload queue.CleanupPayload) error {
	f.cleanups = append(f.cleanups, payload)
	return nil
}

func (f *fakeDispatch) Event(ctx context.Context, payload queue.EventPayload) error {
	f.events = append(f.events, payload)
	return nil
}

type fixture struct {
	svc      *Service
	docs     *fakeDocs
	tasks    *fakeTasks
	store    *fakeStore
	comp     *fakeComp
	profiles *fakeProfiles
	dispatch *fakeDispatch
}

func setup(t *testing.T, currentOrder int, status approval.Status) *fixture {
	t.Helper()
	chain, err := roster.New(
		roster.Entry{Order: 1, Role: roster.RoleAuthor, UserID: "u-author"},
		roster.Entry{Order: 2, Role: roster.RoleClerk, UserID: "u-assistant"},
		roster.Entry{Order: 3, Role: roster.RoleApproverTier1, UserID: "u-deputy"},
		roster.Entry{Order: 4, Role: roster.RoleFinalSigner, UserID: "u-director"},
	)
	require.NoError(t, err)
	for order := 2; order <= 4; order++ {
		require.NoError(t, chain.PlacePosition(order, 1, float64(order*50), 120))
	}
	f := &fixture{
		docs: &fakeDocs{
			doc: &repository.Document{
				ID:           "d1",
				DocType:      repository.DocTypeMemo,
				AuthorID:     "u-author",
				CurrentOrder: currentOrder,
				Status:       status,
				ObjectKey:    "documents/d1/rev-0.pdf",
			},
			chain: chain,
		},
		tasks:    &fakeTasks{},
		store:    newFakeStore(),
		comp:     &fakeComp{},
		profiles: &fakeProfiles{},
		dispatch: &fakeDispatch{},
	}
	f.store.objects["documents/d1/rev-0.pdf"] = []byte("pdf")
	f.svc = NewService(f.docs, f.tasks, f.store, f.comp, f.profiles, f.dispatch, zap.NewNop(), nil)
	return f
}

func TestApproveAdvancesAndCleansUpOldRevision(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)

	dec, err := f.svc.Approve(context.Background(), "d1", "u-deputy", 3, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, approval.Decision{NextOrder: 4, NextStatus: approval.StatusPendingSign}, dec)

	// New revision committed, old one only scheduled for deletion.
	assert.Equal(t, []string{"documents/d1/rev-1.pdf"}, f.docs.advanced)
	require.Len(t, f.dispatch.cleanups, 1)
	assert.Equal(t, "documents/d1/rev-0.pdf", f.dispatch.cleanups[0].ObjectKey)
	assert.Contains(t, f.store.objects, "documents/d1/rev-0.pdf")
	require.Len(t, f.dispatch.events, 1)
	assert.Equal(t, queue.EventDocumentAdvanced, f.dispatch.events[0].Event)
}

func TestApproveFinalSignerCompletes(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)

	// The director closes the document from order 3; order 4 is never visited.
	dec, err := f.svc.Approve(context.Background(), "d1", "u-director", 3, "")
	require.NoError(t, err)
	assert.Equal(t, approval.Decision{NextOrder: approval.CompletedOrder, NextStatus: approval.StatusApproved}, dec)
	assert.Equal(t, approval.StatusApproved, f.docs.doc.Status)
}

func TestApproveStaleReadFailsFast(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)

	_, err := f.svc.Approve(context.Background(), "d1", "u-deputy", 2, "")
	assert.ErrorIs(t, err, approval.ErrConcurrentModification)
	assert.Zero(t, f.comp.calls)
	assert.Empty(t, f.store.uploads)
}

func TestApproveCompositionFailureLeavesStateUntouched(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)
	f.comp.err = compositor.ErrComposition

	_, err := f.svc.Approve(context.Background(), "d1", "u-deputy", 3, "")
	assert.ErrorIs(t, err, compositor.ErrComposition)
	assert.Empty(t, f.docs.advanced)
	assert.Empty(t, f.store.uploads)
	assert.Empty(t, f.dispatch.cleanups)
	assert.Equal(t, 3, f.docs.doc.CurrentOrder)
}

func TestApproveCommitLossRemovesOrphanedRevision(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)
	f.docs.failWith = approval.ErrConcurrentModification

	_, err := f.svc.Approve(context.Background(), "d1", "u-deputy", 3, "")
	assert.ErrorIs(t, err, approval.ErrConcurrentModification)
	assert.Equal(t, []string{"documents/d1/rev-1.pdf"}, f.store.removals)
	assert.Empty(t, f.dispatch.cleanups)
	assert.Contains(t, f.store.objects, "documents/d1/rev-0.pdf")
}

func TestApproveRequiresSignatureImage(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)
	f.profiles.noSignature = true

	_, err := f.svc.Approve(context.Background(), "d1", "u-deputy", 3, "")
	assert.ErrorIs(t, err, profile.ErrSignatureImageNeeded)
	assert.Zero(t, f.comp.calls)
}

func TestApproveOutOfTurn(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)

	_, err := f.svc.Approve(context.Background(), "d1", "u-assistant", 3, "")
	assert.ErrorIs(t, err, approval.ErrNotYourTurn)

	_, err = f.svc.Approve(context.Background(), "d1", "u-stranger", 3, "")
	assert.ErrorIs(t, err, approval.ErrNotYourTurn)
}

func TestRejectRecordsAuditAndResubmitIsAuthorOnly(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)

	dec, err := f.svc.Reject(context.Background(), "d1", "u-deputy", 3, "ข้อมูลไม่ครบ")
	require.NoError(t, err)
	assert.Equal(t, approval.Decision{NextOrder: approval.RejectedOrder, NextStatus: approval.StatusRejected}, dec)
	require.Len(t, f.docs.rejected, 1)
	assert.Equal(t, "ข้อมูลไม่ครบ", f.docs.rejected[0].Reason)
	require.Len(t, f.dispatch.events, 1)
	assert.Equal(t, queue.EventDocumentRejected, f.dispatch.events[0].Event)

	_, err = f.svc.Resubmit(context.Background(), "d1", "u-deputy")
	assert.ErrorIs(t, err, ErrNotAuthor)

	dec, err = f.svc.Resubmit(context.Background(), "d1", "u-author")
	require.NoError(t, err)
	assert.Equal(t, approval.Decision{NextOrder: 1, NextStatus: approval.StatusDraft}, dec)
}

func TestPlacementLockedOncePassed(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)

	// Order 2's turn has passed; its placement is frozen on the composited
	// revision and can no longer be replaced or cleared.
	err := f.svc.RemovePosition(context.Background(), "d1", 2)
	assert.ErrorIs(t, err, ErrPositionLocked)
	err = f.svc.PlacePosition(context.Background(), "d1", 2, 1, 50, 50)
	assert.ErrorIs(t, err, ErrPositionLocked)
	assert.NotNil(t, f.docs.chain.EntryAt(2).Position)

	// The signer currently holding the turn has not acted yet and may still
	// adjust their own placement.
	require.NoError(t, f.svc.RemovePosition(context.Background(), "d1", 3))
	assert.Nil(t, f.docs.chain.EntryAt(3).Position)
}

func TestPlacementFrozenAtSentinels(t *testing.T) {
	f := setup(t, approval.CompletedOrder, approval.StatusApproved)
	err := f.svc.RemovePosition(context.Background(), "d1", 2)
	assert.ErrorIs(t, err, approval.ErrTerminalState)

	f = setup(t, approval.RejectedOrder, approval.StatusRejected)
	err = f.svc.PlacePosition(context.Background(), "d1", 4, 1, 50, 50)
	assert.ErrorIs(t, err, approval.ErrTerminalState)
}

func TestAssignRequiresApprovedDocument(t *testing.T) {
	f := setup(t, 3, approval.StatusPendingSign)

	_, err := f.svc.Assign(context.Background(), "d1", []Member{
		{UserID: "u-lead", TeamLeader: true},
		{UserID: "u-m1", Reporter: true},
	})
	assert.ErrorIs(t, err, approval.ErrTerminalState)
}

func TestAssignmentLifecycle(t *testing.T) {
	f := setup(t, approval.CompletedOrder, approval.StatusApproved)

	group, err := f.svc.Assign(context.Background(), "d1", []Member{
		{UserID: "u-lead", TeamLeader: true},
		{UserID: "u-m1"},
		{UserID: "u-m2"},
	})
	require.ErrorIs(t, err, assignment.ErrReporterRequired)

	group, err = f.svc.Assign(context.Background(), "d1", []Member{
		{UserID: "u-lead", TeamLeader: true},
		{UserID: "u-m1", Reporter: true},
		{UserID: "u-m2"},
	})
	require.NoError(t, err)
	require.Len(t, group, 3)
	assert.True(t, f.docs.doc.IsAssigned)

	leaderID := group[0].ID
	reporterID := group[1].ID
	require.NoError(t, f.svc.Acknowledge(context.Background(), leaderID, "u-lead", []string{"u-m1"}))

	_, links, agg, err := f.svc.GroupStatus(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, assignment.AggregateInProgress, agg)
	assert.Empty(t, links)

	err = f.svc.CompleteAssignment(context.Background(), reporterID, "done", "")
	assert.ErrorIs(t, err, assignment.ErrReportRequired)

	require.NoError(t, f.svc.CompleteAssignment(context.Background(), reporterID, "done", "d-report"))
	require.Len(t, f.tasks.links, 1)
	assert.Equal(t, assignment.ReportLink{OriginalDocumentID: "d1", ReportDocumentID: "d-report"}, f.tasks.links[0])

	_, links, agg, err = f.svc.GroupStatus(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, assignment.AggregateDone, agg)
	require.Len(t, links, 1)
	assert.Equal(t, "d-report", links[0].ReportDocumentID)
}
