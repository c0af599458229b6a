// Package flow orchestrates the approval lifecycle: it glues the state
// machine, the roster, the compositor, storage, and persistence into the one
// logical transaction per document that the rest of the system relies on.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/worawit/docflow/internal/approval"
	"github.com/worawit/docflow/internal/assignment"
	"github.com/worawit/docflow/internal/compositor"
	pdfutil "github.com/worawit/docflow/internal/pdf"
	"github.com/worawit/docflow/internal/profile"
	"github.com/worawit/docflow/internal/queue"
	"github.com/worawit/docflow/internal/repository"
	"github.com/worawit/docflow/internal/roster"

	"github.com/google/uuid"
)

var (
	ErrNotAuthor      = errors.New("only the author may do this")
	ErrPositionLocked = errors.New("placement is locked once that signer's turn has passed")
)

// DocumentStore is the slice of the repository the flow needs.
type DocumentStore interface {
	Create(ctx context.Context, doc *repository.Document, chain *roster.Roster) error
	Get(ctx context.Context, id string) (*repository.Document, *roster.Roster, error)
	UpsertRosterEntry(ctx context.Context, docID string, e roster.Entry) error
	SavePosition(ctx context.Context, docID string, order int, pos *roster.Position) error
	Advance(ctx context.Context, docID string, expectedOrder int, dec approval.Decision, newObjectKey string, actingOrder int, comment string) error
	Reject(ctx context.Context, docID string, expectedOrder int, audit approval.Rejection) error
	Resubmit(ctx context.Context, docID string) error
	MarkAssigned(ctx context.Context, docID string) error
}

// AssignmentStore persists task groups.
type AssignmentStore interface {
	CreateGroup(ctx context.Context, group []assignment.Assignment) error
	Get(ctx context.Context, id string) (*assignment.Assignment, error)
	Group(ctx context.Context, documentID string) ([]assignment.Assignment, error)
	Save(ctx context.Context, a *assignment.Assignment) error
	LinkReport(ctx context.Context, link assignment.ReportLink) error
	ReportLinks(ctx context.Context, originalDocumentID string) ([]assignment.ReportLink, error)
}

// ObjectStore is the PDF storage boundary.
type ObjectStore interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) error
	Download(ctx context.Context, objectKey string) ([]byte, error)
	Remove(ctx context.Context, objectKey string) error
}

// Compositor calls the external rasterization boundary.
type Compositor interface {
	Submit(ctx context.Context, pdfBytes, signatureImage []byte, blocks []compositor.Block) ([]byte, error)
}

// ProfileDirectory resolves signer identities.
type ProfileDirectory interface {
	Get(ctx context.Context, userID string) (profile.Profile, error)
	RequireSignature(ctx context.Context, userID string) (profile.Profile, error)
	FetchSignatureImage(ctx context.Context, url string) ([]byte, error)
}

// Dispatcher schedules post-commit work.
type Dispatcher interface {
	Cleanup(ctx context.Context, payload queue.CleanupPayload) error
	Event(ctx context.Context, payload queue.EventPayload) error
}

// Service wires the collaborators together.
type Service struct {
	docs      DocumentStore
	tasks     AssignmentStore
	store     ObjectStore
	comp      Compositor
	profiles  ProfileDirectory
	dispatch  Dispatcher
	logger    *zap.Logger
	overrides map[string]bool
}

// NewService constructs the flow service. overrideIDs are administrative
// identities allowed to approve out of turn.
func NewService(docs DocumentStore, tasks AssignmentStore, store ObjectStore, comp Compositor,
	profiles ProfileDirectory, dispatch Dispatcher, logger *zap.Logger, overrideIDs []string) *Service {
	overrides := make(map[string]bool, len(overrideIDs))
	for _, id := range overrideIDs {
		overrides[id] = true
	}
	return &Service{
		docs:      docs,
		tasks:     tasks,
		store:     store,
		comp:      comp,
		profiles:  profiles,
		dispatch:  dispatch,
		logger:    logger,
		overrides: overrides,
	}
}

// CreateDocument uploads the initial PDF revision and registers the draft
// with its roster. The PDF must parse; a document we cannot page-count can
// never validate placements later.
func (s *Service) CreateDocument(ctx context.Context, docType repository.DocType, subject, authorID string, pdfBytes []byte, entries []roster.Entry) (*repository.Document, error) {
	if _, err := pdfutil.PageCount(pdfBytes); err != nil {
		return nil, fmt.Errorf("unreadable pdf: %w", err)
	}
	chain, err := roster.New(entries...)
	if err != nil {
		return nil, err
	}
	doc := &repository.Document{
		ID:       uuid.NewString(),
		DocType:  docType,
		Subject:  subject,
		AuthorID: authorID,
	}
	doc.ObjectKey = objectKey(doc.ID, 0)
	if err := s.store.Upload(ctx, doc.ObjectKey, pdfBytes, "application/pdf"); err != nil {
		return nil, err
	}
	if err := s.docs.Create(ctx, doc, chain); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpsertRosterEntry adds or replaces a signer in the chain. Identity swaps
// are only allowed while the document is in draft.
func (s *Service) UpsertRosterEntry(ctx context.Context, docID string, order int, role roster.Role, userID string) error {
	doc, chain, err := s.docs.Get(ctx, docID)
	if err != nil {
		return err
	}
	draft := doc.Status == approval.StatusDraft
	if err := chain.AddOrUpdateEntry(order, role, userID, draft); err != nil {
		return err
	}
	return s.docs.UpsertRosterEntry(ctx, docID, *chain.EntryAt(order))
}

// PlacePosition stores a signature placement in PDF points, validating both
// the page bounds and, against the working PDF itself, the page index. A
// placement may only change while that signer's turn is still ahead of the
// document's current order.
func (s *Service) PlacePosition(ctx context.Context, docID string, order, page int, x, y float64) error {
	doc, chain, err := s.docs.Get(ctx, docID)
	if err != nil {
		return err
	}
	if err := placementMutable(doc, order); err != nil {
		return err
	}
	if err := chain.PlacePosition(order, page, x, y); err != nil {
		return err
	}
	pdfBytes, err := s.store.Download(ctx, doc.ObjectKey)
	if err != nil {
		return err
	}
	if err := pdfutil.CheckPage(pdfBytes, page); err != nil {
		return err
	}
	return s.docs.SavePosition(ctx, docID, order, chain.EntryAt(order).Position)
}

// RemovePosition clears a placement, under the same mutability rule as
// PlacePosition.
func (s *Service) RemovePosition(ctx context.Context, docID string, order int) error {
	doc, chain, err := s.docs.Get(ctx, docID)
	if err != nil {
		return err
	}
	if err := placementMutable(doc, order); err != nil {
		return err
	}
	if err := chain.RemovePosition(order); err != nil {
		return err
	}
	return s.docs.SavePosition(ctx, docID, order, nil)
}

// placementMutable rejects placement changes on documents parked at a
// sentinel and on any order the chain has already moved past. The order the
// document currently sits at is still mutable; that signer has not acted yet.
func placementMutable(doc *repository.Document, order int) error {
	if approval.Terminal(doc.CurrentOrder) {
		return fmt.Errorf("%w: document is %s", approval.ErrTerminalState, doc.Status)
	}
	if order < doc.CurrentOrder {
		return fmt.Errorf("%w: order %d, document at %d", ErrPositionLocked, order, doc.CurrentOrder)
	}
	return nil
}

// Approve executes one approval action end to end. Ordering is deliberate:
// the composited PDF is uploaded under a fresh key and the state machine is
// committed before the superseded revision is even scheduled for deletion,
// so a failure at any step leaves the previous revision intact. The
// optimistic check runs twice: a fast pre-check against observedOrder here,
// and the authoritative one inside the Advance UPDATE.
func (s *Service) Approve(ctx context.Context, docID, actorID string, observedOrder int, comment string) (approval.Decision, error) {
	doc, chain, err := s.docs.Get(ctx, docID)
	if err != nil {
		return approval.Decision{}, err
	}
	if doc.CurrentOrder != observedOrder {
		return approval.Decision{}, approval.ErrConcurrentModification
	}
	entry := chain.EntryForUser(actorID)
	if err := approval.CheckTurn(doc.CurrentOrder, chain, entry, s.overrides[actorID]); err != nil {
		return approval.Decision{}, err
	}
	prof, err := s.profiles.RequireSignature(ctx, actorID)
	if err != nil {
		return approval.Decision{}, err
	}
	signatureImage, err := s.profiles.FetchSignatureImage(ctx, prof.SignatureImageURL)
	if err != nil {
		return approval.Decision{}, err
	}
	pdfBytes, err := s.store.Download(ctx, doc.ObjectKey)
	if err != nil {
		return approval.Decision{}, err
	}
	blocks, err := compositor.BuildPayload(chain, entry.Order, compositor.Signer{
		FullName: prof.FullName(),
		Title:    prof.Role,
	}, comment, time.Now())
	if err != nil {
		return approval.Decision{}, err
	}
	newPDF, err := s.comp.Submit(ctx, pdfBytes, signatureImage, blocks)
	if err != nil {
		return approval.Decision{}, err
	}
	newKey := objectKey(docID, doc.Revision+1)
	if err := s.store.Upload(ctx, newKey, newPDF, "application/pdf"); err != nil {
		return approval.Decision{}, err
	}
	dec := approval.ComputeNext(entry.Order, chain, entry.Role)
	if err := s.docs.Advance(ctx, docID, observedOrder, dec, newKey, entry.Order, comment); err != nil {
		// The commit lost; drop the orphaned revision so storage stays tidy.
		if rmErr := s.store.Remove(ctx, newKey); rmErr != nil {
			s.logger.Warn("orphaned revision left behind", zap.String("object_key", newKey), zap.Error(rmErr))
		}
		return approval.Decision{}, err
	}
	s.afterCommit(ctx, queue.CleanupPayload{DocumentID: docID, ObjectKey: doc.ObjectKey},
		queue.EventPayload{Event: queue.EventDocumentAdvanced, DocumentID: docID, ActorID: actorID})
	return dec, nil
}

// Reject returns the document to its author with an immutable audit record.
func (s *Service) Reject(ctx context.Context, docID, actorID string, observedOrder int, reason string) (approval.Decision, error) {
	doc, chain, err := s.docs.Get(ctx, docID)
	if err != nil {
		return approval.Decision{}, err
	}
	if doc.CurrentOrder != observedOrder {
		return approval.Decision{}, approval.ErrConcurrentModification
	}
	entry := chain.EntryForUser(actorID)
	if err := approval.CheckTurn(doc.CurrentOrder, chain, entry, s.overrides[actorID]); err != nil {
		return approval.Decision{}, err
	}
	prof, err := s.profiles.Get(ctx, actorID)
	if err != nil {
		return approval.Decision{}, err
	}
	dec, audit := approval.Reject(actorID, prof.FullName(), reason, time.Now().UTC())
	if err := s.docs.Reject(ctx, docID, observedOrder, audit); err != nil {
		return approval.Decision{}, err
	}
	s.afterCommit(ctx, queue.CleanupPayload{},
		queue.EventPayload{Event: queue.EventDocumentRejected, DocumentID: docID, ActorID: actorID, Detail: reason})
	return dec, nil
}

// Resubmit returns a rejected document to draft. Author only.
func (s *Service) Resubmit(ctx context.Context, docID, actorID string) (approval.Decision, error) {
	doc, chain, err := s.docs.Get(ctx, docID)
	if err != nil {
		return approval.Decision{}, err
	}
	if doc.AuthorID != actorID {
		return approval.Decision{}, ErrNotAuthor
	}
	dec, err := approval.Resubmit(doc.CurrentOrder, chain)
	if err != nil {
		return approval.Decision{}, err
	}
	if err := s.docs.Resubmit(ctx, docID); err != nil {
		return approval.Decision{}, err
	}
	return dec, nil
}

// Member describes one participant when a task group is created.
type Member struct {
	UserID     string `json:"userId"`
	TeamLeader bool   `json:"isTeamLeader"`
	Reporter   bool   `json:"isReporter"`
}

// Assign creates the task group for a fully approved document.
func (s *Service) Assign(ctx context.Context, docID string, members []Member) ([]assignment.Assignment, error) {
	doc, _, err := s.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status != approval.StatusApproved {
		return nil, fmt.Errorf("%w: document is %s", approval.ErrTerminalState, doc.Status)
	}
	group := make([]assignment.Assignment, 0, len(members))
	for _, m := range members {
		group = append(group, assignment.Assignment{
			ID:         uuid.NewString(),
			DocumentID: docID,
			UserID:     m.UserID,
			TeamLeader: m.TeamLeader,
			Reporter:   m.Reporter,
			Status:     assignment.StatusPending,
		})
	}
	if err := assignment.ValidateGroup(group); err != nil {
		return nil, err
	}
	if err := s.tasks.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.docs.MarkAssigned(ctx, docID); err != nil {
		return nil, err
	}
	return group, nil
}

// Acknowledge starts work on one assignment; leaders designate reporters.
func (s *Service) Acknowledge(ctx context.Context, assignmentID, actorID string, reporterIDs []string) error {
	entry, err := s.tasks.Get(ctx, assignmentID)
	if err != nil {
		return err
	}
	group, err := s.tasks.Group(ctx, entry.DocumentID)
	if err != nil {
		return err
	}
	changed, err := assignment.Acknowledge(group, actorID, reporterIDs)
	if err != nil {
		return err
	}
	for i := range changed {
		if err := s.tasks.Save(ctx, &changed[i]); err != nil {
			return err
		}
	}
	return nil
}

// CompleteAssignment finishes one participant's entry; reporters must attach
// the report document, which is linked back to the original first-class.
func (s *Service) CompleteAssignment(ctx context.Context, assignmentID, note, reportDocumentID string) error {
	entry, err := s.tasks.Get(ctx, assignmentID)
	if err != nil {
		return err
	}
	if err := assignment.Complete(entry, note, reportDocumentID, time.Now().UTC()); err != nil {
		return err
	}
	if err := s.tasks.Save(ctx, entry); err != nil {
		return err
	}
	if reportDocumentID != "" {
		if err := s.tasks.LinkReport(ctx, assignment.ReportLink{
			OriginalDocumentID: entry.DocumentID,
			ReportDocumentID:   reportDocumentID,
		}); err != nil {
			return err
		}
	}
	s.afterCommit(ctx, queue.CleanupPayload{},
		queue.EventPayload{Event: queue.EventAssignmentCompleted, DocumentID: entry.DocumentID, ActorID: entry.UserID})
	return nil
}

// GroupStatus returns the task group, the report documents filed against the
// original, and the derived aggregate.
func (s *Service) GroupStatus(ctx context.Context, docID string) ([]assignment.Assignment, []assignment.ReportLink, assignment.AggregateStatus, error) {
	group, err := s.tasks.Group(ctx, docID)
	if err != nil {
		return nil, nil, "", err
	}
	links, err := s.tasks.ReportLinks(ctx, docID)
	if err != nil {
		return nil, nil, "", err
	}
	return group, links, assignment.Aggregate(group), nil
}

// afterCommit schedules post-commit work. Failures here are logged, never
// surfaced: the state transition already happened and must not be rolled
// back for a queue hiccup.
func (s *Service) afterCommit(ctx context.Context, cleanup queue.CleanupPayload, event queue.EventPayload) {
	if cleanup.ObjectKey != "" {
		if err := s.dispatch.Cleanup(ctx, cleanup); err != nil {
			s.logger.Warn("enqueue cleanup failed", zap.String("object_key", cleanup.ObjectKey), zap.Error(err))
		}
	}
	if err := s.dispatch.Event(ctx, event); err != nil {
		s.logger.Warn("enqueue event failed", zap.String("event", event.Event), zap.Error(err))
	}
}

func objectKey(docID string, revision int) string {
	return fmt.Sprintf("documents/%s/rev-%d.pdf", docID, revision)
}
