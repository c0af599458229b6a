// Package api exposes the approval flow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/worawit/docflow/internal/approval"
	"github.com/worawit/docflow/internal/assignment"
	"github.com/worawit/docflow/internal/compositor"
	"github.com/worawit/docflow/internal/config"
	"github.com/worawit/docflow/internal/flow"
	"github.com/worawit/docflow/internal/geometry"
	pdfutil "github.com/worawit/docflow/internal/pdf"
	"github.com/worawit/docflow/internal/profile"
	"github.com/worawit/docflow/internal/repository"
	"github.com/worawit/docflow/internal/roster"
	"github.com/worawit/docflow/internal/s3storage"
	"github.com/worawit/docflow/internal/signing"
)

// Server hosts the document and assignment endpoints.
type Server struct {
	cfg    *config.Config
	svc    *flow.Service
	docs   *repository.DocumentRepository
	store  *s3storage.Storage
	signer *signing.Signer
	logger *zap.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, svc *flow.Service, docs *repository.DocumentRepository,
	store *s3storage.Storage, signer *signing.Signer, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		svc:    svc,
		docs:   docs,
		store:  store,
		signer: signer,
		logger: logger,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logging)

	r.Get("/healthz", s.handleHealth)
	r.Get("/download", s.handleDownload)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/download-url", s.handleDownloadURL)
			r.Put("/roster/{order}", s.handleUpsertEntry)
			r.Post("/roster/{order}/position", s.handlePlacePosition)
			r.Delete("/roster/{order}/position", s.handleRemovePosition)
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
			r.Post("/resubmit", s.handleResubmit)
			r.Post("/assignments", s.handleAssign)
			r.Get("/assignments", s.handleGroupStatus)
		})
	})

	r.Route("/assignments/{assignmentID}", func(r chi.Router) {
		r.Post("/acknowledge", s.handleAcknowledge)
		r.Post("/complete", s.handleComplete)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+64<<10)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()
	pdfBytes, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	if len(pdfBytes) == 0 {
		http.Error(w, "empty file", http.StatusBadRequest)
		return
	}
	if ct := http.DetectContentType(head(pdfBytes)); ct != "application/pdf" {
		http.Error(w, "only PDF files supported", http.StatusBadRequest)
		return
	}
	var entries []roster.Entry
	if raw := r.FormValue("roster"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			http.Error(w, "malformed roster", http.StatusBadRequest)
			return
		}
	}
	docType := repository.DocType(r.FormValue("docType"))
	if docType == "" {
		docType = repository.DocTypeMemo
	}
	doc, err := s.svc.CreateDocument(r.Context(), docType, r.FormValue("subject"), r.FormValue("authorId"), pdfBytes, entries)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	doc, chain, err := s.docs.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rejections, err := s.docs.Rejections(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"document":   doc,
		"roster":     chain.Entries(),
		"rejections": rejections,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := approval.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = approval.StatusPendingSign
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	docs, err := s.docs.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleUpsertEntry(w http.ResponseWriter, r *http.Request) {
	order, err := orderParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Role   roster.Role `json:"role"`
		UserID string      `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := s.svc.UpsertRosterEntry(r.Context(), chi.URLParam(r, "documentID"), order, req.Role, req.UserID); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePlacePosition accepts either PDF point coordinates directly or the
// raw click position plus render dimensions, converting through the geometry
// package in the latter case.
func (s *Server) handlePlacePosition(w http.ResponseWriter, r *http.Request) {
	order, err := orderParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Page           int     `json:"page"`
		X              float64 `json:"x"`
		Y              float64 `json:"y"`
		DomX           float64 `json:"domX"`
		DomY           float64 `json:"domY"`
		RenderedWidth  float64 `json:"renderedWidth"`
		RenderedHeight float64 `json:"renderedHeight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	x, y := req.X, req.Y
	if req.RenderedWidth > 0 && req.RenderedHeight > 0 {
		x, y = geometry.ToPDFPoint(req.DomX, req.DomY, req.RenderedWidth, req.RenderedHeight)
	}
	if err := s.svc.PlacePosition(r.Context(), chi.URLParam(r, "documentID"), order, req.Page, x, y); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"page": req.Page, "x": x, "y": y})
}

func (s *Server) handleRemovePosition(w http.ResponseWriter, r *http.Request) {
	order, err := orderParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.RemovePosition(r.Context(), chi.URLParam(r, "documentID"), order); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID       string `json:"actorId"`
		ObservedOrder int    `json:"observedOrder"`
		Comment       string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	dec, err := s.svc.Approve(r.Context(), chi.URLParam(r, "documentID"), req.ActorID, req.ObservedOrder, req.Comment)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dec)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID       string `json:"actorId"`
		ObservedOrder int    `json:"observedOrder"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	dec, err := s.svc.Reject(r.Context(), chi.URLParam(r, "documentID"), req.ActorID, req.ObservedOrder, req.Reason)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dec)
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	dec, err := s.svc.Resubmit(r.Context(), chi.URLParam(r, "documentID"), req.ActorID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dec)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Members []flow.Member `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	group, err := s.svc.Assign(r.Context(), chi.URLParam(r, "documentID"), req.Members)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"assignments": group})
}

func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	group, links, aggregate, err := s.svc.GroupStatus(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"assignments": group,
		"reportLinks": links,
		"aggregate":   aggregate,
	})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID     string   `json:"actorId"`
		ReporterIDs []string `json:"reporterIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Acknowledge(r.Context(), chi.URLParam(r, "assignmentID"), req.ActorID, req.ReporterIDs); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note             string `json:"note"`
		ReportDocumentID string `json:"reportDocumentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := s.svc.CompleteAssignment(r.Context(), chi.URLParam(r, "assignmentID"), req.Note, req.ReportDocumentID); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if _, _, err := s.docs.Get(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	expiry := time.Now().Add(s.cfg.SignedURLTTL).Unix()
	token := s.signer.Sign(id, expiry)
	url := fmt.Sprintf("/download?doc=%s&expires=%d&token=%s", id, expiry, token)
	respondJSON(w, http.StatusOK, map[string]string{
		"url":     url,
		"expires": strconv.FormatInt(expiry, 10),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("doc")
	expires := r.URL.Query().Get("expires")
	token := r.URL.Query().Get("token")
	if id == "" || expires == "" || token == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	expiryUnix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		http.Error(w, "invalid expires", http.StatusBadRequest)
		return
	}
	if time.Unix(expiryUnix, 0).Before(time.Now()) {
		http.Error(w, "url expired", http.StatusUnauthorized)
		return
	}
	if !s.signer.Validate(id, expires, token) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	doc, _, err := s.docs.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	data, err := s.store.Download(r.Context(), doc.ObjectKey)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Subject+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// respondError maps the domain error taxonomy onto HTTP statuses. External
// boundary failures get a generic message; the cause stays in the logs.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, roster.ErrInvalidOrder),
		errors.Is(err, roster.ErrOutOfBounds),
		errors.Is(err, roster.ErrUnknownSigner),
		errors.Is(err, roster.ErrIncomplete),
		errors.Is(err, pdfutil.ErrPageOutOfRange),
		errors.Is(err, assignment.ErrReportRequired),
		errors.Is(err, assignment.ErrLeaderRequired),
		errors.Is(err, assignment.ErrReporterRequired),
		errors.Is(err, assignment.ErrNotInGroup),
		errors.Is(err, assignment.ErrInvalidTransition),
		errors.Is(err, approval.ErrNotRejected):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, approval.ErrNotYourTurn), errors.Is(err, flow.ErrNotAuthor):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, approval.ErrTerminalState),
		errors.Is(err, approval.ErrConcurrentModification),
		errors.Is(err, flow.ErrPositionLocked):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, profile.ErrSignatureImageNeeded):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, compositor.ErrCompositionTimeout):
		s.logger.Error("composition timed out", zap.Error(err))
		http.Error(w, "signing service timed out, try again", http.StatusGatewayTimeout)
	case errors.Is(err, compositor.ErrComposition),
		errors.Is(err, s3storage.ErrUpload),
		errors.Is(err, s3storage.ErrFetch),
		errors.Is(err, profile.ErrProfileUnavailable):
		s.logger.Error("external boundary failure", zap.Error(err))
		http.Error(w, "upstream failure, try again", http.StatusBadGateway)
	default:
		s.logger.Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func orderParam(r *http.Request) (int, error) {
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil || order < 1 {
		return 0, errors.New("invalid order")
	}
	return order, nil
}

func head(data []byte) []byte {
	if len(data) > 512 {
		return data[:512]
	}
	return data
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
