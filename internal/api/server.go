package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crosspost/internal/assets"
	"crosspost/internal/domain"
	"crosspost/internal/service"
)

// Server exposes the orchestrator contracts to collaborators (UI, CLI) as a
// small JSON API. Expected failure modes map to status codes; per-unit
// failures stay inside result bodies, matching the contracts themselves.
type Server struct {
	orchestrator *service.GenerationOrchestrator
	dispatcher   *service.PublishDispatcher
	calendar     *service.CalendarMaterializer
	ledger       service.Ledger
	assets       *assets.Client
	logger       *slog.Logger
}

func NewServer(
	orchestrator *service.GenerationOrchestrator,
	dispatcher *service.PublishDispatcher,
	calendar *service.CalendarMaterializer,
	ledger service.Ledger,
	assetClient *assets.Client,
	logger *slog.Logger,
) *Server {
	return &Server{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		calendar:     calendar,
		ledger:       ledger,
		assets:       assetClient,
		logger:       logger.With("component", "api"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/briefs/{briefID}/generate", s.handleGenerate)
	r.Delete("/briefs/{briefID}", s.handleDeleteBrief)
	r.Post("/publish", s.handlePublishNow)
	r.Post("/publish/batch", s.handlePublishBatch)
	r.Post("/schedule", s.handleSchedule)
	r.Get("/calendar", s.handleCalendar)
	r.Get("/credits/{ownerID}", s.handleBalance)
	r.Post("/assets", s.handleUploadAsset)
	r.Delete("/assets/{assetID}", s.handleDeleteAsset)

	return r
}

type generateRequest struct {
	OwnerID    string   `json:"owner_id"`
	SourceText string   `json:"source_text"`
	ChannelIDs []string `json:"channel_ids"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	brief := domain.Brief{
		ID:         chi.URLParam(r, "briefID"),
		SourceText: req.SourceText,
		CreatedAt:  time.Now().UTC(),
	}

	variants, err := s.orchestrator.Generate(r.Context(), req.OwnerID, brief, req.ChannelIDs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

func (s *Server) handleDeleteBrief(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.DeleteBrief(r.Context(), chi.URLParam(r, "briefID")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type dispatchResult struct {
	ChannelID string `json:"channel_id"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

func toDispatchResult(r domain.DispatchResult) dispatchResult {
	out := dispatchResult{ChannelID: r.ChannelID, Accepted: r.Accepted}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func (s *Server) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	var v domain.Variant
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	writeJSON(w, http.StatusOK, toDispatchResult(s.dispatcher.PublishNow(r.Context(), v)))
}

type batchResponse struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []dispatchResult `json:"results"`
}

func (s *Server) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	var variants []domain.Variant
	if err := json.NewDecoder(r.Body).Decode(&variants); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := s.dispatcher.PublishBatch(r.Context(), variants)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := batchResponse{Succeeded: res.Succeeded, Failed: res.Failed}
	for _, dr := range res.Results {
		out.Results = append(out.Results, toDispatchResult(dr))
	}
	writeJSON(w, http.StatusOK, out)
}

type scheduleRequest struct {
	OwnerID    string                 `json:"owner_id"`
	Variant    domain.Variant         `json:"variant"`
	When       time.Time              `json:"when"`
	Timezone   string                 `json:"timezone"`
	Recurrence *domain.RecurrenceRule `json:"recurrence,omitempty"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	occ, err := s.dispatcher.Schedule(r.Context(), req.OwnerID, req.Variant, req.When, req.Timezone, req.Recurrence)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, occ)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}

	entries, err := s.calendar.EntriesInWindow(r.Context(), start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.Balance(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		writeError(w, http.StatusBadRequest, "missing content type")
		return
	}

	ref, err := s.assets.Upload(r.Context(), contentType, r.Body)
	if err != nil {
		s.logger.Error("asset upload failed", "error", err)
		writeError(w, http.StatusBadGateway, "asset store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	s.assets.Delete(r.Context(), chi.URLParam(r, "assetID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrNoEligibleChannels):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientCredit):
		writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
