/*
handlers.go - HTTP API handlers for the address registry

PURPOSE:
  Exposes the registry via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the registry components.

ENDPOINTS:
  Communes:
    GET    /api/communes                       Communes summary
    GET    /api/communes/{code}                Commune view with voies
    PATCH  /api/communes/{code}                Merge summary fields
    GET    /api/communes/{code}/data           Raw voies/numeros of the commune
    PUT    /api/communes/{code}/data           Replace voies/numeros of the commune
    POST   /api/communes/{code}/compose        Ask a composition
    POST   /api/communes/{code}/compose/finish Mark a composition done

  Addresses:
    GET    /api/voies/{id}                     Voie view with numeros
    GET    /api/numeros/{id}                   Numero view

  Compositions:
    GET    /api/compositions/pending           Pending communes
    POST   /api/compositions/next              Next job for the pipeline

  Force certification:
    GET    /api/force-certification            Flagged communes
    PUT    /api/force-certification            Reconcile to a desired set

  Tiles:
    GET    /api/tiles/{z}/{x}/{y}              Map features of a tile

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Tracker: composition workflow and commune data writes
  - Reconciler: force certification set
  - Views: read projections
  - Tiles: cached tile extraction
  - Jobs: the composition queue, consumed by the pipeline

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call registry component
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Unresolvable commune, invalid tile, commune mismatch, bad body
  - 404: Resource not found
  - 409: Rows rejected by the bulk insert
  - 503: Composition queue full or closed
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Write endpoints are meant to be
  reachable from the composition pipeline network only.

SEE ALSO:
  - dto.go: Request/response data structures
  - tiles.go: Tile cache
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/warp/ban-registry/queue"
	"github.com/warp/ban-registry/registry"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// JobSource hands queued composition jobs to the pipeline.
type JobSource interface {
	Dequeue(ctx context.Context) (queue.Item, error)
	Len() int
}

// DefaultNextWait is how long POST /api/compositions/next waits for a job.
const DefaultNextWait = 10 * time.Second

// MaxNextWait bounds the wait a client may ask for.
const MaxNextWait = time.Minute

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Tracker    *registry.Tracker
	Reconciler *registry.Reconciler
	Views      *registry.Views
	Tiles      *TileCache
	Jobs       JobSource

	log logr.Logger
}

// NewHandler creates a new handler.
func NewHandler(
	tracker *registry.Tracker,
	reconciler *registry.Reconciler,
	views *registry.Views,
	tiles *TileCache,
	jobs JobSource,
	log logr.Logger,
) *Handler {
	return &Handler{
		Tracker:    tracker,
		Reconciler: reconciler,
		Views:      views,
		Tiles:      tiles,
		Jobs:       jobs,
		log:        log.WithName("api"),
	}
}

// =============================================================================
// COMMUNE ENDPOINTS
// =============================================================================

// ListCommunes returns the communes summary.
// GET /api/communes
func (h *Handler) ListCommunes(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Views.CommunesSummary(r.Context())
	if err != nil {
		h.writeInternal(w, "Failed to list communes", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetCommune returns the commune view.
// GET /api/communes/{code}
func (h *Handler) GetCommune(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	view, err := h.Views.CommuneView(r.Context(), code)
	if err != nil {
		h.writeInternal(w, "Failed to get commune", err)
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "Commune not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateCommune merges summary fields into the commune.
// PATCH /api/communes/{code}
func (h *Handler) UpdateCommune(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	var req UpdateCommuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Tracker.UpdateCommune(ctx, code, req.Patch()); err != nil {
		if registry.IsClientError(err) {
			writeError(w, http.StatusBadRequest, "Commune cannot be updated", err)
			return
		}
		h.writeInternal(w, "Failed to update commune", err)
		return
	}

	commune, err := h.Tracker.GetCommune(ctx, code)
	if err != nil {
		h.writeInternal(w, "Failed to get commune", err)
		return
	}
	writeJSON(w, http.StatusOK, commune)
}

// GetCommuneData returns the raw dataset of the commune.
// GET /api/communes/{code}/data
func (h *Handler) GetCommuneData(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	data, err := h.Tracker.GetCommuneData(r.Context(), code)
	if err != nil {
		h.writeInternal(w, "Failed to get commune data", err)
		return
	}
	if data == nil {
		writeError(w, http.StatusNotFound, "Commune not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// SaveCommuneData replaces the voies and numeros of the commune.
// PUT /api/communes/{code}/data
func (h *Handler) SaveCommuneData(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var data registry.CommuneData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Tracker.SaveCommuneData(r.Context(), code, data)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case registry.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid commune data", err)
	case errors.Is(err, registry.ErrBulkInsert):
		writeError(w, http.StatusConflict, "Some rows were rejected", err)
	default:
		h.writeInternal(w, "Failed to save commune data", err)
	}
}

// AskComposition flags the commune for composition and enqueues a job.
// POST /api/communes/{code}/compose
func (h *Handler) AskComposition(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	resolved, err := h.Tracker.AskComposition(r.Context(), code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, AskCompositionResponse{CodeCommune: resolved})
	case registry.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Unknown commune", err)
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		// The flag is persisted; the recovery scheduler will enqueue it.
		writeError(w, http.StatusServiceUnavailable, "Composition queue unavailable", err)
	default:
		h.writeInternal(w, "Failed to ask composition", err)
	}
}

// FinishComposition clears the pending flag.
// POST /api/communes/{code}/compose/finish
func (h *Handler) FinishComposition(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.Tracker.FinishComposition(r.Context(), code); err != nil {
		h.writeInternal(w, "Failed to finish composition", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADDRESS ENDPOINTS
// =============================================================================

// GetVoie returns the voie view.
// GET /api/voies/{id}
func (h *Handler) GetVoie(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.Views.VoieView(r.Context(), id)
	if err != nil {
		h.writeInternal(w, "Failed to get voie", err)
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "Voie not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetNumero returns the numero view.
// GET /api/numeros/{id}
func (h *Handler) GetNumero(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.Views.NumeroView(r.Context(), id)
	if err != nil {
		h.writeInternal(w, "Failed to get numero", err)
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "Numero not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// =============================================================================
// COMPOSITION ENDPOINTS
// =============================================================================

// ListPendingCompositions returns the communes waiting for composition.
// GET /api/compositions/pending
func (h *Handler) ListPendingCompositions(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Tracker.GetAskedComposition(r.Context())
	if err != nil {
		h.writeInternal(w, "Failed to list pending compositions", err)
		return
	}
	writeJSON(w, http.StatusOK, PendingCompositionsResponse{Codes: codes, Queued: h.Jobs.Len()})
}

// NextComposition hands the oldest queued job to the pipeline. It waits
// up to ?wait= (default DefaultNextWait) and answers 204 when idle.
// POST /api/compositions/next
func (h *Handler) NextComposition(w http.ResponseWriter, r *http.Request) {
	wait := DefaultNextWait
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "Invalid wait duration", err)
			return
		}
		wait = min(d, MaxNextWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	item, err := h.Jobs.Dequeue(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toCompositionJobDTO(item))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, queue.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "Composition queue closed", err)
	default:
		h.writeInternal(w, "Failed to dequeue composition", err)
	}
}

// =============================================================================
// FORCE CERTIFICATION ENDPOINTS
// =============================================================================

// GetForceCertification returns the flagged communes.
// GET /api/force-certification
func (h *Handler) GetForceCertification(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Reconciler.ForceCertified(r.Context())
	if err != nil {
		h.writeInternal(w, "Failed to list force certification", err)
		return
	}
	writeJSON(w, http.StatusOK, ForceCertificationDTO{Codes: codes})
}

// UpdateForceCertification reconciles the flagged set to the body.
// PUT /api/force-certification
func (h *Handler) UpdateForceCertification(w http.ResponseWriter, r *http.Request) {
	var req ForceCertificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Codes == nil {
		writeError(w, http.StatusBadRequest, "codes is required", nil)
		return
	}

	result, err := h.Reconciler.UpdateForceCertification(r.Context(), req.Codes)
	if err != nil {
		h.writeInternal(w, "Failed to update force certification", err)
		return
	}
	writeJSON(w, http.StatusOK, toForceCertificationResponse(result))
}

// =============================================================================
// TILE ENDPOINTS
// =============================================================================

// GetTile returns the features of a map tile.
// GET /api/tiles/{z}/{x}/{y}
func (h *Handler) GetTile(w http.ResponseWriter, r *http.Request) {
	var coords [3]int
	for i, name := range []string{"z", "x", "y"} {
		v, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid tile coordinate "+name, err)
			return
		}
		coords[i] = v
	}

	tile, err := h.Tiles.Get(r.Context(), coords[0], coords[1], coords[2])
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tile)
	case registry.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid tile", err)
	default:
		h.writeInternal(w, "Failed to extract tile", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) writeInternal(w http.ResponseWriter, message string, err error) {
	h.log.Error(err, message)
	writeError(w, http.StatusInternalServerError, message, err)
}
