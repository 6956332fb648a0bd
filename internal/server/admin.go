// Package server exposes the control system over HTTP for privileged
// callers. Each control-plane operation maps to one endpoint; the caller's
// claimed identity comes from the X-Actor header and is recorded, not
// authenticated.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/OrlandoBitencourt/gatekeep/internal/audit"
	"github.com/OrlandoBitencourt/gatekeep/internal/control"
	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
	"github.com/OrlandoBitencourt/gatekeep/internal/evaluator"
	"github.com/OrlandoBitencourt/gatekeep/internal/store"
)

const defaultActor = "admin-api"

// Admin is the admin HTTP server.
type Admin struct {
	store  *store.Store
	plane  *control.Plane
	brands *control.BrandCanary
	trail  *audit.Trail
	eval   *evaluator.Evaluator
	logger *slog.Logger

	srv *http.Server
}

// NewAdmin creates the admin server listening on addr (e.g. ":19000").
func NewAdmin(addr string, s *store.Store, plane *control.Plane, brands *control.BrandCanary, trail *audit.Trail, eval *evaluator.Evaluator, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Admin{
		store:  s,
		plane:  plane,
		brands: brands,
		trail:  trail,
		eval:   eval,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /flags", a.handleListFlags)
	mux.HandleFunc("GET /flags/{id}", a.handleGetFlag)
	mux.HandleFunc("GET /evaluate", a.handleEvaluate)
	mux.HandleFunc("GET /audit", a.handleAudit)
	mux.HandleFunc("POST /flags/toggle", a.handleToggle)
	mux.HandleFunc("POST /flags/rollout", a.handleRollout)
	mux.HandleFunc("POST /flags/emergency-disable", a.handleEmergencyDisable)
	mux.HandleFunc("POST /flags/rollback", a.handleRollback)
	mux.HandleFunc("POST /category/enable", a.handleCategory(true))
	mux.HandleFunc("POST /category/disable", a.handleCategory(false))
	mux.HandleFunc("POST /subjects/enable", a.handleSubject(true))
	mux.HandleFunc("POST /subjects/disable", a.handleSubject(false))
	mux.HandleFunc("GET /brand/current", a.handleCurrentBrand)
	mux.HandleFunc("GET /brand/preview", a.handlePreviewBrand)
	mux.HandleFunc("POST /brand/preview", a.handleEnterPreview)
	mux.HandleFunc("POST /brand/preview/exit", a.handleExitPreview)
	mux.HandleFunc("POST /brand/apply", a.handleApplyPreview)
	mux.HandleFunc("POST /brand/rollout", a.handleBrandRollout)
	mux.HandleFunc("POST /brand/rollback", a.handleBrandRollback)

	a.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return a
}

// Handler returns the underlying handler, for tests and embedding.
func (a *Admin) Handler() http.Handler {
	return a.srv.Handler
}

// Start begins serving. Blocks until the server stops.
func (a *Admin) Start() error {
	a.logger.Info("admin server listening", "addr", a.srv.Addr)
	return a.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (a *Admin) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return defaultActor
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsInvalidState(err):
		status = http.StatusConflict
	case domain.IsValidationError(err):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type flagRequest struct {
	FlagID     string `json:"flag_id"`
	Percentage int    `json:"percentage"`
	Reason     string `json:"reason"`
	Category   string `json:"category"`
	SubjectID  string `json:"subject_id"`
}

type brandRequest struct {
	BrandID    string `json:"brand_id"`
	Percentage int    `json:"percentage"`
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return req, false
	}
	return req, true
}

func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (a *Admin) handleListFlags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.ListFlags())
}

func (a *Admin) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := a.store.GetFlag(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func (a *Admin) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flag, err := a.store.GetFlag(q.Get("flag"))
	if err != nil {
		writeError(w, err)
		return
	}

	decision := a.eval.Evaluate(flag, evaluator.Context{
		SubjectID: q.Get("subject"),
		Segment:   q.Get("segment"),
	}, time.Now())

	writeJSON(w, http.StatusOK, map[string]any{
		"flag_id": decision.FlagID,
		"enabled": decision.Enabled,
		"bucket":  decision.Bucket,
		"reason":  decision.Reason,
	})
}

func (a *Admin) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
	}
	writeJSON(w, http.StatusOK, a.trail.List(limit))
}

func (a *Admin) handleToggle(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[flagRequest](w, r)
	if !ok {
		return
	}
	flag, err := a.plane.Toggle(r.Context(), actorFrom(r), req.FlagID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func (a *Admin) handleRollout(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[flagRequest](w, r)
	if !ok {
		return
	}
	flag, err := a.plane.SetRolloutPercentage(r.Context(), actorFrom(r), req.FlagID, req.Percentage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func (a *Admin) handleEmergencyDisable(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[flagRequest](w, r)
	if !ok {
		return
	}
	flag, err := a.plane.EmergencyDisable(r.Context(), actorFrom(r), req.FlagID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func (a *Admin) handleRollback(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[flagRequest](w, r)
	if !ok {
		return
	}
	flag, err := a.plane.Rollback(r.Context(), actorFrom(r), req.FlagID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func (a *Admin) handleCategory(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode[flagRequest](w, r)
		if !ok {
			return
		}

		var outcomes []control.BulkOutcome
		if enable {
			outcomes = a.plane.EnableCategory(r.Context(), actorFrom(r), req.Category)
		} else {
			outcomes = a.plane.DisableCategory(r.Context(), actorFrom(r), req.Category)
		}

		results := make([]map[string]any, 0, len(outcomes))
		for _, o := range outcomes {
			item := map[string]any{"flag_id": o.FlagID, "ok": o.Err == nil}
			if o.Err != nil {
				item["error"] = o.Err.Error()
			}
			results = append(results, item)
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func (a *Admin) handleSubject(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode[flagRequest](w, r)
		if !ok {
			return
		}

		var (
			flag *domain.FeatureFlag
			err  error
		)
		if enable {
			flag, err = a.plane.EnableForSubject(r.Context(), actorFrom(r), req.FlagID, req.SubjectID)
		} else {
			flag, err = a.plane.DisableForSubject(r.Context(), actorFrom(r), req.FlagID, req.SubjectID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, flag)
	}
}

func (a *Admin) handleCurrentBrand(w http.ResponseWriter, r *http.Request) {
	brand := a.store.CurrentBrand()
	if brand == nil {
		writeError(w, domain.NewNotFoundError("brand", "current"))
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

func (a *Admin) handlePreviewBrand(w http.ResponseWriter, r *http.Request) {
	brand := a.store.PreviewBrand()
	if brand == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

func (a *Admin) handleEnterPreview(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[brandRequest](w, r)
	if !ok {
		return
	}
	if err := a.brands.EnterPreview(r.Context(), actorFrom(r), req.BrandID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "previewing", "brand_id": req.BrandID})
}

func (a *Admin) handleExitPreview(w http.ResponseWriter, r *http.Request) {
	a.brands.ExitPreview(r.Context(), actorFrom(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stable"})
}

func (a *Admin) handleApplyPreview(w http.ResponseWriter, r *http.Request) {
	brand, err := a.brands.ApplyPreview(r.Context(), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

func (a *Admin) handleBrandRollout(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[brandRequest](w, r)
	if !ok {
		return
	}
	brand, err := a.brands.UpdateRolloutPercentage(r.Context(), actorFrom(r), req.BrandID, req.Percentage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

func (a *Admin) handleBrandRollback(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[brandRequest](w, r)
	if !ok {
		return
	}
	brand, err := a.brands.RollbackBrand(r.Context(), actorFrom(r), req.BrandID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}
