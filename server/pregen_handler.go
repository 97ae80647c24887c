package server

import (
	"net/http"

	"readecho/logger"
	"readecho/model"

	"github.com/gorilla/mux"
)

// InitiatePregenHandler enqueues the full pre-generation matrix for a book.
// Idempotent: re-posting a book that is already queued changes nothing.
func (h *APIHandler) InitiatePregenHandler(w http.ResponseWriter, r *http.Request) {
	bookID := mux.Vars(r)["bookId"]
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "missing book id")
		return
	}

	status, err := h.service.InitiateBook(r.Context(), bookID)
	if err != nil {
		logger.Error("pre-generation initiation failed",
			logger.String("bookId", bookID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to initiate pre-generation")
		return
	}

	writeJSON(w, http.StatusAccepted, status)
}

// PregenStatusHandler answers the progress query for a book.
func (h *APIHandler) PregenStatusHandler(w http.ResponseWriter, r *http.Request) {
	bookID := mux.Vars(r)["bookId"]

	status, err := h.service.Status(r.Context(), bookID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "pre-generation not initiated for this book")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookId":            status.BookID,
		"status":            status.Status,
		"totalCombinations": status.TotalCombinations,
		"completedCount":    status.CompletedCount,
		"failedCount":       status.FailedCount,
		"progressPercent":   status.ProgressPercent(),
		"popularDone":       status.PopularDone,
		"allDone":           status.AllDone,
		"totalCostUsd":      status.TotalCostUSD,
	})
}

// DiagnosticsHandler reports queue depth and accumulated synthesis cost,
// used by operators to watch the budget ceiling.
func (h *APIHandler) DiagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	totalCost, err := h.jobRepo.TotalActualCost(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load diagnostics")
		return
	}

	counts := map[string]int64{}
	bookID := r.URL.Query().Get("bookId")
	if bookID != "" {
		for _, status := range []string{
			model.JobStatusPending, model.JobStatusProcessing,
			model.JobStatusCompleted, model.JobStatusFailed,
		} {
			n, err := h.jobRepo.CountByBookAndStatus(r.Context(), bookID, status)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load diagnostics")
				return
			}
			counts[status] = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalCostUsd":     totalCost,
		"budgetCeilingUsd": h.cfg.BudgetCeilingUSD,
		"providers":        h.pipeline.Providers(),
		"jobCounts":        counts,
	})
}
