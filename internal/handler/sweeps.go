package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

// RunSweep запускает свип вне расписания: closure или suspend.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	var (
		res *model.BatchResult
		err error
	)
	switch kind {
	case "closure":
		res, err = h.closure.SweepExpired(r.Context())
	case "suspend":
		res, err = h.suspender.Sweep(r.Context())
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "sweep", err, zap.String("kind", kind))
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}
