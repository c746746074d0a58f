package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quotaguard/quotaguard/core"
)

// UsageSource provides point-in-time usage snapshots, typically the
// top-level guard.
type UsageSource interface {
	Usage(ctx context.Context) ([]core.KeyUsage, error)
}

// LimitsHandler serves current limiter consumption.
type LimitsHandler struct {
	Source UsageSource
}

// List serves all tracked keys, optionally filtered to one provider via
// the {provider} URL parameter.
func (h LimitsHandler) List(w http.ResponseWriter, r *http.Request) {
	usages, err := h.Source.Usage(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if provider := chi.URLParam(r, "provider"); provider != "" {
		filtered := make([]core.KeyUsage, 0, len(usages))
		for _, usage := range usages {
			if usage.Key.Provider == provider {
				filtered = append(filtered, usage)
			}
		}
		usages = filtered
	}

	if usages == nil {
		usages = []core.KeyUsage{}
	}
	writeJSON(w, http.StatusOK, usages)
}
