package http

import (
	"context"
	"net/http"
	"time"

	"github.com/himpar21/medisync/internal/domain"
)

type Catalog interface {
	ListMedicines(ctx context.Context, filter domain.MedicineFilter) ([]domain.Medicine, domain.Source)
}

type MedicinesHandler struct {
	catalog Catalog
	timeout time.Duration
}

func NewMedicinesHandler(catalog Catalog, timeout time.Duration) *MedicinesHandler {
	return &MedicinesHandler{
		catalog: catalog,
		timeout: timeout,
	}
}

type MedicinesResponse struct {
	Items  []domain.Medicine `json:"items"`
	Source domain.Source     `json:"source"`
}

// GET /api/v1/medicines?q=&category=
func (h *MedicinesHandler) ListMedicines(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	items, source := h.catalog.ListMedicines(ctx, domain.MedicineFilter{
		Query:    r.URL.Query().Get("q"),
		Category: r.URL.Query().Get("category"),
	})
	if items == nil {
		items = []domain.Medicine{}
	}
	respondJSON(w, http.StatusOK, MedicinesResponse{Items: items, Source: source})
}
