package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/models"
)

type invoiceService interface {
	Create(ctx context.Context, userID uuid.UUID, req models.InvoiceRequest) (*models.InvoiceView, error)
	List(ctx context.Context, limit, offset int) ([]*models.InvoiceView, int, error)
	Get(ctx context.Context, id int64) (*models.InvoiceView, error)
	Update(ctx context.Context, id int64, req models.InvoiceRequest) (*models.InvoiceView, error)
	ToggleDone(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
}

type InvoiceHandler struct {
	invoices invoiceService
}

func NewInvoiceHandler(invoices invoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 200)

	invoices, total, err := h.invoices.List(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoices": invoices,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.InvoiceRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	invoice, err := h.invoices.Create(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, invoice)
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}

	invoice, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, invoice)
}

func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}

	var req models.InvoiceRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	invoice, err := h.invoices.Update(r.Context(), id, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, invoice)
}

func (h *InvoiceHandler) ToggleDone(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}

	done, err := h.invoices.ToggleDone(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_done": done})
}

func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}

	if err := h.invoices.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Invoice deleted"})
}

func invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid invoice ID", r))
		return 0, false
	}
	return id, true
}
