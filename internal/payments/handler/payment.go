package handler

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"rover/internal/payments/service"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"rover/pkg/model"
)

type PaymentHandler struct {
	service service.PaymentService
	log     *logger.Logger
}

func NewPaymentHandler(service service.PaymentService, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		log:     log,
	}
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Verify", err)
		return
	}

	var verification model.PaymentVerification
	if err := httputil.DecodeJSON(r, &verification); err != nil {
		h.writeError(w, "Verify", err)
		return
	}

	payment, err := h.service.VerifyPayment(r.Context(), actor, &verification)
	if err != nil {
		h.writeError(w, "Verify", err)
		return
	}

	if err := httputil.WriteSuccess(w, payment); err != nil {
		h.log.Error("failed to write success response", "handler", "Verify", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PaymentHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	payment, err := h.service.GetByID(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, payment); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PaymentHandler) ListByRental(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "ListByRental", err)
		return
	}

	payments, err := h.service.ListByRental(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "ListByRental", err)
		return
	}

	if err := httputil.WriteSuccess(w, payments); err != nil {
		h.log.Error("failed to write success response", "handler", "ListByRental", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PaymentHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/payments/verify", h.Verify)
	router.GET("/api/v1/payments/:id", h.GetByID)
	router.GET("/api/v1/rentals/:id/payments", h.ListByRental)
}
