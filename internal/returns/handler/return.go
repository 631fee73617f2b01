package handler

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"rover/internal/returns/service"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"rover/pkg/model"
)

type ReturnHandler struct {
	service service.ReturnService
	log     *logger.Logger
}

func NewReturnHandler(service service.ReturnService, log *logger.Logger) *ReturnHandler {
	return &ReturnHandler{
		service: service,
		log:     log,
	}
}

func (h *ReturnHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *ReturnHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}
	status := model.ReturnStatus(r.URL.Query().Get("status"))

	records, totalCount, err := h.service.GetAll(r.Context(), actor, status, limit, offset)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	if err := httputil.WritePaginated(w, records, totalCount, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *ReturnHandler) GetByRental(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "GetByRental", err)
		return
	}

	record, err := h.service.GetByRental(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByRental", err)
		return
	}

	if err := httputil.WriteSuccess(w, record); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByRental", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReturnHandler) SetStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "SetStatus", err)
		return
	}

	var change model.ReturnStatusChange
	if err := httputil.DecodeJSON(r, &change); err != nil {
		h.writeError(w, "SetStatus", err)
		return
	}

	if err := h.service.SetStatus(r.Context(), actor, ps.ByName("id"), &change); err != nil {
		h.writeError(w, "SetStatus", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *ReturnHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/returns", h.GetAll)
	router.GET("/api/v1/rentals/:id/return", h.GetByRental)
	router.PATCH("/api/v1/rentals/:id/return", h.SetStatus)
}
