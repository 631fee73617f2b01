package handler

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"rover/internal/rentals/service"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"rover/pkg/model"
)

type RentalHandler struct {
	service service.RentalService
	log     *logger.Logger
}

func NewRentalHandler(service service.RentalService, log *logger.Logger) *RentalHandler {
	return &RentalHandler{
		service: service,
		log:     log,
	}
}

func (h *RentalHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *RentalHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	var req model.RentalRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, "Create", err)
		return
	}

	created, err := h.service.AddRental(r.Context(), actor, &req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, created); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *RentalHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
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

	rentals, totalCount, err := h.service.GetAll(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	if err := httputil.WritePaginated(w, rentals, totalCount, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *RentalHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	rental, err := h.service.GetByID(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, rental); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *RentalHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	if err := h.service.Cancel(r.Context(), actor, ps.ByName("id")); err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *RentalHandler) ChangeStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "ChangeStatus", err)
		return
	}

	var change model.RentalStatusChange
	if err := httputil.DecodeJSON(r, &change); err != nil {
		h.writeError(w, "ChangeStatus", err)
		return
	}

	if err := h.service.ChangeStatus(r.Context(), actor, ps.ByName("id"), &change); err != nil {
		h.writeError(w, "ChangeStatus", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *RentalHandler) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Delete", err)
		return
	}

	if err := h.service.Delete(r.Context(), actor, ps.ByName("id")); err != nil {
		h.writeError(w, "Delete", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *RentalHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/rentals", h.Create)
	router.GET("/api/v1/rentals", h.GetAll)
	router.GET("/api/v1/rentals/:id", h.GetByID)
	router.DELETE("/api/v1/rentals/:id", h.Delete)
	router.POST("/api/v1/rentals/:id/cancel", h.Cancel)
	router.PATCH("/api/v1/rentals/:id/status", h.ChangeStatus)
}
