package handler

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"rover/internal/extensions/service"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"rover/pkg/model"
)

type ExtensionHandler struct {
	service service.ExtensionService
	log     *logger.Logger
}

func NewExtensionHandler(service service.ExtensionService, log *logger.Logger) *ExtensionHandler {
	return &ExtensionHandler{
		service: service,
		log:     log,
	}
}

func (h *ExtensionHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *ExtensionHandler) Create(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	var req model.ExtensionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, "Create", err)
		return
	}

	created, err := h.service.AddExtension(r.Context(), actor, ps.ByName("id"), &req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, created); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *ExtensionHandler) ListByRental(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "ListByRental", err)
		return
	}

	extensions, err := h.service.ListByRental(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "ListByRental", err)
		return
	}

	if err := httputil.WriteSuccess(w, extensions); err != nil {
		h.log.Error("failed to write success response", "handler", "ListByRental", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ExtensionHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	extension, err := h.service.GetByID(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, extension); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ExtensionHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/rentals/:id/extensions", h.Create)
	router.GET("/api/v1/rentals/:id/extensions", h.ListByRental)
	router.GET("/api/v1/extensions/:id", h.GetByID)
}
