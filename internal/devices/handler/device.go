package handler

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"rover/internal/devices/service"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"rover/pkg/model"
)

type DeviceHandler struct {
	service service.DeviceService
	log     *logger.Logger
}

func NewDeviceHandler(service service.DeviceService, log *logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: service,
		log:     log,
	}
}

func (h *DeviceHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	device, err := h.service.Create(r.Context(), actor)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, device); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *DeviceHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
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

	devices, totalCount, err := h.service.GetAll(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	if err := httputil.WritePaginated(w, devices, totalCount, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *DeviceHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	device, err := h.service.GetByID(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, device); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *DeviceHandler) SetStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "SetStatus", err)
		return
	}

	var change model.DeviceStatusChange
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

func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
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

type controlResponse struct {
	DeviceID string             `json:"device_id"`
	Status   model.DeviceStatus `json:"status"`
}

func (h *DeviceHandler) Control(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Control", err)
		return
	}

	var req model.DeviceControlRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, "Control", err)
		return
	}

	id := ps.ByName("id")
	status, err := h.service.Control(r.Context(), actor, id, &req)
	if err != nil {
		h.writeError(w, "Control", err)
		return
	}

	if err := httputil.WriteSuccess(w, controlResponse{DeviceID: id, Status: status}); err != nil {
		h.log.Error("failed to write success response", "handler", "Control", "operation", "WriteSuccess", "error", err)
	}
}

func (h *DeviceHandler) Usage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, err := httputil.ExtractActor(r)
	if err != nil {
		h.writeError(w, "Usage", err)
		return
	}

	report, err := h.service.Usage(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Usage", err)
		return
	}

	if err := httputil.WriteSuccess(w, report); err != nil {
		h.log.Error("failed to write success response", "handler", "Usage", "operation", "WriteSuccess", "error", err)
	}
}

func (h *DeviceHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/devices", h.Create)
	router.GET("/api/v1/devices", h.GetAll)
	router.GET("/api/v1/devices/:id", h.GetByID)
	router.DELETE("/api/v1/devices/:id", h.Delete)
	router.PATCH("/api/v1/devices/:id/status", h.SetStatus)
	router.POST("/api/v1/devices/:id/control", h.Control)
	router.GET("/api/v1/devices/:id/usage", h.Usage)
}
