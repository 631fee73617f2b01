package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "rover/pkg/errors"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"rover/pkg/model"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDeviceService struct {
	controlFunc func(ctx context.Context, actor model.Actor, id string, req *model.DeviceControlRequest) (model.DeviceStatus, error)
}

func (m *mockDeviceService) Create(ctx context.Context, actor model.Actor) (*model.Device, error) {
	return &model.Device{}, nil
}

func (m *mockDeviceService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.Device, error) {
	return &model.Device{ID: id}, nil
}

func (m *mockDeviceService) GetAll(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Device, int64, error) {
	return []*model.Device{}, 0, nil
}

func (m *mockDeviceService) SetStatus(ctx context.Context, actor model.Actor, id string, change *model.DeviceStatusChange) error {
	return nil
}

func (m *mockDeviceService) Delete(ctx context.Context, actor model.Actor, id string) error {
	return nil
}

func (m *mockDeviceService) Control(ctx context.Context, actor model.Actor, id string, req *model.DeviceControlRequest) (model.DeviceStatus, error) {
	if m.controlFunc != nil {
		return m.controlFunc(ctx, actor, id, req)
	}
	return model.DeviceActive, nil
}

func (m *mockDeviceService) Usage(ctx context.Context, actor model.Actor, id string) (*model.DeviceUsage, error) {
	return &model.DeviceUsage{DeviceID: id}, nil
}

func newRouter(svc *mockDeviceService) *httprouter.Router {
	router := httprouter.New()
	NewDeviceHandler(svc, logger.Discard()).RegisterRoutes(router)
	return router
}

func TestControl_HTTP(t *testing.T) {
	var gotActor model.Actor
	var gotID string
	svc := &mockDeviceService{
		controlFunc: func(ctx context.Context, actor model.Actor, id string, req *model.DeviceControlRequest) (model.DeviceStatus, error) {
			gotActor, gotID = actor, id
			if req.Action == model.ActionOn {
				return "", apperrors.PolicyViolation("daily usage limit reached", map[string]any{"hours_today": 8.0})
			}
			return model.DeviceInactive, nil
		},
	}
	router := newRouter(svc)

	tests := []struct {
		name       string
		userID     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing identity", "", `{"action":"off"}`, http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"malformed body", "alice", `{"action":`, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"unknown field", "alice", `{"action":"off","force":true}`, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"quota rejection", "alice", `{"action":"on"}`, http.StatusConflict, apperrors.CodePolicyViolation},
		{"power off", "alice", `{"action":"off"}`, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/d-1/control", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.userID != "" {
				req.Header.Set(httputil.HeaderUserID, tt.userID)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				var resp httputil.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.Code)
				return
			}

			var resp struct {
				Data controlResponse `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, model.DeviceInactive, resp.Data.Status)
			assert.Equal(t, "d-1", gotID)
			assert.Equal(t, model.Actor{UserID: "alice", Role: model.RoleUser}, gotActor)
		})
	}
}

func TestGetAll_InvalidPagination(t *testing.T) {
	router := newRouter(&mockDeviceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?limit=abc", nil)
	req.Header.Set(httputil.HeaderUserID, "admin-1")
	req.Header.Set(httputil.HeaderUserRole, string(model.RoleAdmin))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
