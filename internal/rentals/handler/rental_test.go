package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "rover/pkg/errors"
	httputil "rover/pkg/http"
	"rover/pkg/logger"
	"rover/pkg/model"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRentalService struct {
	addFunc    func(ctx context.Context, actor model.Actor, req *model.RentalRequest) (*model.RentalCreated, error)
	cancelFunc func(ctx context.Context, actor model.Actor, id string) error
}

func (m *mockRentalService) AddRental(ctx context.Context, actor model.Actor, req *model.RentalRequest) (*model.RentalCreated, error) {
	return m.addFunc(ctx, actor, req)
}

func (m *mockRentalService) GetByID(ctx context.Context, actor model.Actor, id string) (*model.Rental, error) {
	return &model.Rental{ID: id, UserID: actor.UserID}, nil
}

func (m *mockRentalService) GetAll(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Rental, int64, error) {
	return []*model.Rental{{ID: "r-1"}}, 1, nil
}

func (m *mockRentalService) Cancel(ctx context.Context, actor model.Actor, id string) error {
	return m.cancelFunc(ctx, actor, id)
}

func (m *mockRentalService) ChangeStatus(ctx context.Context, actor model.Actor, id string, change *model.RentalStatusChange) error {
	return nil
}

func (m *mockRentalService) Delete(ctx context.Context, actor model.Actor, id string) error {
	return nil
}

func (m *mockRentalService) ActivateFromPayment(ctx context.Context, rentalID string) error {
	return nil
}

func serve(svc *mockRentalService, method, path, body string, actor model.Actor) *httptest.ResponseRecorder {
	router := httprouter.New()
	NewRentalHandler(svc, logger.Discard()).RegisterRoutes(router)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor.UserID != "" {
		req.Header.Set(httputil.HeaderUserID, actor.UserID)
		req.Header.Set(httputil.HeaderUserRole, string(actor.Role))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreate(t *testing.T) {
	alice := model.Actor{UserID: "alice", Role: model.RoleUser}
	until := time.Date(2026, 3, 2, 8, 0, 30, 0, time.UTC)

	tests := []struct {
		name       string
		body       string
		addErr     error
		wantStatus int
	}{
		{"created", `{"interval_months":6}`, nil, http.StatusCreated},
		{"no device", `{"interval_months":6}`, apperrors.Conflict("No device available"), http.StatusConflict},
		{"bad interval", `{"interval_months":7}`, apperrors.Validation("Validation failed", nil), http.StatusUnprocessableEntity},
		{"bad json", `{"interval_months":"six"}`, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockRentalService{
				addFunc: func(ctx context.Context, actor model.Actor, req *model.RentalRequest) (*model.RentalCreated, error) {
					if tt.addErr != nil {
						return nil, tt.addErr
					}
					return &model.RentalCreated{RentalID: "r-1", PaymentID: "p-1", Cost: 600000, ReservedUntil: until}, nil
				},
			}

			w := serve(svc, http.MethodPost, "/api/v1/rentals", tt.body, alice)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusCreated {
				return
			}
			var resp struct {
				Data model.RentalCreated `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "r-1", resp.Data.RentalID)
			assert.Equal(t, int64(600000), resp.Data.Cost)
			assert.True(t, until.Equal(resp.Data.ReservedUntil))
		})
	}
}

func TestCancel(t *testing.T) {
	var gotID string
	svc := &mockRentalService{
		cancelFunc: func(ctx context.Context, actor model.Actor, id string) error {
			gotID = id
			if actor.IsAdmin() {
				return apperrors.Forbidden("no")
			}
			return nil
		},
	}

	w := serve(svc, http.MethodPost, "/api/v1/rentals/r-9/cancel", "", model.Actor{UserID: "alice", Role: model.RoleUser})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "r-9", gotID)

	w = serve(svc, http.MethodPost, "/api/v1/rentals/r-9/cancel", "", model.Actor{UserID: "root", Role: model.RoleAdmin})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(svc, http.MethodPost, "/api/v1/rentals/r-9/cancel", "", model.Actor{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetAll_Paginated(t *testing.T) {
	w := serve(&mockRentalService{}, http.MethodGet, "/api/v1/rentals?limit=5&offset=0", "", model.Actor{UserID: "alice", Role: model.RoleUser})

	require.Equal(t, http.StatusOK, w.Code)
	var resp httputil.PaginatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.TotalCount)
	assert.Equal(t, 5, resp.Limit)
}
