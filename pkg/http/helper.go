package http

import (
	"encoding/json"
	"net/http"
	"rover/pkg/config"
	apperrors "rover/pkg/errors"
	"rover/pkg/model"
	"strconv"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

func ExtractLimitOffset(r *http.Request) (int, int64, error) {
	query := r.URL.Query()

	limit := 0
	if s := query.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("invalid limit parameter: " + s)
		}
		limit = v
	}

	var offset int64 = 0
	if s := query.Get("offset"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("invalid offset parameter: " + s)
		}
		offset = v
	}

	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	return limit, offset, nil
}

// ExtractActor reads the caller identity forwarded by the auth gateway.
func ExtractActor(r *http.Request) (model.Actor, error) {
	actor := model.Actor{
		UserID: r.Header.Get(HeaderUserID),
		Role:   model.Role(r.Header.Get(HeaderUserRole)),
	}
	if actor.Role == "" {
		actor.Role = model.RoleUser
	}
	if actor.UserID == "" {
		return model.Actor{}, apperrors.Unauthorized("missing " + HeaderUserID + " header")
	}
	if actor.Role != model.RoleUser && actor.Role != model.RoleAdmin {
		return model.Actor{}, apperrors.Unauthorized("unknown role: " + string(actor.Role))
	}
	return actor, nil
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.InvalidInput("Invalid request body")
	}
	return nil
}
