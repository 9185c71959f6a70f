package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/sitwo-project/clinic-portal/pkg/errors"
)

// decodeError maps an error response into the portal taxonomy. The backend
// reports either a "detail" string or per-field messages whose values are a
// string or a list of strings.
func decodeError(status int, body []byte) error {
	detail, fields := parseErrorBody(body)

	switch status {
	case http.StatusUnauthorized:
		return apperrors.Authentication(detail, nil)
	case http.StatusForbidden:
		if detail == "" {
			detail = "permission denied"
		}
		return apperrors.Permission(detail)
	case http.StatusNotFound:
		if detail != "" {
			return apperrors.NotFound(detail)
		}
		return apperrors.NotFound("resource")
	case http.StatusConflict:
		return apperrors.Conflict(detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.Validation(detail, fields)
	case http.StatusTooManyRequests:
		return apperrors.Network(fmt.Errorf("rate limited"))
	}

	if status >= 500 {
		return apperrors.Network(fmt.Errorf("server error: status %d", status))
	}
	return apperrors.Internal(fmt.Errorf("unexpected status %d", status))
}

func parseErrorBody(body []byte) (string, map[string]string) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", nil
	}

	var detail string
	if d, ok := raw["detail"].(string); ok {
		detail = d
	}

	fields := make(map[string]string)
	for key, val := range raw {
		if key == "detail" {
			continue
		}
		switch v := val.(type) {
		case string:
			fields[key] = v
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				fields[key] = strings.Join(parts, " ")
			}
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return detail, fields
}
