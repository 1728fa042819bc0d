package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"paygate-api/internal/types"
	"paygate-api/pkg/llm"
)

func writeError(w http.ResponseWriter, status int, typ, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorBody{
		Error: types.ErrorObject{
			Message: msg,
			Type:    typ,
			Code:    code,
		},
	})
}

func writeValidationError(w http.ResponseWriter, field, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(types.ErrorBody{
		Error: types.ErrorObject{
			Message: msg,
			Type:    "validation_error",
			Param:   field,
		},
	})
}

// writeProviderError maps the provider error taxonomy onto HTTP statuses.
func writeProviderError(w http.ResponseWriter, err error) {
	kind := llm.KindOf(err)
	if kind == "" {
		kind = "internal_error"
	}
	status := http.StatusInternalServerError
	switch kind {
	case llm.ErrKindAuthentication:
		status = http.StatusUnauthorized
	case llm.ErrKindInvalidRequest:
		status = http.StatusBadRequest
	case llm.ErrKindRateLimit:
		status = http.StatusTooManyRequests
		if retryAfter, ok := llm.RetryAfterOf(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
	case llm.ErrKindContentFilter:
		status = http.StatusBadRequest
	case llm.ErrKindUnavailable:
		status = http.StatusBadGateway
	}
	writeError(w, status, string(kind), "", err.Error())
}

// streamErrorEvent shapes a mid-stream failure as the terminal event body.
func streamErrorEvent(err error) []byte {
	body, merr := json.Marshal(types.ErrorBody{
		Error: types.ErrorObject{
			Message: err.Error(),
			Type:    string(llm.KindOf(err)),
		},
	})
	if merr != nil {
		return []byte(fmt.Sprintf(`{"error":{"message":%q}}`, err.Error()))
	}
	return body
}
