package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"paygate-api/internal/svc"
	"paygate-api/internal/types"
)

// HealthHandler reports process liveness.
func HealthHandler(_ *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJson(w, types.HealthResponse{Status: "ok"})
	}
}
