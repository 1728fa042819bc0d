package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"paygate-api/internal/svc"
)

// RegisterHandlers mounts the public API surface.
func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes([]rest.Route{
		{
			Method:  http.MethodPost,
			Path:    "/v1/chat/completions",
			Handler: CompletionsHandler(serverCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/v1/models",
			Handler: ModelsHandler(serverCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/v1/account",
			Handler: AccountHandler(serverCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/healthz",
			Handler: HealthHandler(serverCtx),
		},
	})
}
