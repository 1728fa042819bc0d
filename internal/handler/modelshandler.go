package handler

import (
	"net/http"
	"sort"

	"github.com/zeromicro/go-zero/rest/httpx"

	"paygate-api/internal/svc"
	"paygate-api/internal/types"
)

// ModelsHandler lists the configured provider routes.
func ModelsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := svcCtx.Router.Providers()
		sort.Strings(names)

		data := make([]types.ModelInfo, 0, len(names))
		for _, name := range names {
			data = append(data, types.ModelInfo{
				ID:      name,
				Object:  "model",
				OwnedBy: name,
			})
		}
		httpx.OkJson(w, types.ModelsResponse{Object: "list", Data: data})
	}
}
