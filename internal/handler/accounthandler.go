package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"paygate-api/internal/svc"
	"paygate-api/internal/types"
	"paygate-api/pkg/gate"
)

// AccountHandler reports the authenticated wallet's debt and threshold.
func AccountHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcCtx.Gate == nil || svcCtx.Ledger == nil {
			writeError(w, http.StatusNotFound, "invalid_request", "", "account metering is not enabled")
			return
		}
		claims, err := gate.VerifySessionToken(r.Header.Get("Authorization"), svcCtx.Config.Gate.Value.SessionSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication_error", "", "a valid session token is required")
			return
		}

		debt, threshold, err := svcCtx.Ledger.GetDebt(r.Context(), claims.Wallet)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "", "debt lookup failed")
			return
		}
		httpx.OkJson(w, types.AccountResponse{
			Wallet:    claims.Wallet,
			Debt:      debt.String(),
			Threshold: threshold.String(),
		})
	}
}
