package handler

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	"paygate-api/internal/svc"
	"paygate-api/pkg/gate"
	"paygate-api/pkg/llm"
	"paygate-api/pkg/orchestrator"
	"paygate-api/pkg/payment"
)

const completionsRoute = "/v1/chat/completions"

// CompletionsHandler validates the request, runs the access gate, and
// dispatches to the orchestrator in streaming or blocking mode.
func CompletionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "malformed_body", "request body is not valid JSON")
			return
		}
		if ferr := validateChatRequest(&req); ferr != nil {
			writeValidationError(w, ferr.Field, ferr.Reason)
			return
		}

		caller, granted := authorize(w, r, svcCtx, req.Model)
		if !granted {
			return
		}

		if req.Stream {
			streamCompletion(w, r, svcCtx, &req, caller)
			return
		}

		resp, err := svcCtx.Orchestrator.Complete(r.Context(), &req, caller)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		recordUsage(r, svcCtx, caller, req.Model, resp.Usage)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// authorize runs the gate and writes the 402 challenge on deny. A nil gate
// means an ungated deployment; requests pass with an anonymous identity.
func authorize(w http.ResponseWriter, r *http.Request, svcCtx *svc.ServiceContext, model string) (orchestrator.Caller, bool) {
	if svcCtx.Gate == nil {
		return orchestrator.Caller{}, true
	}

	decision := svcCtx.Gate.Evaluate(r.Context(), gate.Credential{
		SessionToken:  r.Header.Get("Authorization"),
		PaymentHeader: r.Header.Get("X-Payment"),
		Resource:      completionsRoute,
		Model:         model,
	})
	if decision.Grant {
		return orchestrator.Caller{
			UserID: decision.Identity.UserID,
			Wallet: decision.Identity.Wallet,
		}, true
	}

	writePaymentRequired(w, decision)
	return orchestrator.Caller{}, false
}

// writePaymentRequired issues the 402 challenge carrying the priced
// requirements, both as the JSON body and base64-encoded in the
// X-Payment-Required header so clients can resubmit without parsing the
// body. This is a normal protocol outcome, not an error.
func writePaymentRequired(w http.ResponseWriter, decision gate.Decision) {
	body := payment.RequiredResponse{
		Version: payment.ProtocolVersion,
		Error:   decision.Reason,
		Accepts: decision.Accepts,
	}
	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "", "encode payment challenge failed")
		return
	}
	w.Header().Set("X-Payment-Required", base64.StdEncoding.EncodeToString(data))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusPaymentRequired)
	_, _ = w.Write(data)
}

// streamCompletion forwards orchestrator chunks as server-sent events and
// closes the stream with a sentinel event. Mid-stream failures become one
// terminal error-shaped event.
func streamCompletion(w http.ResponseWriter, r *http.Request, svcCtx *svc.ServiceContext, req *llm.ChatRequest, caller orchestrator.Caller) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "provider_unavailable", "", "streaming unsupported by server")
		return
	}

	events, err := svcCtx.Orchestrator.Stream(r.Context(), req, caller)
	if err != nil {
		writeProviderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var usage llm.Usage
	for ev := range events {
		if ev.Err != nil {
			writeSSE(w, flusher, streamErrorEvent(ev.Err))
			break
		}
		if ev.Chunk.Usage != nil {
			usage.Add(*ev.Chunk.Usage)
		}
		data, merr := json.Marshal(ev.Chunk)
		if merr != nil {
			logx.WithContext(r.Context()).Errorf("encode chunk: %v", merr)
			continue
		}
		writeSSE(w, flusher, data)
	}
	writeSSE(w, flusher, []byte("[DONE]"))

	recordUsage(r, svcCtx, caller, req.Model, usage)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, data []byte) {
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}

// recordUsage meters the exchange against the caller's ledger row. The
// request already succeeded; metering failures are logged, never surfaced.
func recordUsage(r *http.Request, svcCtx *svc.ServiceContext, caller orchestrator.Caller, model string, usage llm.Usage) {
	if svcCtx.Ledger == nil || caller.Wallet == "" {
		return
	}
	cost := new(big.Int)
	if svcCtx.Pricing != nil {
		reqs := svcCtx.Pricing.Requirement(completionsRoute, model)
		if parsed, err := payment.ParseAmount(reqs.MaxAmountRequired); err == nil {
			cost = parsed
		}
	}
	err := svcCtx.Ledger.RecordUsage(r.Context(), caller.Wallet, completionsRoute, model,
		int64(usage.PromptTokens), int64(usage.CompletionTokens), cost)
	if err != nil {
		logx.WithContext(r.Context()).Errorf("record usage for %s: %v", caller.Wallet, err)
	}
}
