package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paygate-api/internal/svc"
	"paygate-api/internal/types"
	"paygate-api/pkg/gate"
	"paygate-api/pkg/llm"
	"paygate-api/pkg/orchestrator"
	"paygate-api/pkg/payment"
)

const testSecret = "handler-test-secret"

// stubProvider returns a canned response, or a canned error.
type stubProvider struct {
	resp *llm.ChatResponse
	err  error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Invoke(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	clone := *p.resp
	return &clone, nil
}

func (p *stubProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		chunk := func(choice llm.ChunkChoice, usage *llm.Usage) *llm.ChatChunk {
			return &llm.ChatChunk{
				ID:      p.resp.ID,
				Object:  "chat.completion.chunk",
				Model:   p.resp.Model,
				Choices: []llm.ChunkChoice{choice},
				Usage:   usage,
			}
		}
		out <- llm.StreamEvent{Chunk: chunk(llm.ChunkChoice{Delta: llm.Delta{Role: llm.RoleAssistant}}, nil)}
		out <- llm.StreamEvent{Chunk: chunk(llm.ChunkChoice{Delta: llm.Delta{Content: p.resp.Choices[0].Message.Content}}, nil)}
		usage := p.resp.Usage
		out <- llm.StreamEvent{Chunk: chunk(llm.ChunkChoice{FinishReason: p.resp.Choices[0].FinishReason}, &usage)}
	}()
	return out, nil
}

type stubLedger struct {
	debt      *big.Int
	threshold *big.Int
}

func (l *stubLedger) GetDebt(ctx context.Context, wallet string) (*big.Int, *big.Int, error) {
	return new(big.Int).Set(l.debt), new(big.Int).Set(l.threshold), nil
}

func (l *stubLedger) RecordUsage(ctx context.Context, wallet, route, model string, promptTokens, completionTokens int64, cost *big.Int) error {
	return nil
}

func (l *stubLedger) RecordPayment(ctx context.Context, wallet string, amount *big.Int, settlementRef, network string) error {
	return nil
}

func stubResponse() *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:    "chatcmpl-test",
		Model: "stub/test-model",
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: "4"},
			FinishReason: llm.FinishStop,
		}},
		Usage: llm.Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6},
	}
}

func testServiceContext(t *testing.T, provider llm.Provider) *svc.ServiceContext {
	t.Helper()
	router, err := llm.NewRouter(map[string]llm.Provider{"stub": provider}, "stub")
	require.NoError(t, err)
	return &svc.ServiceContext{
		Router:       router,
		Orchestrator: orchestrator.New(router),
	}
}

func testPricing() *gate.PricingConfig {
	return &gate.PricingConfig{
		Network: "base-sepolia",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Routes: map[string]gate.RoutePricing{
			"/v1/chat/completions": {Default: "10000"},
		},
	}
}

func postCompletions(handler http.HandlerFunc, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestCompletionsRejectsMalformedBody(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	w := postCompletions(CompletionsHandler(ctx), "{not json", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body types.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "validation_error", body.Error.Type)
	require.Equal(t, "malformed_body", body.Error.Code)
}

func TestCompletionsValidatesFields(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})

	w := postCompletions(CompletionsHandler(ctx), `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body types.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "model", body.Error.Param)

	w = postCompletions(CompletionsHandler(ctx), `{"model":"stub/m","messages":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postCompletions(CompletionsHandler(ctx),
		`{"model":"stub/m","messages":[{"role":"user","content":"hi"}],"temperature":3}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "temperature", body.Error.Param)
}

func TestCompletionsBlocking(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	w := postCompletions(CompletionsHandler(ctx),
		`{"model":"stub/test-model","messages":[{"role":"user","content":"2+2?"}]}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp llm.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "4", resp.Choices[0].Message.Content)
	require.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestCompletionsRepeatedCallsMatch(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	body := `{"model":"stub/test-model","messages":[{"role":"user","content":"2+2?"}]}`

	var got [2]llm.ChatResponse
	for i := range got {
		w := postCompletions(CompletionsHandler(ctx), body, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got[i]))
		got[i].ID = ""
		got[i].Created = 0
	}
	require.Equal(t, got[0], got[1])
}

func TestCompletionsStreamFraming(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	w := postCompletions(CompletionsHandler(ctx),
		`{"model":"stub/test-model","messages":[{"role":"user","content":"2+2?"}],"stream":true}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.GreaterOrEqual(t, len(lines), 2)
	require.Equal(t, "data: [DONE]", lines[len(lines)-1])

	var content string
	for _, line := range lines[:len(lines)-1] {
		require.True(t, strings.HasPrefix(line, "data: "))
		var chunk llm.ChatChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		for _, choice := range chunk.Choices {
			content += choice.Delta.Content
		}
	}
	require.Equal(t, "4", content)
}

func TestCompletionsMapsProviderErrors(t *testing.T) {
	perr := llm.NewProviderError("stub", llm.ErrKindRateLimit, 429, "slow down")
	perr.RetryAfter = 30 * time.Second
	ctx := testServiceContext(t, &stubProvider{err: perr})

	w := postCompletions(CompletionsHandler(ctx),
		`{"model":"stub/test-model","messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "30", w.Header().Get("Retry-After"))

	var body types.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, string(llm.ErrKindRateLimit), body.Error.Type)

	ctx = testServiceContext(t, &stubProvider{err: llm.NewProviderError("stub", llm.ErrKindUnavailable, 503, "down")})
	w = postCompletions(CompletionsHandler(ctx),
		`{"model":"stub/test-model","messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCompletionsPaymentRequired(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	ledger := &stubLedger{debt: big.NewInt(0), threshold: big.NewInt(10)}
	ctx.Gate = gate.New(ledger, nil, testPricing(), testSecret)

	w := postCompletions(CompletionsHandler(ctx),
		`{"model":"stub/test-model","messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var challenge payment.RequiredResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
	require.Equal(t, payment.ProtocolVersion, challenge.Version)
	require.Equal(t, "payment required", challenge.Error)
	require.Len(t, challenge.Accepts, 1)
	require.Equal(t, "10000", challenge.Accepts[0].MaxAmountRequired)
	require.Equal(t, "/v1/chat/completions", challenge.Accepts[0].Resource)

	// The challenge also rides in the header, base64-encoded, so clients
	// can resubmit without parsing the body.
	encoded := w.Header().Get("X-Payment-Required")
	require.NotEmpty(t, encoded)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.JSONEq(t, w.Body.String(), string(decoded))
}

func TestCompletionsGrantsSessionHolder(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	ledger := &stubLedger{debt: big.NewInt(0), threshold: big.NewInt(10)}
	ctx.Gate = gate.New(ledger, nil, testPricing(), testSecret)

	token, err := gate.IssueSessionToken(testSecret, "user-1", "0xabc0000000000000000000000000000000000001", "", time.Hour)
	require.NoError(t, err)

	w := postCompletions(CompletionsHandler(ctx),
		`{"model":"stub/test-model","messages":[{"role":"user","content":"2+2?"}]}`,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)

	var resp llm.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "4", resp.Choices[0].Message.Content)
}

func TestModelsHandler(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	ModelsHandler(ctx)(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "stub", resp.Data[0].ID)
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	HealthHandler(nil)(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok"`)
}

func TestAccountHandlerDisabled(t *testing.T) {
	ctx := testServiceContext(t, &stubProvider{resp: stubResponse()})
	req := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	w := httptest.NewRecorder()
	AccountHandler(ctx)(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateChatRequest(t *testing.T) {
	base := func() *llm.ChatRequest {
		return &llm.ChatRequest{
			Model:    "stub/m",
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		}
	}
	require.Nil(t, validateChatRequest(base()))

	req := base()
	req.Messages[0].Role = "narrator"
	require.NotNil(t, validateChatRequest(req))

	req = base()
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleTool, Content: "out"})
	ferr := validateChatRequest(req)
	require.NotNil(t, ferr)
	require.Contains(t, ferr.Field, "tool_call_id")

	req = base()
	req.Tools = []llm.Tool{{Type: "function"}}
	require.NotNil(t, validateChatRequest(req))

	req = base()
	req.ToolChoice = &llm.ToolChoice{Mode: "sometimes"}
	require.NotNil(t, validateChatRequest(req))

	req = base()
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant})
	require.Nil(t, validateChatRequest(req))
}
