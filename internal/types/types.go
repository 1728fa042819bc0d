package types

// ErrorBody is the envelope for every caller-facing error.
type ErrorBody struct {
	Error ErrorObject `json:"error"`
}

type ErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ModelsResponse lists the routable providers.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// AccountResponse reports a wallet's metered state.
type AccountResponse struct {
	Wallet    string `json:"wallet"`
	Debt      string `json:"debt"`
	Threshold string `json:"threshold"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
