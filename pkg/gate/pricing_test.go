package gate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"paygate-api/pkg/payment"
)

func TestRequirementPrefersModelPrice(t *testing.T) {
	pricing := testPricing()

	reqs := pricing.Requirement("/v1/chat/completions", "openai/gpt-4o")
	require.Equal(t, "50000", reqs.MaxAmountRequired)

	reqs = pricing.Requirement("/v1/chat/completions", "openai/gpt-4o-mini")
	require.Equal(t, "10000", reqs.MaxAmountRequired)
	require.Equal(t, "/v1/chat/completions", reqs.Resource)
	require.Equal(t, payment.SchemeExact, reqs.Scheme)
	require.Equal(t, 300, reqs.MaxTimeoutSeconds)
}

func TestRequirementUnknownRouteIsFree(t *testing.T) {
	reqs := testPricing().Requirement("/v1/models", "")
	require.Equal(t, "0", reqs.MaxAmountRequired)
}

func TestRequirementCarriesDomainExtra(t *testing.T) {
	pricing := testPricing()
	require.Nil(t, pricing.Requirement("/v1/models", "").Extra)

	pricing.AssetName = "USDC"
	pricing.AssetVersion = "1"
	reqs := pricing.Requirement("/v1/models", "")
	require.NotNil(t, reqs.Extra)
	require.Equal(t, "USDC", reqs.Extra.Name)
	require.Equal(t, "1", reqs.Extra.Version)
}

func TestPricingValidate(t *testing.T) {
	pricing := testPricing()
	require.NoError(t, pricing.Validate())

	broken := testPricing()
	broken.Network = "dogecoin"
	require.Error(t, broken.Validate())

	broken = testPricing()
	broken.PayTo = ""
	require.Error(t, broken.Validate())

	broken = testPricing()
	broken.Routes["/v1/chat/completions"] = RoutePricing{Default: "1.5"}
	require.Error(t, broken.Validate())

	broken = testPricing()
	broken.Routes["/v1/chat/completions"] = RoutePricing{
		Default: "10",
		Models:  map[string]string{"m": "-3"},
	}
	require.Error(t, broken.Validate())
}
