package gate

import (
	"fmt"
	"strings"

	"paygate-api/pkg/payment"
)

// PricingConfig prices metered routes in atomic token units. Amounts are
// keyed by route, then by model, with a per-route fallback.
type PricingConfig struct {
	Network        string                       `yaml:"network" json:"network"`
	Asset          string                       `yaml:"asset" json:"asset"`
	PayTo          string                       `yaml:"pay_to" json:"pay_to"`
	TimeoutSeconds int                          `yaml:"timeout_seconds" json:"timeout_seconds"`
	AssetName      string                       `yaml:"asset_name" json:"asset_name"`
	AssetVersion   string                       `yaml:"asset_version" json:"asset_version"`
	Routes         map[string]RoutePricing      `yaml:"routes" json:"routes"`
}

// RoutePricing holds per-model prices for one route.
type RoutePricing struct {
	Default string            `yaml:"default" json:"default"`
	Models  map[string]string `yaml:"models" json:"models"`
}

// Validate checks the pricing table for structural errors at load time.
func (c *PricingConfig) Validate() error {
	if c.Network == "" || c.Asset == "" || c.PayTo == "" {
		return fmt.Errorf("gate: pricing requires network, asset, and pay_to")
	}
	if _, err := payment.ChainID(c.Network); err != nil {
		return err
	}
	for route, rp := range c.Routes {
		if rp.Default != "" {
			if _, err := payment.ParseAmount(rp.Default); err != nil {
				return fmt.Errorf("gate: route %s default: %w", route, err)
			}
		}
		for model, amount := range rp.Models {
			if _, err := payment.ParseAmount(amount); err != nil {
				return fmt.Errorf("gate: route %s model %s: %w", route, model, err)
			}
		}
	}
	return nil
}

// Requirement computes the priced payment requirement for a route and model.
// Unknown routes price at zero so unmetered endpoints stay free.
func (c *PricingConfig) Requirement(route, model string) payment.Requirements {
	amount := "0"
	if rp, ok := c.Routes[route]; ok {
		if rp.Default != "" {
			amount = rp.Default
		}
		if m, ok := rp.Models[strings.TrimSpace(model)]; ok {
			amount = m
		}
	}

	timeout := c.TimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	reqs := payment.Requirements{
		Scheme:            payment.SchemeExact,
		Network:           c.Network,
		MaxAmountRequired: amount,
		Resource:          route,
		Description:       fmt.Sprintf("metered access to %s", route),
		MimeType:          "application/json",
		PayTo:             c.PayTo,
		MaxTimeoutSeconds: timeout,
		Asset:             c.Asset,
	}
	if c.AssetName != "" || c.AssetVersion != "" {
		reqs.Extra = &payment.RequiredExtra{Name: c.AssetName, Version: c.AssetVersion}
	}
	return reqs
}
