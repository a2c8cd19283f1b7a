package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Gateway names understood by the payment package.
const (
	GatewayStripe  = "stripe"
	GatewayPesapal = "pesapal"
)

// PaymentRouting maps buyer countries onto payment gateways.
type PaymentRouting struct {
	DefaultGateway  string                  `yaml:"default_gateway"`
	DefaultCurrency string                  `yaml:"default_currency"`
	Countries       map[string]CountryRoute `yaml:"countries"`
}

// CountryRoute configures one country.
type CountryRoute struct {
	Gateway  string `yaml:"gateway"`
	Currency string `yaml:"currency"`
	// Price overrides the tip price for this country, as a decimal string.
	Price string `yaml:"price,omitempty"`
}

// DefaultPaymentRouting sends East African buyers to PesaPal and everyone
// else to Stripe.
func DefaultPaymentRouting() *PaymentRouting {
	return &PaymentRouting{
		DefaultGateway:  GatewayStripe,
		DefaultCurrency: "USD",
		Countries: map[string]CountryRoute{
			"KE": {Gateway: GatewayPesapal, Currency: "KES"},
			"UG": {Gateway: GatewayPesapal, Currency: "UGX"},
			"TZ": {Gateway: GatewayPesapal, Currency: "TZS"},
			"RW": {Gateway: GatewayPesapal, Currency: "RWF"},
		},
	}
}

// LoadPaymentRouting reads the routing table from path.
func LoadPaymentRouting(path string) (*PaymentRouting, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read payment routing: %w", err)
	}

	var routing PaymentRouting
	if err := yaml.Unmarshal(data, &routing); err != nil {
		return nil, fmt.Errorf("failed to parse payment routing: %w", err)
	}

	if err := routing.normalize(); err != nil {
		return nil, err
	}
	return &routing, nil
}

// LoadPaymentRoutingOrDefault loads the routing file, falling back to the
// compiled-in table when path is empty.
func LoadPaymentRoutingOrDefault(path string) (*PaymentRouting, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPaymentRouting(), nil
	}
	return LoadPaymentRouting(path)
}

func (r *PaymentRouting) normalize() error {
	r.DefaultGateway = strings.ToLower(strings.TrimSpace(r.DefaultGateway))
	if r.DefaultGateway == "" {
		r.DefaultGateway = GatewayStripe
	}
	if !knownGateway(r.DefaultGateway) {
		return fmt.Errorf("default_gateway %q is not supported", r.DefaultGateway)
	}
	r.DefaultCurrency = strings.ToUpper(strings.TrimSpace(r.DefaultCurrency))
	if r.DefaultCurrency == "" {
		r.DefaultCurrency = "USD"
	}

	countries := make(map[string]CountryRoute, len(r.Countries))
	for code, route := range r.Countries {
		code = strings.ToUpper(strings.TrimSpace(code))
		route.Gateway = strings.ToLower(strings.TrimSpace(route.Gateway))
		route.Currency = strings.ToUpper(strings.TrimSpace(route.Currency))
		if route.Gateway == "" {
			route.Gateway = r.DefaultGateway
		}
		if !knownGateway(route.Gateway) {
			return fmt.Errorf("country %s: gateway %q is not supported", code, route.Gateway)
		}
		if route.Currency == "" {
			route.Currency = r.DefaultCurrency
		}
		countries[code] = route
	}
	r.Countries = countries
	return nil
}

func knownGateway(name string) bool {
	return name == GatewayStripe || name == GatewayPesapal
}
