package payment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tipsterhub/service_layer/internal/config"
)

// Route is the resolved payment plan for one country.
type Route struct {
	Gateway  Gateway
	Currency string
	// Price is set when the country overrides the listing price.
	Price *decimal.Decimal
}

// Selector picks the gateway for a buyer's country.
type Selector struct {
	routing  config.PaymentRouting
	gateways map[string]Gateway
}

// NewSelector builds a selector over the configured gateways. Nil gateways
// are ignored so unconfigured providers can be passed through as-is.
func NewSelector(routing *config.PaymentRouting, gateways ...Gateway) *Selector {
	if routing == nil {
		routing = config.DefaultPaymentRouting()
	}
	s := &Selector{routing: *routing, gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		if g == nil || isNilGateway(g) {
			continue
		}
		s.gateways[g.Name()] = g
	}
	return s
}

// ForCountry resolves the gateway and currency for an ISO country code.
func (s *Selector) ForCountry(countryCode string) (Route, error) {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	gatewayName := s.routing.DefaultGateway
	currency := s.routing.DefaultCurrency
	var price *decimal.Decimal

	if route, ok := s.routing.Countries[code]; ok {
		gatewayName = route.Gateway
		currency = route.Currency
		if route.Price != "" {
			p, err := decimal.NewFromString(route.Price)
			if err != nil {
				return Route{}, fmt.Errorf("country %s: invalid price %q: %w", code, route.Price, err)
			}
			price = &p
		}
	}

	gw, ok := s.gateways[gatewayName]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrGatewayUnavailable, gatewayName)
	}
	return Route{Gateway: gw, Currency: currency, Price: price}, nil
}

// Gateway returns a configured gateway by name.
func (s *Selector) Gateway(name string) (Gateway, error) {
	gw, ok := s.gateways[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, name)
	}
	return gw, nil
}

// Names lists configured gateways.
func (s *Selector) Names() []string {
	names := make([]string, 0, len(s.gateways))
	for name := range s.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isNilGateway(g Gateway) bool {
	switch v := g.(type) {
	case *Stripe:
		return v == nil
	case *Pesapal:
		return v == nil
	}
	return false
}
