// Package pricing splits gross prices into frozen fee breakdowns.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"coachbook/internal/config"
	"coachbook/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativePrice = errors.New("gross price must not be negative")
	ErrUnknownMode   = errors.New("unknown settlement mode")
)

var hundred = decimal.NewFromInt(100)

// Calculator applies the platform fee schedule. It is safe for concurrent use.
type Calculator struct {
	gatewayPercent       decimal.Decimal
	gatewayFixed         int64
	platformPercent      decimal.Decimal
	servicePercent       decimal.Decimal
	bundleServicePercent decimal.Decimal
}

func NewCalculator(cfg config.PricingConfig) (*Calculator, error) {
	c := &Calculator{gatewayFixed: cfg.GatewayFixed}
	if cfg.GatewayFixed < 0 {
		return nil, fmt.Errorf("pricing.gateway_fixed must not be negative")
	}

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"gateway_percent", cfg.GatewayPercent, &c.gatewayPercent},
		{"platform_percent", cfg.PlatformPercent, &c.platformPercent},
		{"service_percent", cfg.ServicePercent, &c.servicePercent},
		{"bundle_service_percent", cfg.BundleServicePercent, &c.bundleServicePercent},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			*f.dst = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(f.value))
		if err != nil {
			return nil, fmt.Errorf("pricing.%s: %w", f.name, err)
		}
		if d.IsNegative() || d.GreaterThan(hundred) {
			return nil, fmt.Errorf("pricing.%s must be within 0..100, got %s", f.name, d)
		}
		*f.dst = d
	}
	if cfg.BundleServicePercent == "" {
		c.bundleServicePercent = c.servicePercent
	}
	return c, nil
}

// Compute returns the breakdown of gross for the given mode. Fees are taken in
// gateway, platform, service order and never exceed gross, so the provider net
// absorbs rounding and the four parts always sum to gross.
func (c *Calculator) Compute(gross int64, mode models.SettlementMode, bundleHours int64) (models.FeeBreakdown, error) {
	if gross < 0 {
		return models.FeeBreakdown{}, ErrNegativePrice
	}

	switch mode {
	case models.ModeFree:
		if gross != 0 {
			return models.FeeBreakdown{}, fmt.Errorf("zero-price mode with gross %d", gross)
		}
		return models.FeeBreakdown{}, nil
	case models.ModeExternal:
		return models.FeeBreakdown{ProviderNet: gross}, nil
	case models.ModeGateway:
		if gross == 0 {
			return models.FeeBreakdown{}, nil
		}
		servicePercent := c.servicePercent
		if bundleHours > 0 {
			servicePercent = c.bundleServicePercent
		}

		rest := gross
		take := func(fee int64) int64 {
			if fee > rest {
				fee = rest
			}
			rest -= fee
			return fee
		}

		var fees models.FeeBreakdown
		fees.GatewayFee = take(percentOf(gross, c.gatewayPercent) + c.gatewayFixed)
		fees.PlatformFee = take(percentOf(gross, c.platformPercent))
		fees.ServiceFee = take(percentOf(gross, servicePercent))
		fees.ProviderNet = rest
		return fees, nil
	default:
		return models.FeeBreakdown{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func percentOf(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}

// SessionPrice is hourlyPrice prorated to minutes, rounded half away from zero.
func SessionPrice(hourlyPrice, minutes int64) int64 {
	return decimal.NewFromInt(hourlyPrice).
		Mul(decimal.NewFromInt(minutes)).
		Div(decimal.NewFromInt(models.MinutesPerHour)).
		Round(0).
		IntPart()
}
