// Package rates looks up currency exchange rates from an external provider.
// Lookups are best-effort: a short timeout bounds the call and every failure
// degrades to ErrUnavailable so financial operations never block or fail on
// the rate service.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/pkg/errs"
)

// Provider fetches exchange rates over HTTP.
type Provider struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewProvider(baseURL string, timeout time.Duration, log zerolog.Logger) *Provider {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Provider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// Rate returns the conversion rate from one currency to another. Any failure
// (no provider configured, timeout, bad payload) returns a degraded error the
// caller is expected to swallow after logging.
func (p *Provider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if p.baseURL == "" {
		return decimal.Zero, errs.DependencyDegraded("rate unavailable: no provider configured", nil)
	}

	u := fmt.Sprintf("%s/rates?from=%s&to=%s", p.baseURL, url.QueryEscape(from), url.QueryEscape(to))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, errs.DependencyDegraded("rate unavailable: build request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("from", from).Str("to", to).Msg("exchange rate lookup failed")
		return decimal.Zero, errs.DependencyDegraded("rate unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.log.Warn().Int("status", resp.StatusCode).Str("from", from).Str("to", to).Msg("exchange rate provider returned non-200")
		return decimal.Zero, errs.DependencyDegraded(fmt.Sprintf("rate unavailable: provider status %d", resp.StatusCode), nil)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, errs.DependencyDegraded("rate unavailable: decode response", err)
	}
	if body.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errs.DependencyDegraded("rate unavailable: non-positive rate", nil)
	}
	return body.Rate, nil
}

// Convert converts an amount in minor units between currencies, rounding
// half-up. It degrades exactly like Rate.
func (p *Provider) Convert(ctx context.Context, amount int64, from, to string) (int64, error) {
	rate, err := p.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart(), nil
}
