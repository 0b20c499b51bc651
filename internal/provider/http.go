package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
)

// HTTPProvider fetches weather from a JSON HTTP upstream exposing
// GET {base}/current?city= and GET {base}/forecast?city=.
type HTTPProvider struct {
	base   string
	client *http.Client
}

// NewHTTPProvider creates a provider against the given base URL.
func NewHTTPProvider(base string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Current(ctx context.Context, city string) (weatherpb.CurrentWeather, error) {
	var out weatherpb.CurrentWeather
	if err := p.get(ctx, "current", city, &out); err != nil {
		return weatherpb.CurrentWeather{}, err
	}
	return out, nil
}

func (p *HTTPProvider) Forecast(ctx context.Context, city string) (weatherpb.ForecastWeather, error) {
	var out weatherpb.ForecastWeather
	if err := p.get(ctx, "forecast", city, &out); err != nil {
		return weatherpb.ForecastWeather{}, err
	}
	return out, nil
}

func (p *HTTPProvider) get(ctx context.Context, path, city string, out any) error {
	u := fmt.Sprintf("%s/%s?city=%s", p.base, path, url.QueryEscape(city))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s for %s: %w", path, city, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrUnknownCity
	default:
		return fmt.Errorf("fetch %s for %s: upstream returned %s", path, city, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s for %s: %w", path, city, err)
	}
	return nil
}
