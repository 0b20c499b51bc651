// Package provider fetches weather data from the upstream source the daemon
// serves. The service only sees the Provider interface; the HTTP client
// behind it is an external collaborator.
package provider

import (
	"context"
	"errors"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
)

// ErrUnknownCity is returned for cities the provider has no data for.
var ErrUnknownCity = errors.New("unknown city")

// Provider retrieves weather for a city.
type Provider interface {
	Current(ctx context.Context, city string) (weatherpb.CurrentWeather, error)
	Forecast(ctx context.Context, city string) (weatherpb.ForecastWeather, error)
}
