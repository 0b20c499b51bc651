package provider

import (
	"context"
	"sync"
	"time"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
)

// StaticProvider serves a fixed in-memory table. It backs the daemon when no
// upstream is configured, and tests.
type StaticProvider struct {
	mu     sync.RWMutex
	cities map[string]weatherpb.CurrentWeather
}

// NewStaticProvider creates a provider seeded with a few cities.
func NewStaticProvider() *StaticProvider {
	p := &StaticProvider{cities: make(map[string]weatherpb.CurrentWeather)}
	now := time.Now().UnixMilli()
	for _, w := range []weatherpb.CurrentWeather{
		{TimestampMillis: now, Location: "Seattle", ConditionText: "Overcast", TemperatureF: 54.3},
		{TimestampMillis: now, Location: "Portland", ConditionText: "Light rain", TemperatureF: 57.0},
		{TimestampMillis: now, Location: "San Francisco", ConditionText: "Fog", TemperatureF: 61.2},
	} {
		p.cities[w.Location] = w
	}
	return p
}

// Set adds or replaces a city's record.
func (p *StaticProvider) Set(w weatherpb.CurrentWeather) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cities[w.Location] = w
}

func (p *StaticProvider) Current(ctx context.Context, city string) (weatherpb.CurrentWeather, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.cities[city]
	if !ok {
		return weatherpb.CurrentWeather{}, ErrUnknownCity
	}
	w.TimestampMillis = time.Now().UnixMilli()
	return w, nil
}

func (p *StaticProvider) Forecast(ctx context.Context, city string) (weatherpb.ForecastWeather, error) {
	current, err := p.Current(ctx, city)
	if err != nil {
		return weatherpb.ForecastWeather{}, err
	}

	// Derived forecast: each day drifts a degree off the current reading.
	forecast := weatherpb.ForecastWeather{Location: city}
	for day := 0; day < 3; day++ {
		entry := current
		entry.TimestampMillis = current.TimestampMillis + int64(day)*24*time.Hour.Milliseconds()
		entry.TemperatureF = current.TemperatureF + float64(day)
		forecast.Days = append(forecast.Days, entry)
	}
	return forecast, nil
}
