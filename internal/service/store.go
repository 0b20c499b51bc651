package service

import (
	"context"
	"sync"
	"time"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/provider"
)

// Store is the in-memory weather table the service answers from. Nothing is
// persisted; a restart starts empty and fills on the first refresh.
type Store struct {
	mu         sync.RWMutex
	current    map[string]weatherpb.CurrentWeather
	forecasts  map[string]weatherpb.ForecastWeather
	lastUpdate int64
}

func NewStore() *Store {
	return &Store{
		current:   make(map[string]weatherpb.CurrentWeather),
		forecasts: make(map[string]weatherpb.ForecastWeather),
	}
}

// Current returns the stored record for city.
func (s *Store) Current(city string) (weatherpb.CurrentWeather, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.current[city]
	return w, ok
}

// Forecast returns the stored forecast for city.
func (s *Store) Forecast(city string) (weatherpb.ForecastWeather, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forecasts[city]
	return f, ok
}

// Put stores a city's current record and forecast.
func (s *Store) Put(w weatherpb.CurrentWeather, f weatherpb.ForecastWeather) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[w.Location] = w
	s.forecasts[w.Location] = f
}

// LastUpdateMillis returns when the table was last refreshed.
func (s *Store) LastUpdateMillis() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Refresh pulls every city from the provider. Per-city failures are
// returned but do not abort the sweep; the update timestamp advances if at
// least one city refreshed.
func (s *Store) Refresh(ctx context.Context, p provider.Provider, cities []string) (int, error) {
	var firstErr error
	refreshed := 0
	for _, city := range cities {
		w, err := p.Current(ctx, city)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f, err := p.Forecast(ctx, city)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.Put(w, f)
		refreshed++
	}

	if refreshed > 0 {
		s.mu.Lock()
		s.lastUpdate = time.Now().UnixMilli()
		s.mu.Unlock()
	}
	return refreshed, firstErr
}
