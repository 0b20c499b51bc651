// Package service implements the daemon side of the weather link: the
// request dispatcher, the in-memory weather table and the push hub that
// notifies every registered client after a refresh.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/provider"
)

// ErrUnknownMethod is returned for envelope types the service does not
// speak.
var ErrUnknownMethod = errors.New("unknown method")

// Service answers the five weather operations and drives periodic
// refreshes.
type Service struct {
	store    *Store
	hub      *Hub
	provider provider.Provider
	cities   []string
	interval time.Duration

	log *logrus.Entry
}

// New creates a service. cities is the refresh set; interval the periodic
// refresh period (zero disables the ticker).
func New(store *Store, hub *Hub, p provider.Provider, cities []string, interval time.Duration) *Service {
	return &Service{
		store:    store,
		hub:      hub,
		provider: p,
		cities:   cities,
		interval: interval,
		log:      logrus.WithField("component", "weather-service"),
	}
}

// Hub exposes the push hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Run performs an initial refresh and then refreshes on the configured
// interval until ctx is cancelled, pushing an update after each sweep.
func (s *Service) Run(ctx context.Context) {
	s.refreshAndPush(ctx)
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAndPush(ctx)
		}
	}
}

func (s *Service) refreshAndPush(ctx context.Context) {
	refreshed, err := s.store.Refresh(ctx, s.provider, s.cities)
	if err != nil {
		s.log.Warnf("refresh: %d/%d cities updated, first error: %v", refreshed, len(s.cities), err)
	}
	if refreshed > 0 {
		s.hub.BroadcastUpdate(s.store.LastUpdateMillis())
	}
}

// UpdateWeather triggers one refresh-and-push sweep. Oneway from the
// client's point of view.
func (s *Service) UpdateWeather(ctx context.Context) {
	s.refreshAndPush(ctx)
}

// CurrentForCity answers from the table, falling through to the provider
// for cities outside the refresh set.
func (s *Service) CurrentForCity(ctx context.Context, city string) (weatherpb.CurrentWeather, error) {
	if w, ok := s.store.Current(city); ok {
		return w, nil
	}
	w, err := s.provider.Current(ctx, city)
	if err != nil {
		return weatherpb.CurrentWeather{}, fmt.Errorf("current weather for %q: %w", city, err)
	}
	f, fErr := s.provider.Forecast(ctx, city)
	if fErr == nil {
		s.store.Put(w, f)
	}
	return w, nil
}

// ForecastForCity mirrors CurrentForCity for forecasts.
func (s *Service) ForecastForCity(ctx context.Context, city string) (weatherpb.ForecastWeather, error) {
	if f, ok := s.store.Forecast(city); ok {
		return f, nil
	}
	f, err := s.provider.Forecast(ctx, city)
	if err != nil {
		return weatherpb.ForecastWeather{}, fmt.Errorf("forecast for %q: %w", city, err)
	}
	if w, wErr := s.provider.Current(ctx, city); wErr == nil {
		s.store.Put(w, f)
	}
	return f, nil
}

// Register adds a client callback, replaying the last update timestamp.
func (s *Service) Register(cb Callback) {
	s.hub.Register(cb, s.store.LastUpdateMillis())
}

// Unregister removes a client callback.
func (s *Service) Unregister(cb Callback) {
	s.hub.Unregister(cb)
}

// Dispatch routes one client envelope. cb identifies the sending client for
// register/unregister. The returned envelope is nil for oneway methods; a
// per-request failure travels back in the response envelope's error field,
// not as a Go error.
func (s *Service) Dispatch(ctx context.Context, cb Callback, env *weatherpb.Envelope) (*weatherpb.Envelope, error) {
	switch env.Type {
	case weatherpb.MethodRegister:
		s.Register(cb)
		return nil, nil
	case weatherpb.MethodUnregister:
		s.Unregister(cb)
		return nil, nil
	case weatherpb.MethodUpdateWeather:
		s.UpdateWeather(ctx)
		return nil, nil
	case weatherpb.MethodGetCurrentWeather:
		req := weatherpb.CityRequest{}
		if err := weatherpb.DecodePayload(env, &req); err != nil {
			return weatherpb.NewResponse(env.ID, nil, err)
		}
		w, err := s.CurrentForCity(ctx, req.City)
		if err != nil {
			return weatherpb.NewResponse(env.ID, nil, err)
		}
		return weatherpb.NewResponse(env.ID, w, nil)
	case weatherpb.MethodGetForecastWeather:
		req := weatherpb.CityRequest{}
		if err := weatherpb.DecodePayload(env, &req); err != nil {
			return weatherpb.NewResponse(env.ID, nil, err)
		}
		f, err := s.ForecastForCity(ctx, req.City)
		if err != nil {
			return weatherpb.NewResponse(env.ID, nil, err)
		}
		return weatherpb.NewResponse(env.ID, f, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, env.Type)
	}
}
