// Package weather is the typed facade over the session client: weather
// calls that degrade to a documented fallback, a domain state derived from
// the connection state and service pushes, and a subscriber set the state is
// re-broadcast to.
package weather

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/skycastd/skycast/internal/broadcast"
	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/session"
)

// NoDataFallback is what every weather call returns when no data could be
// produced, whatever the underlying reason.
const NoDataFallback = "No data found!"

// ServiceState is the domain-level view of the link.
type ServiceState int

const (
	// Stopped covers every session state other than connected.
	Stopped ServiceState = iota
	// Running means the session is connected and this client is registered
	// for service pushes.
	Running
)

func (s ServiceState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Update is the event broadcast to domain subscribers on every domain state
// mutation.
type Update struct {
	State            ServiceState
	LastUpdateMillis int64
}

// Subscriber receives domain updates.
type Subscriber = broadcast.Subscriber[Update]

// SubscriberFunc wraps a function into a registrable Subscriber. Each call
// produces a distinct identity, so keep the returned value to unsubscribe.
func SubscriberFunc(f func(Update) error) Subscriber {
	return &funcSubscriber{f: f}
}

type funcSubscriber struct {
	f func(Update) error
}

func (s *funcSubscriber) Deliver(u Update) error { return s.f(u) }

// Client composes one session client and one subscriber broadcast into the
// weather API.
type Client struct {
	session *session.Client
	subs    *broadcast.List[Update]

	mu         sync.Mutex
	state      ServiceState
	lastUpdate int64

	log *logrus.Entry
}

// NewClient creates a weather client over the given transport. The session
// stays disconnected until the first call (or an explicit Connect).
func NewClient(t session.Transport) *Client {
	c := &Client{
		session: session.NewClient(t),
		subs:    broadcast.NewList[Update]("weather-subscribers"),
		log:     logrus.WithField("component", "weather-client"),
	}
	c.session.OnStateChange(c.onSessionState)
	c.session.SetPushHandler(c.onPush)
	return c
}

// Connect proactively establishes the link instead of waiting for the first
// call to trigger it.
func (c *Client) Connect() {
	c.session.ConnectService()
}

// Session exposes the underlying session client.
func (c *Client) Session() *session.Client {
	return c.session
}

// CurrentForCity returns a rendered current-weather line for city, or
// NoDataFallback.
func (c *Client) CurrentForCity(ctx context.Context, city string) string {
	return session.ExecuteForResult(c.session, ctx, "getCurrentWeatherForCity", NoDataFallback,
		func(ctx context.Context, ep session.Endpoint) (string, error) {
			raw, err := ep.Invoke(ctx, weatherpb.MethodGetCurrentWeather, weatherpb.CityRequest{City: city})
			if err != nil {
				return "", err
			}
			current := weatherpb.CurrentWeather{}
			if err := weatherpb.Decode(raw, &current); err != nil {
				return "", err
			}
			return FormatCurrent(current), nil
		})
}

// ForecastForCity returns a rendered multi-day forecast for city, or
// NoDataFallback.
func (c *Client) ForecastForCity(ctx context.Context, city string) string {
	return session.ExecuteForResult(c.session, ctx, "getForecastWeatherForCity", NoDataFallback,
		func(ctx context.Context, ep session.Endpoint) (string, error) {
			raw, err := ep.Invoke(ctx, weatherpb.MethodGetForecastWeather, weatherpb.CityRequest{City: city})
			if err != nil {
				return "", err
			}
			forecast := weatherpb.ForecastWeather{}
			if err := weatherpb.Decode(raw, &forecast); err != nil {
				return "", err
			}
			if len(forecast.Days) == 0 {
				return "", fmt.Errorf("empty forecast for %s", city)
			}
			return FormatForecast(forecast), nil
		})
}

// TriggerUpdate asks the service to refresh its data. Oneway; the refreshed
// timestamp arrives as a push.
func (c *Client) TriggerUpdate() {
	c.session.ExecuteOneWay("updateWeather", func(ctx context.Context, ep session.Endpoint) error {
		return ep.Send(weatherpb.MethodUpdateWeather, nil)
	})
}

// Subscribe registers s and synchronously delivers the current domain state
// to it before any later broadcast.
func (c *Client) Subscribe(s Subscriber) {
	c.subs.Register(s, c.snapshot())
}

// Unsubscribe removes s.
func (c *Client) Unsubscribe(s Subscriber) {
	c.subs.Unregister(s)
}

// State returns the current domain state.
func (c *Client) State() ServiceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastUpdateMillis returns the timestamp of the last service push.
func (c *Client) LastUpdateMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

// Teardown unregisters the remote callback and disconnects. Run it on the
// fatal-error path before the process dies, so the service stops delivering
// to a dead client.
func (c *Client) Teardown() {
	if ep, ok := c.session.CurrentEndpoint(); ok {
		if err := ep.Send(weatherpb.MethodUnregister, nil); err != nil {
			c.log.Warnf("unregister on teardown failed: %v", err)
		}
	}
	c.session.DisconnectService()
}

// onSessionState maps session transitions to domain state. Connected
// additionally registers this client with the service so pushes start
// flowing; the register is oneway, so the listener never blocks the state
// machine.
func (c *Client) onSessionState(s session.State) {
	if s == session.Connected {
		c.session.ExecuteOneWay("register", func(ctx context.Context, ep session.Endpoint) error {
			return ep.Send(weatherpb.MethodRegister, nil)
		})
		c.setState(Running)
		return
	}
	c.setState(Stopped)
}

// onPush handles service-originated events.
func (c *Client) onPush(env *weatherpb.Envelope) {
	switch env.Type {
	case weatherpb.MethodWeatherUpdate:
		update := weatherpb.WeatherUpdate{}
		if err := weatherpb.DecodePayload(env, &update); err != nil {
			c.log.Warnf("bad weatherUpdate push: %v", err)
			return
		}
		c.mu.Lock()
		c.lastUpdate = update.TimestampMillis
		c.mu.Unlock()
		c.subs.Broadcast(c.snapshot())
	default:
		c.log.Debugf("ignoring push %q", env.Type)
	}
}

// setState mutates the domain state and re-broadcasts. Every assignment
// broadcasts, matching the session machine's no-deduplication rule.
func (c *Client) setState(s ServiceState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.subs.Broadcast(c.snapshot())
}

func (c *Client) snapshot() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Update{State: c.state, LastUpdateMillis: c.lastUpdate}
}

// FormatCurrent renders one weather record.
func FormatCurrent(w weatherpb.CurrentWeather) string {
	return fmt.Sprintf("%s: %s, %.1f°F", w.Location, w.ConditionText, w.TemperatureF)
}

// FormatForecast renders a forecast, one line per day.
func FormatForecast(f weatherpb.ForecastWeather) string {
	lines := make([]string, 0, len(f.Days))
	for i, day := range f.Days {
		lines = append(lines, fmt.Sprintf("%s +%dd: %s, %.1f°F", f.Location, i, day.ConditionText, day.TemperatureF))
	}
	return strings.Join(lines, "\n")
}
