// Package weather defines the wire contract between the skycast daemon and
// its clients: one JSON envelope in both directions plus the typed payloads
// it carries. Both sides of the link import this package and nothing else
// from each other.
package weather

import "encoding/json"

// Method names carried in Envelope.Type.
const (
	// Client to service, oneway (no response envelope).
	MethodRegister      = "register"
	MethodUnregister    = "unregister"
	MethodUpdateWeather = "updateWeather"

	// Client to service, round trip (response reuses the request ID).
	MethodGetCurrentWeather  = "getCurrentWeather"
	MethodGetForecastWeather = "getForecastWeather"

	// Service to client.
	MethodWeatherUpdate = "weatherUpdate"
	MethodResponse      = "response"
)

// Envelope is the single frame type on the wire. Round-trip responses carry
// the request's ID back; oneway frames and pushes have a fresh ID.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CurrentWeather is the structured weather record, used both as the
// getCurrentWeather response and as the per-day entry of a forecast.
type CurrentWeather struct {
	TimestampMillis int64   `json:"timestampMillis"`
	Location        string  `json:"location"`
	ConditionText   string  `json:"conditionText"`
	TemperatureF    float64 `json:"temperatureF"`
}

// ForecastWeather is the getForecastWeather response.
type ForecastWeather struct {
	Location string           `json:"location"`
	Days     []CurrentWeather `json:"days"`
}

// CityRequest is the payload of both round-trip request types.
type CityRequest struct {
	City string `json:"city"`
}

// WeatherUpdate is the payload of the weatherUpdate push.
type WeatherUpdate struct {
	TimestampMillis int64 `json:"timestampMillis"`
}
