package weather

import (
	"encoding/json"
	"fmt"
)

// NewRequest builds a request envelope with an encoded payload. A nil
// payload produces an envelope with no payload field.
func NewRequest(id, method string, payload any) (*Envelope, error) {
	env := &Envelope{ID: id, Type: method}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", method, err)
		}
		env.Payload = data
	}
	return env, nil
}

// NewResponse builds the response envelope for a round-trip request.
func NewResponse(requestID string, payload any, err error) (*Envelope, error) {
	env := &Envelope{ID: requestID, Type: MethodResponse}
	if err != nil {
		env.Error = err.Error()
		return env, nil
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return nil, fmt.Errorf("encode response payload: %w", mErr)
	}
	env.Payload = data
	return env, nil
}

// NewWeatherUpdate builds the weatherUpdate push envelope.
func NewWeatherUpdate(id string, timestampMillis int64) *Envelope {
	data, _ := json.Marshal(WeatherUpdate{TimestampMillis: timestampMillis})
	return &Envelope{ID: id, Type: MethodWeatherUpdate, Payload: data}
}

// Decode unmarshals a raw response payload into out.
func Decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// DecodePayload unmarshals an envelope payload into out.
func DecodePayload(env *Envelope, out any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
