package fatsecret

import (
	"bytes"
	"encoding/json"
	"fmt"

	"example.com/personaldata/internal/domain"
)

// RateLimitCode is the provider error code that asks the caller to back off.
const RateLimitCode = 12

// EnvelopeKind classifies a decoded response.
type EnvelopeKind int

const (
	KindPayload EnvelopeKind = iota
	KindEmpty
	KindRateLimited
	KindAPIError
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindEmpty:
		return "empty"
	case KindRateLimited:
		return "rate_limited"
	case KindAPIError:
		return "api_error"
	default:
		return "unknown"
	}
}

// Envelope is the classified response for one call.
type Envelope struct {
	Kind    EnvelopeKind
	Payload json.RawMessage
	Err     *domain.APIError
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Classify decodes body and sorts it into payload, empty, rate-limited or API error.
// payloadKey is the top-level member that carries data for the called method.
func Classify(body []byte, payloadKey string) (Envelope, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return Envelope{}, fmt.Errorf("decode response: %w", err)
	}

	if raw, ok := top["error"]; ok && !isBlank(raw) {
		var eb errorBody
		if err := json.Unmarshal(raw, &eb); err != nil {
			return Envelope{}, fmt.Errorf("decode error object: %w", err)
		}
		apiErr := &domain.APIError{Code: eb.Code, Message: eb.Message}
		if eb.Code == RateLimitCode {
			return Envelope{Kind: KindRateLimited, Err: apiErr}, nil
		}
		return Envelope{Kind: KindAPIError, Err: apiErr}, nil
	}

	raw, ok := top[payloadKey]
	if !ok || isBlank(raw) {
		return Envelope{Kind: KindEmpty}, nil
	}
	return Envelope{Kind: KindPayload, Payload: raw}, nil
}

// isBlank treats null, "", {} and [] as absent data.
func isBlank(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "{}", "[]":
		return true
	}
	return false
}
