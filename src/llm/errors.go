package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrMissingAPIKey means no API key is configured, or it became empty.
	ErrMissingAPIKey = errors.New("gemini api key is not set")
	// ErrInvalidArgument is returned for a nil or unencodable image.
	ErrInvalidArgument = errors.New("invalid argument")

	errNoResponse = errors.New("transport returned no response")
)

// User-facing guidance attached to APIError.Message.
const (
	MsgInvalidKey       = "The API key is invalid. Set a valid Gemini API key."
	MsgQuotaExceeded    = "The API quota has been exceeded. Check the billing settings in Google Cloud Console."
	MsgModelUnavailable = "The Gemini model is not available. Check that the Gemini API is enabled in Google Cloud Console."
	MsgMalformedRequest = "The request was rejected as malformed. The captured image may be too large."
	MsgRateLimited      = "Too many requests were sent. Wait a moment and try again."
	MsgNotFound         = "The API endpoint or model was not found."
	msgGenericFormat    = "The Gemini API returned an error (status %d)."
)

const maxProviderMessage = 200

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	// Message is the guidance to show the user.
	Message string
	// ProviderMessage is error.message from the response body, shortened.
	ProviderMessage string
	// ProviderStatus is error.status from the response body, e.g. INVALID_ARGUMENT.
	ProviderStatus string
}

func (e *APIError) Error() string {
	if e.ProviderMessage == "" {
		return fmt.Sprintf("gemini api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini api error (status %d): %s (%s)", e.StatusCode, e.Message, e.ProviderMessage)
}

// ResponseParseError is a 2xx response whose body does not have the expected
// candidates[0].content.parts[0].text shape.
type ResponseParseError struct {
	Reason string
	Err    error
}

func (e *ResponseParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected gemini response: %s: %v", e.Reason, e.Err)
	}
	return "unexpected gemini response: " + e.Reason
}

func (e *ResponseParseError) Unwrap() error { return e.Err }

// NetworkError is a transport failure: DNS, connection, TLS or timeout.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// CancelledError means the caller's context was cancelled or its deadline
// passed before the call finished. errors.Is(err, context.Canceled) and
// errors.Is(err, context.DeadlineExceeded) work through it.
type CancelledError struct {
	Op  string
	Err error
}

func (e *CancelledError) Error() string { return fmt.Sprintf("%s cancelled: %v", e.Op, e.Err) }
func (e *CancelledError) Unwrap() error { return e.Err }

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func newAPIError(status int, body []byte) *APIError {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)

	provider := strings.TrimSpace(env.Error.Message)
	if provider == "" {
		provider = strings.TrimSpace(string(body))
	}
	return &APIError{
		StatusCode:      status,
		Message:         guidanceFor(status, strings.ToLower(string(body))),
		ProviderMessage: truncate(provider, maxProviderMessage),
		ProviderStatus:  env.Error.Status,
	}
}

func guidanceFor(status int, lowerBody string) string {
	switch status {
	case http.StatusUnauthorized:
		return MsgInvalidKey
	case http.StatusBadRequest:
		switch {
		case strings.Contains(lowerBody, "api key not valid"), strings.Contains(lowerBody, "api_key_invalid"):
			return MsgInvalidKey
		case strings.Contains(lowerBody, "quota"):
			return MsgQuotaExceeded
		case strings.Contains(lowerBody, "model not found"):
			return MsgModelUnavailable
		default:
			return MsgMalformedRequest
		}
	case http.StatusTooManyRequests:
		return MsgRateLimited
	case http.StatusNotFound:
		return MsgNotFound
	default:
		return fmt.Sprintf(msgGenericFormat, status)
	}
}

// truncate shortens s to at most n bytes on a rune boundary, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

// withoutURL drops the request URL from transport errors; it carries the key.
func withoutURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
