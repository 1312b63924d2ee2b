package auth

import (
	"errors"
	"fmt"
)

// Kind discriminates flow failures so the callback controller can map them
// to terminal UI states.
type Kind int

const (
	// KindConfiguration: the client id is missing at redirect-build time.
	KindConfiguration Kind = iota + 1
	// KindProvider: the provider returned an error parameter.
	KindProvider
	// KindMissingTokens: no error reported but required tokens are absent.
	KindMissingTokens
	// KindSessionExpired: the returned state does not match the stored one.
	KindSessionExpired
	// KindTransport: network failure or non-2xx from a provider endpoint.
	KindTransport
	// KindMalformedProfile: userinfo response lacks subject id or email.
	KindMalformedProfile
	// KindCorruptStorage: a stored record failed to parse. Self-healed by
	// deletion, never surfaced to callers.
	KindCorruptStorage
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProvider:
		return "provider"
	case KindMissingTokens:
		return "missing_tokens"
	case KindSessionExpired:
		return "session_expired"
	case KindTransport:
		return "transport"
	case KindMalformedProfile:
		return "malformed_profile"
	case KindCorruptStorage:
		return "corrupt_storage"
	default:
		return "unknown"
	}
}

const sessionExpiredMessage = "Session expired during login. Please try signing in again."

// FlowError is the typed failure surfaced by the protocol core. Message is
// always safe to present to the user.
type FlowError struct {
	Kind    Kind
	Code    string // raw provider error code for KindProvider
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FlowError) Unwrap() error { return e.Err }

// AsFlowError unwraps err into a FlowError if one is in the chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func newProviderError(code string) *FlowError {
	return &FlowError{Kind: KindProvider, Code: code, Message: providerErrorMessage(code)}
}

func newCorruptStorageError(key string, err error) *FlowError {
	return &FlowError{Kind: KindCorruptStorage, Message: "stored record unreadable: " + key, Err: err}
}

// providerErrorMessage maps known provider error codes to presentable text.
// Unknown codes fall through to a generic templated message.
func providerErrorMessage(code string) string {
	switch code {
	case "access_denied":
		return "You denied permission to access your account. Please try again and grant the necessary permissions."
	case "invalid_request":
		return "Invalid sign-in request. Please try signing in again."
	case "unauthorized_client":
		return "This application is not authorized for provider sign-in. Please contact support."
	case "unsupported_response_type":
		return "Sign-in configuration error. Please contact support."
	case "invalid_scope":
		return "Invalid permissions requested. Please contact support."
	case "server_error":
		return "The identity provider reported an error. Please try again later."
	case "temporarily_unavailable":
		return "The identity provider is temporarily unavailable. Please try again later."
	default:
		return fmt.Sprintf("Sign-in failed (%s). Please try again.", code)
	}
}
