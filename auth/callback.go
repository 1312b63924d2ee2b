package auth

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// CallbackState enumerates the one-shot controller lifecycle.
type CallbackState int

const (
	StateIdle CallbackState = iota
	StateProcessing
	StateSucceeded
	StateFailed
)

func (s CallbackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NoticeKind classifies user-facing feedback.
type NoticeKind string

// Notice kinds.
const (
	NoticeInfo  NoticeKind = "info"
	NoticeError NoticeKind = "error"
)

// Notifier receives user-facing feedback from the flow. The core does not
// depend on any return contract.
type Notifier interface {
	Notify(kind NoticeKind, title, message string)
}

// NavOptions qualify a navigation request.
type NavOptions struct {
	Replace bool
	After   time.Duration
}

// Navigator receives navigation requests from the flow.
type Navigator interface {
	GoTo(path string, opts NavOptions)
}

// CallbackResult is the terminal outcome of one callback landing.
type CallbackResult struct {
	State    CallbackState
	Identity *Identity
	Err      *FlowError
}

// CallbackController drives a single redirect landing from raw payload to a
// terminal state. Process is guarded by a latch taken synchronously before
// the first suspension point: the hosting layer may invoke it again for the
// same navigation, and every invocation past the first returns the existing
// outcome without repeating the exchange.
type CallbackController struct {
	mu     sync.Mutex
	state  CallbackState
	result CallbackResult

	provider *ProviderClient
	sessions *SessionManager
	store    *CredentialStore
	attempts Storage
	notifier Notifier
	nav      Navigator
	logger   *slog.Logger

	landingPath  string
	signInPath   string
	successDelay time.Duration
	expiredDelay time.Duration
	now          func() time.Time
}

// NewCallbackController wires a controller for one callback landing.
func NewCallbackController(
	provider *ProviderClient,
	sessions *SessionManager,
	store *CredentialStore,
	attempts Storage,
	notifier Notifier,
	nav Navigator,
	cfg Config,
	logger *slog.Logger,
) *CallbackController {
	return &CallbackController{
		state:        StateIdle,
		provider:     provider,
		sessions:     sessions,
		store:        store,
		attempts:     attempts,
		notifier:     notifier,
		nav:          nav,
		logger:       logger,
		landingPath:  cfg.Flow.LandingPath,
		signInPath:   cfg.Flow.SignInPath,
		successDelay: cfg.SuccessRedirectDelay(),
		expiredDelay: cfg.ExpiredRedirectDelay(),
		now:          time.Now,
	}
}

// State returns the controller's current lifecycle state.
func (c *CallbackController) State() CallbackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the terminal outcome once reached.
func (c *CallbackController) Result() CallbackResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Process handles one callback landing. Re-entrant calls while processing
// observe StateProcessing; calls after completion return the recorded
// outcome. Every first-call branch terminates in Succeeded or Failed.
func (c *CallbackController) Process(ctx context.Context, fragment string, query url.Values) CallbackResult {
	c.mu.Lock()
	if c.state != StateIdle {
		res := c.result
		if c.state == StateProcessing {
			res = CallbackResult{State: StateProcessing}
		}
		c.mu.Unlock()
		return res
	}
	c.state = StateProcessing
	c.mu.Unlock()

	res := c.run(ctx, fragment, query)

	c.mu.Lock()
	c.state = res.State
	c.result = res
	c.mu.Unlock()
	return res
}

func (c *CallbackController) run(ctx context.Context, fragment string, query url.Values) CallbackResult {
	raw, err := c.provider.ParseCallback(fragment, query)
	if err != nil {
		return c.fail(err)
	}

	// Consume the attempt state unconditionally so it cannot outlive this
	// sign-in attempt.
	stored, had := ConsumeAuthState(c.attempts)
	if had && stored != raw.State {
		return c.fail(&FlowError{Kind: KindSessionExpired, Message: sessionExpiredMessage})
	}

	if _, err := c.provider.ValidateIDToken(raw.IDToken); err != nil {
		c.logger.Warn("id token validation failed", "error", err)
	}

	profile, err := c.provider.ExchangeForProfile(ctx, raw.AccessToken)
	if err != nil {
		return c.fail(err)
	}

	if err := c.store.SaveTokens(raw.TokenSet(c.now())); err != nil {
		c.logger.Warn("persist tokens", "error", err)
	}
	identity := c.sessions.CompleteProviderLogin(profile)

	message := "Successfully signed in."
	if identity.Name != "" {
		message = "Successfully signed in as " + identity.Name + "."
	}
	c.notifier.Notify(NoticeInfo, "Welcome!", message)
	c.nav.GoTo(c.landingPath, NavOptions{Replace: true, After: c.successDelay})

	return CallbackResult{State: StateSucceeded, Identity: identity}
}

func (c *CallbackController) fail(err error) CallbackResult {
	fe, ok := AsFlowError(err)
	if !ok {
		fe = &FlowError{Kind: KindTransport, Message: "Sign-in failed. Please try again.", Err: err}
	}
	c.logger.Error("callback failed", "kind", fe.Kind.String(), "error", fe)

	if fe.Kind == KindSessionExpired {
		c.notifier.Notify(NoticeError, "Session Expired", fe.Message)
		c.nav.GoTo(c.signInPath, NavOptions{Replace: true, After: c.expiredDelay})
	} else {
		// Other failures present the error with manual retry only.
		c.notifier.Notify(NoticeError, "Sign-in Failed", fe.Message)
	}

	return CallbackResult{State: StateFailed, Err: fe}
}
