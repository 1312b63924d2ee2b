package auth

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []struct {
		Kind           NoticeKind
		Title, Message string
	}
}

func (n *recordingNotifier) Notify(kind NoticeKind, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, struct {
		Kind           NoticeKind
		Title, Message string
	}{kind, title, message})
}

type recordingNavigator struct {
	mu    sync.Mutex
	calls []struct {
		Path string
		Opts NavOptions
	}
}

func (n *recordingNavigator) GoTo(path string, opts NavOptions) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, struct {
		Path string
		Opts NavOptions
	}{path, opts})
}

type callbackFixture struct {
	provider *providerFixture
	ctrl     *CallbackController
	store    *CredentialStore
	attempts Storage
	sessions *SessionManager
	notifier *recordingNotifier
	nav      *recordingNavigator
}

func newCallbackFixture(t *testing.T) *callbackFixture {
	t.Helper()
	pf := newProviderFixture(t)
	attempts := NewMemoryStorage()
	store := NewCredentialStore(NewMemoryStorage(), testLogger())
	provider, err := NewProviderClient(context.Background(), pf.config(), "http://127.0.0.1:8080/auth/callback", attempts, testLogger())
	if err != nil {
		t.Fatalf("NewProviderClient returned error: %v", err)
	}
	sessions := NewSessionManager(store, provider, testLogger())
	notifier := &recordingNotifier{}
	nav := &recordingNavigator{}

	cfg := DefaultConfig()
	ctrl := NewCallbackController(provider, sessions, store, attempts, notifier, nav, cfg, testLogger())

	return &callbackFixture{
		provider: pf,
		ctrl:     ctrl,
		store:    store,
		attempts: attempts,
		sessions: sessions,
		notifier: notifier,
		nav:      nav,
	}
}

const happyFragment = "#access_token=AT1&id_token=IT1&state=S1&expires_in=3600"

func TestCallbackHappyPath(t *testing.T) {
	f := newCallbackFixture(t)
	if err := SaveAuthState(f.attempts, "S1"); err != nil {
		t.Fatalf("SaveAuthState returned error: %v", err)
	}

	res := f.ctrl.Process(context.Background(), happyFragment, url.Values{})
	if res.State != StateSucceeded {
		t.Fatalf("expected success, got %v (err %v)", res.State, res.Err)
	}
	if res.Identity == nil || res.Identity.Email != "a@b.com" || res.Identity.Provider != ProviderOAuth {
		t.Fatalf("unexpected identity: %+v", res.Identity)
	}

	tokens, ok := f.store.LoadTokens()
	if !ok || tokens.AccessToken != "AT1" || tokens.IDToken != "IT1" {
		t.Fatalf("expected tokens persisted, got %+v ok=%v", tokens, ok)
	}
	if cur := f.sessions.Current(); cur == nil || cur.Email != "a@b.com" {
		t.Fatalf("expected session established, got %+v", cur)
	}

	if len(f.notifier.calls) != 1 || f.notifier.calls[0].Kind != NoticeInfo || f.notifier.calls[0].Title != "Welcome!" {
		t.Fatalf("unexpected notices: %+v", f.notifier.calls)
	}
	if len(f.nav.calls) != 1 {
		t.Fatalf("expected one navigation, got %+v", f.nav.calls)
	}
	goTo := f.nav.calls[0]
	if goTo.Path != "/" || !goTo.Opts.Replace || goTo.Opts.After != DefaultSuccessRedirectDelay {
		t.Fatalf("unexpected navigation: %+v", goTo)
	}
}

func TestCallbackConsumesAttemptState(t *testing.T) {
	f := newCallbackFixture(t)
	if err := SaveAuthState(f.attempts, "S1"); err != nil {
		t.Fatalf("SaveAuthState returned error: %v", err)
	}

	f.ctrl.Process(context.Background(), happyFragment, url.Values{})

	if _, ok := ConsumeAuthState(f.attempts); ok {
		t.Fatalf("expected attempt state consumed on success")
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	f := newCallbackFixture(t)
	if err := SaveAuthState(f.attempts, "S-other"); err != nil {
		t.Fatalf("SaveAuthState returned error: %v", err)
	}

	res := f.ctrl.Process(context.Background(), happyFragment, url.Values{})
	if res.State != StateFailed || res.Err == nil || res.Err.Kind != KindSessionExpired {
		t.Fatalf("expected session-expired failure, got %+v", res)
	}

	// The stale state is consumed even on the failure path.
	if _, ok := ConsumeAuthState(f.attempts); ok {
		t.Fatalf("expected attempt state consumed on mismatch")
	}
	if f.provider.userinfoHits.Load() != 0 {
		t.Fatalf("mismatch must fail before any provider contact")
	}
	if _, ok := f.store.LoadTokens(); ok {
		t.Fatalf("no tokens may be persisted on mismatch")
	}

	if len(f.nav.calls) != 1 || f.nav.calls[0].Path != "/login" || f.nav.calls[0].Opts.After != DefaultExpiredRedirectDelay {
		t.Fatalf("expected delayed navigation to sign-in, got %+v", f.nav.calls)
	}
	if len(f.notifier.calls) != 1 || f.notifier.calls[0].Title != "Session Expired" {
		t.Fatalf("unexpected notices: %+v", f.notifier.calls)
	}
}

func TestCallbackWithoutStoredStateProceeds(t *testing.T) {
	f := newCallbackFixture(t)

	// A callback landing in a fresh process has no recorded attempt; the
	// tokens are still honored.
	res := f.ctrl.Process(context.Background(), happyFragment, url.Values{})
	if res.State != StateSucceeded {
		t.Fatalf("expected success, got %v (err %v)", res.State, res.Err)
	}
}

func TestCallbackProviderDenial(t *testing.T) {
	f := newCallbackFixture(t)
	if err := SaveAuthState(f.attempts, "S1"); err != nil {
		t.Fatalf("SaveAuthState returned error: %v", err)
	}

	query := url.Values{"error": {"access_denied"}, "state": {"S1"}}
	res := f.ctrl.Process(context.Background(), "", query)
	if res.State != StateFailed || res.Err == nil || res.Err.Kind != KindProvider {
		t.Fatalf("expected provider failure, got %+v", res)
	}
	if res.Err.Code != "access_denied" {
		t.Fatalf("expected code access_denied, got %q", res.Err.Code)
	}
	if f.provider.userinfoHits.Load() != 0 {
		t.Fatalf("denial must not trigger a userinfo exchange")
	}
	if len(f.nav.calls) != 0 {
		t.Fatalf("denial stays on the page for manual retry, got %+v", f.nav.calls)
	}
	if len(f.notifier.calls) != 1 || f.notifier.calls[0].Kind != NoticeError {
		t.Fatalf("unexpected notices: %+v", f.notifier.calls)
	}
}

func TestCallbackMissingTokens(t *testing.T) {
	f := newCallbackFixture(t)

	res := f.ctrl.Process(context.Background(), "#access_token=AT1&state=S1", url.Values{})
	if res.State != StateFailed || res.Err == nil || res.Err.Kind != KindMissingTokens {
		t.Fatalf("expected missing-tokens failure, got %+v", res)
	}
	if _, ok := f.store.LoadTokens(); ok {
		t.Fatalf("partial tokens must not be persisted")
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	f := newCallbackFixture(t)
	f.provider.userinfoCode = 500

	res := f.ctrl.Process(context.Background(), happyFragment, url.Values{})
	if res.State != StateFailed || res.Err == nil || res.Err.Kind != KindTransport {
		t.Fatalf("expected transport failure, got %+v", res)
	}
	if f.sessions.Current() != nil {
		t.Fatalf("no session may be established on exchange failure")
	}
	if _, ok := f.store.LoadTokens(); ok {
		t.Fatalf("tokens must not be persisted on exchange failure")
	}
}

func TestCallbackLatchRunsOnce(t *testing.T) {
	f := newCallbackFixture(t)
	if err := SaveAuthState(f.attempts, "S1"); err != nil {
		t.Fatalf("SaveAuthState returned error: %v", err)
	}

	first := f.ctrl.Process(context.Background(), happyFragment, url.Values{})
	second := f.ctrl.Process(context.Background(), happyFragment, url.Values{})

	if first.State != StateSucceeded || second.State != StateSucceeded {
		t.Fatalf("expected both calls to report success, got %v then %v", first.State, second.State)
	}
	if f.provider.userinfoHits.Load() != 1 {
		t.Fatalf("expected exactly one exchange, got %d", f.provider.userinfoHits.Load())
	}
	if len(f.notifier.calls) != 1 {
		t.Fatalf("expected one notice, got %d", len(f.notifier.calls))
	}
	if second.Identity == nil || second.Identity.Email != first.Identity.Email {
		t.Fatalf("repeat call must return the recorded outcome")
	}
}

func TestCallbackLatchKeepsFailure(t *testing.T) {
	f := newCallbackFixture(t)
	if err := SaveAuthState(f.attempts, "S-other"); err != nil {
		t.Fatalf("SaveAuthState returned error: %v", err)
	}

	first := f.ctrl.Process(context.Background(), happyFragment, url.Values{})
	// Even a would-be-valid retry on the same controller replays the outcome.
	second := f.ctrl.Process(context.Background(), happyFragment, url.Values{})

	if first.State != StateFailed || second.State != StateFailed {
		t.Fatalf("expected both calls to report failure, got %v then %v", first.State, second.State)
	}
	if second.Err == nil || second.Err.Kind != KindSessionExpired {
		t.Fatalf("repeat call must return the recorded error, got %+v", second.Err)
	}
}

func TestCallbackStateTransitions(t *testing.T) {
	f := newCallbackFixture(t)

	if f.ctrl.State() != StateIdle {
		t.Fatalf("expected idle before processing")
	}
	f.ctrl.Process(context.Background(), happyFragment, url.Values{})
	if f.ctrl.State() != StateSucceeded {
		t.Fatalf("expected succeeded, got %v", f.ctrl.State())
	}
	if res := f.ctrl.Result(); res.State != StateSucceeded {
		t.Fatalf("Result should expose the terminal outcome, got %+v", res)
	}
}

func TestCallbackUnsignedIDTokenStillSucceeds(t *testing.T) {
	f := newCallbackFixture(t)

	// Opaque id_token payloads fail advisory validation but not the flow.
	res := f.ctrl.Process(context.Background(), "#access_token=AT1&id_token=opaque&state=S1", url.Values{})
	if res.State != StateSucceeded {
		t.Fatalf("expected success with opaque id token, got %v (err %v)", res.State, res.Err)
	}
}

func TestCallbackExpiresInZeroNotRestorable(t *testing.T) {
	f := newCallbackFixture(t)

	res := f.ctrl.Process(context.Background(), "#access_token=AT1&id_token=IT1&state=S1&expires_in=0", url.Values{})
	if res.State != StateSucceeded {
		t.Fatalf("expected success, got %v (err %v)", res.State, res.Err)
	}

	// The sign-in itself succeeds, but the zero-lifetime token set reads
	// back as absent.
	time.Sleep(time.Millisecond)
	if _, ok := f.store.LoadTokens(); ok {
		t.Fatalf("zero-lifetime tokens must not be restorable")
	}
}
