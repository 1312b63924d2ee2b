package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Fixed minimal scope set requested from the provider.
var oauthScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// ProviderClient handles all direct interaction with the identity provider:
// redirect construction, callback parsing, userinfo exchange, and
// revocation. It has no UI awareness.
type ProviderClient struct {
	cfg         ProviderConfig
	redirectURL string
	attempts    Storage
	httpClient  *http.Client
	logger      *slog.Logger

	authURL     string
	userInfoURL string
	revokeURL   string
}

// NewProviderClient resolves endpoints and wires the attempt store. When an
// issuer is configured the endpoints are discovered via OIDC metadata;
// explicitly configured endpoints win over discovered ones.
func NewProviderClient(ctx context.Context, cfg ProviderConfig, redirectURL string, attempts Storage, logger *slog.Logger) (*ProviderClient, error) {
	c := &ProviderClient{
		cfg:         cfg,
		redirectURL: redirectURL,
		attempts:    attempts,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		authURL:     cfg.AuthURL,
		userInfoURL: cfg.UserInfoURL,
		revokeURL:   cfg.RevokeURL,
	}

	if cfg.Issuer != "" {
		op, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("discover provider: %w", err)
		}
		var meta struct {
			UserInfoEndpoint   string `json:"userinfo_endpoint"`
			RevocationEndpoint string `json:"revocation_endpoint"`
		}
		if err := op.Claims(&meta); err != nil {
			return nil, fmt.Errorf("provider metadata: %w", err)
		}
		if c.authURL == "" {
			c.authURL = op.Endpoint().AuthURL
		}
		if c.userInfoURL == "" {
			c.userInfoURL = meta.UserInfoEndpoint
		}
		if c.revokeURL == "" {
			c.revokeURL = meta.RevocationEndpoint
		}
	}

	if c.authURL == "" {
		c.authURL = DefaultAuthURL
	}
	if c.userInfoURL == "" {
		c.userInfoURL = DefaultUserInfoURL
	}
	if c.revokeURL == "" {
		c.revokeURL = DefaultRevokeURL
	}

	return c, nil
}

// BuildAuthorizationRequest generates a fresh anti-replay state, records it
// in the attempt store, and returns the provider redirect URL requesting an
// implicit-flow response. The client id is checked before any storage write.
func (c *ProviderClient) BuildAuthorizationRequest() (string, string, error) {
	if c.cfg.ClientID == "" {
		return "", "", &FlowError{
			Kind:    KindConfiguration,
			Message: "Provider sign-in is not configured: client id missing.",
		}
	}

	state := NewAttemptID()
	nonce := NewAttemptID()
	if err := SaveAuthState(c.attempts, state); err != nil {
		return "", "", fmt.Errorf("record sign-in state: %w", err)
	}

	oc := oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.redirectURL,
		Scopes:      oauthScopes,
		Endpoint:    oauth2.Endpoint{AuthURL: c.authURL},
	}
	redirect := oc.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "token id_token"),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	if c.cfg.DebugOAuth {
		c.logger.Debug("built authorization request",
			"state", presence(state),
			"nonce", presence(nonce),
			"redirect_uri", c.redirectURL)
	}

	return redirect, state, nil
}

// ParseCallback extracts tokens from a redirect payload. The provider
// normally answers in the URL fragment; degraded responses arrive as query
// parameters, and a query error outranks anything in the fragment. State
// matching is left to the caller, which knows the expected value.
func (c *ProviderClient) ParseCallback(fragment string, query url.Values) (RawCallback, error) {
	if code := query.Get("error"); code != "" {
		return RawCallback{}, newProviderError(code)
	}

	params, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return RawCallback{}, &FlowError{
			Kind:    KindMissingTokens,
			Message: "The sign-in response could not be read. Please try again.",
			Err:     err,
		}
	}
	if code := params.Get("error"); code != "" {
		return RawCallback{}, newProviderError(code)
	}

	rc := RawCallback{
		AccessToken: params.Get("access_token"),
		IDToken:     params.Get("id_token"),
		State:       params.Get("state"),
		TokenType:   params.Get("token_type"),
		ExpiresIn:   3600,
	}
	if rc.State == "" {
		rc.State = query.Get("state")
	}
	if v := params.Get("expires_in"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			rc.ExpiresIn = n
		}
	}

	if c.cfg.DebugOAuth {
		c.logger.Debug("parsed callback",
			"access_token", presence(rc.AccessToken),
			"id_token", presence(rc.IDToken),
			"state", presence(rc.State))
	}

	if rc.AccessToken == "" || rc.IDToken == "" {
		return RawCallback{}, &FlowError{
			Kind:    KindMissingTokens,
			Message: "The sign-in response did not include the required tokens. Please try again.",
		}
	}

	return rc, nil
}

// ExchangeForProfile fetches the provider userinfo document for the access
// token and normalizes it.
func (c *ProviderClient) ExchangeForProfile(ctx context.Context, accessToken string) (ProviderProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return ProviderProfile{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ProviderProfile{}, &FlowError{
			Kind:    KindTransport,
			Message: "Could not reach the identity provider. Please try again.",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ProviderProfile{}, &FlowError{
			Kind:    KindTransport,
			Message: "Failed to fetch user information from the provider.",
			Err:     fmt.Errorf("userinfo status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var raw struct {
		ID            string `json:"id"`
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		VerifiedEmail *bool  `json:"verified_email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ProviderProfile{}, &FlowError{
			Kind:    KindMalformedProfile,
			Message: "The provider returned an unreadable profile.",
			Err:     err,
		}
	}

	profile := ProviderProfile{
		SubjectID:  raw.ID,
		Email:      raw.Email,
		Name:       raw.Name,
		PictureURL: raw.Picture,
	}
	if profile.SubjectID == "" {
		profile.SubjectID = raw.Sub
	}
	if raw.VerifiedEmail != nil {
		profile.EmailVerified = *raw.VerifiedEmail
	} else if raw.EmailVerified != nil {
		profile.EmailVerified = *raw.EmailVerified
	}

	if profile.SubjectID == "" || profile.Email == "" {
		return ProviderProfile{}, &FlowError{
			Kind:    KindMalformedProfile,
			Message: "The provider returned an incomplete profile.",
		}
	}

	return profile, nil
}

// Revoke invalidates the access token upstream. Callers treat failure as
// advisory; local sign-out proceeds regardless.
func (c *ProviderClient) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FlowError{Kind: KindTransport, Message: "Token revocation failed.", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FlowError{
			Kind:    KindTransport,
			Message: "Token revocation failed.",
			Err:     fmt.Errorf("revoke status %d", resp.StatusCode),
		}
	}
	return nil
}

// ValidateIDToken extracts claims without signature verification and checks
// the audience names the configured client. The implicit flow delivers the
// token straight from the provider redirect over TLS, so this is a sanity
// check on the payload rather than a trust decision.
func (c *ProviderClient) ValidateIDToken(raw string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse id token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected id token claims type")
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("id token audience: %w", err)
	}
	if !slices.Contains(aud, c.cfg.ClientID) {
		return nil, errors.New("id token audience mismatch")
	}

	return claims, nil
}

func presence(v string) string {
	if v == "" {
		return "missing"
	}
	return "present"
}
