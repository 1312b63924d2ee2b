package auth

import "time"

// Identity provider variants.
const (
	ProviderLocal = "local"
	ProviderOAuth = "oauth"
)

// TokenSet holds the credentials delivered by the provider redirect.
// AbsoluteExpiry is computed once at receipt and is the sole authority for
// liveness; ExpiresIn is retained for reference only and must never be used
// to re-derive expiry after storage.
type TokenSet struct {
	AccessToken    string `json:"access_token"`
	IDToken        string `json:"id_token"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	TokenType      string `json:"token_type"`
	ExpiresIn      int64  `json:"expires_in"`
	AbsoluteExpiry int64  `json:"expires_at"` // unix milliseconds
}

// Complete reports whether both required tokens are present. Partial sets
// must never be persisted.
func (t TokenSet) Complete() bool {
	return t.AccessToken != "" && t.IDToken != ""
}

// Expired reports whether the set is past its absolute expiry at now.
func (t TokenSet) Expired(now time.Time) bool {
	return now.UnixMilli() >= t.AbsoluteExpiry
}

// ProviderProfile is the normalized userinfo response from the provider.
type ProviderProfile struct {
	SubjectID     string
	Email         string
	Name          string
	PictureURL    string
	EmailVerified bool
}

// Identity is the application-facing authenticated user. Exactly one of the
// provider variants holds; local identities never carry a token set.
type Identity struct {
	SubjectID  string `json:"subject_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email"`
	PictureURL string `json:"picture_url,omitempty"`
	Provider   string `json:"provider"`
}

// RawCallback carries the unvalidated parameters extracted from a redirect
// payload. State matching is the caller's responsibility.
type RawCallback struct {
	AccessToken string
	IDToken     string
	State       string
	TokenType   string
	ExpiresIn   int64
}

// TokenSet converts the raw callback into a TokenSet anchored at now.
func (rc RawCallback) TokenSet(now time.Time) TokenSet {
	tokenType := rc.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return TokenSet{
		AccessToken:    rc.AccessToken,
		IDToken:        rc.IDToken,
		TokenType:      tokenType,
		ExpiresIn:      rc.ExpiresIn,
		AbsoluteExpiry: now.UnixMilli() + rc.ExpiresIn*1000,
	}
}
