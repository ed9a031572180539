package cloudapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is the credential triple issued by login and refresh.
type Token struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	IssuedAt     time.Time `json:"-"`
}

// Valid reports whether all three parts are set.
func (t Token) Valid() bool {
	return t.Token != "" && t.RefreshToken != "" && !t.IssuedAt.IsZero()
}

// Stale reports whether the token is at least period old at now.
func (t Token) Stale(period time.Duration, now time.Time) bool {
	return !t.IssuedAt.IsZero() && now.Sub(t.IssuedAt) >= period
}

// Expiry returns the exp claim of the access token. The signature is not
// verified; the cloud is the only party that can do that.
func (t Token) Expiry() (time.Time, bool) {
	if t.Token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.Token, &claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// tokenFromResponse builds a Token from an auth response. kind is ErrLogin
// or ErrRefresh and is wrapped together with ErrProtocol when a field is
// missing.
func tokenFromResponse(resp map[string]any, kind error, now time.Time) (Token, error) {
	tok, _ := resp["token"].(string)
	refresh, _ := resp["refreshToken"].(string)
	if tok == "" || refresh == "" {
		return Token{}, fmt.Errorf("%w: %w: token pair missing from response", kind, ErrProtocol)
	}
	return Token{Token: tok, RefreshToken: refresh, IssuedAt: now}, nil
}
