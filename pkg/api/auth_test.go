package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	_, err := IssueToken(nil, "ops", ScopeAdmin, time.Hour)
	assert.Error(t, err)

	_, err = IssueToken(testKey, "ops", "root", time.Hour)
	assert.Error(t, err)

	tok, err := IssueToken(testKey, "ops", ScopeAdmin, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	claims, err := authenticate(testKey, req)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, ScopeAdmin, claims.Scope)
	assert.Equal(t, "burrow", claims.Issuer)
}

func TestAuthenticate(t *testing.T) {
	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return tok
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "burrow",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	otherIssuer := valid()
	otherIssuer.Issuer = "someone-else"

	tests := []struct {
		name    string
		header  string
		wantErr error
		scope   string
	}{
		{name: "missing header", header: "", wantErr: errMissingToken},
		{name: "basic auth", header: "Basic b3BzOnB3", wantErr: errMissingToken},
		{name: "empty bearer", header: "Bearer  ", wantErr: errMissingToken},
		{name: "garbage", header: "Bearer not.a.token", wantErr: errInvalidToken},
		{name: "no expiry", header: "Bearer " + sign(jwt.SigningMethodHS256, testKey, Claims{Scope: ScopeAdmin, RegisteredClaims: noExpiry}), wantErr: errInvalidToken},
		{name: "other issuer", header: "Bearer " + sign(jwt.SigningMethodHS256, testKey, Claims{Scope: ScopeAdmin, RegisteredClaims: otherIssuer}), wantErr: errInvalidToken},
		{name: "other algorithm", header: "Bearer " + sign(jwt.SigningMethodHS512, testKey, Claims{Scope: ScopeAdmin, RegisteredClaims: valid()}), wantErr: errInvalidToken},
		{name: "no scope means read", header: "Bearer " + sign(jwt.SigningMethodHS256, testKey, Claims{RegisteredClaims: valid()}), scope: ScopeRead},
		{name: "admin", header: "Bearer " + sign(jwt.SigningMethodHS256, testKey, Claims{Scope: ScopeAdmin, RegisteredClaims: valid()}), scope: ScopeAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			claims, err := authenticate(testKey, req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scope, claims.Scope)
		})
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		scope  string
		action string
		want   bool
	}{
		{ScopeAdmin, "add", true},
		{ScopeAdmin, "list", true},
		{ScopeRead, "list", true},
		{ScopeRead, "get-logs", true},
		{ScopeRead, "get-diagnostics", true},
		{ScopeRead, "add", false},
		{ScopeRead, "remove", false},
		{ScopeRead, "update-binary", false},
		{"", "list", false},
		{"root", "list", false},
	}

	for _, tt := range tests {
		t.Run(tt.scope+"/"+tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, allowed(tt.scope, tt.action))
		})
	}
}
