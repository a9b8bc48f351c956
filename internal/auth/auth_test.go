package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "healthsync"}

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, testConfig.Secret, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeHealthRead, ScopeHealthWrite},
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeHealthRead))
	require.True(t, claims.HasScope(ScopeHealthWrite))
	require.False(t, claims.HasScope(ScopeHealthAdmin))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, testConfig.Secret, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "health:read health:admin",
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeHealthRead))
	require.True(t, claims.HasScope(ScopeHealthAdmin))
}

func TestParseRejectsEmptyToken(t *testing.T) {
	_, err := Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, "other-secret", jwt.MapClaims{
		"sub": "user-1",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, testConfig.Secret, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, testConfig.Secret, jwt.MapClaims{
		"sub": "user-1",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, testConfig.Secret, jwt.MapClaims{
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsUnexpectedSigningMethod(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS512, testConfig.Secret, jwt.MapClaims{
		"sub": "user-1",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestHasScopeNilClaims(t *testing.T) {
	var claims *Claims
	require.False(t, claims.HasScope(ScopeHealthRead))
}
