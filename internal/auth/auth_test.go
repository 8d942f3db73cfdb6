package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345"

func TestGenerateAccessToken(t *testing.T) {
	t.Run("Successfully generate access token", func(t *testing.T) {
		token, err := GenerateAccessToken("u1", RoleUser, testSecret)

		assert.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("Fail with empty secret", func(t *testing.T) {
		token, err := GenerateAccessToken("u1", RoleUser, "")

		assert.ErrorIs(t, err, ErrEmptyJWTSecret)
		assert.Empty(t, token)
	})

	t.Run("Fail without subject", func(t *testing.T) {
		_, err := GenerateAccessToken("", RoleUser, testSecret)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("Token contains correct claims", func(t *testing.T) {
		token, err := GenerateAccessToken("adv-9", RoleAdvertiser, testSecret)
		require.NoError(t, err)

		claims, err := ValidateToken(token, testSecret)
		require.NoError(t, err)

		assert.Equal(t, "adv-9", claims.UserID)
		assert.Equal(t, RoleAdvertiser, claims.Role)
		assert.Equal(t, jwtIssuer, claims.Issuer)
		assert.Contains(t, claims.Audience, jwtAudience)
	})
}

func TestValidateToken(t *testing.T) {
	t.Run("Wrong secret", func(t *testing.T) {
		token, err := GenerateAccessToken("u1", RoleUser, testSecret)
		require.NoError(t, err)

		_, err = ValidateToken(token, "other-secret")
		assert.Error(t, err)
	})

	t.Run("Empty secret", func(t *testing.T) {
		_, err := ValidateToken("whatever", "")
		assert.ErrorIs(t, err, ErrEmptyJWTSecret)
	})

	t.Run("Malformed token", func(t *testing.T) {
		_, err := ValidateToken("not.a.jwt", testSecret)
		assert.Error(t, err)
	})

	t.Run("Expired token", func(t *testing.T) {
		token, err := GenerateToken("u1", RoleUser, testSecret, -time.Minute)
		require.NoError(t, err)

		_, err = ValidateToken(token, testSecret)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("Wrong signing method", func(t *testing.T) {
		claims := &JWTClaims{
			UserID: "u1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    jwtIssuer,
				Audience:  []string{jwtAudience},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ValidateToken(signed, testSecret)
		assert.Error(t, err)
	})

	t.Run("Missing role defaults to user", func(t *testing.T) {
		token, err := GenerateAccessToken("u1", "", testSecret)
		require.NoError(t, err)

		claims, err := ValidateToken(token, testSecret)
		require.NoError(t, err)
		assert.Equal(t, RoleUser, claims.Role)
	})
}
