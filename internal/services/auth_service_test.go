package services

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/predolabs/predo-bot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func authConfig(t *testing.T) config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	return config.Config{
		JWT:   config.JWTConfig{Secret: "test-secret", ExpiresIn: 3600},
		Admin: config.AdminConfig{Username: "operator", PasswordHash: string(hash)},
	}
}

func TestLoginIssuesToken(t *testing.T) {
	svc := NewAuthService(authConfig(t))

	signed, err := svc.Login("operator", "hunter2")
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "operator", claims["sub"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := NewAuthService(authConfig(t))

	_, err := svc.Login("operator", "wrong")
	assert.Error(t, err)
	_, err = svc.Login("someone-else", "hunter2")
	assert.Error(t, err)
}

func TestLoginRejectsWhenNoHashConfigured(t *testing.T) {
	cfg := authConfig(t)
	cfg.Admin.PasswordHash = ""
	svc := NewAuthService(cfg)

	_, err := svc.Login("operator", "hunter2")
	assert.Error(t, err)
}
