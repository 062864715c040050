package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/predolabs/predo-bot/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// AuthService issues operator tokens for the admin API. There is a single
// operator account, configured with a bcrypt password hash.
type AuthService struct {
	cfg config.Config
}

// NewAuthService creates a new AuthService
func NewAuthService(cfg config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// Login verifies the operator credentials and returns a signed JWT.
func (s *AuthService) Login(username, password string) (string, error) {
	if username != s.cfg.Admin.Username || s.cfg.Admin.PasswordHash == "" {
		return "", fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Admin.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	claims := jwt.MapClaims{
		"sub": username,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Duration(s.cfg.JWT.ExpiresIn) * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
