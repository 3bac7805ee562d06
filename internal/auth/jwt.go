package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Roles carried in session tokens. Spectators (the TV) connect without a token.
const (
	RoleHost   = "host"
	RolePlayer = "player"
)

// Claims binds a token to one session. PlayerID is empty for host tokens.
type Claims struct {
	SessionCode string `json:"session_code"`
	PlayerID    string `json:"player_id,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
	now         func() time.Time
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
		now:         time.Now,
	}
}

// GenerateHost issues the token that lets its bearer drive a session.
func (s *JWTService) GenerateHost(sessionCode string) (string, error) {
	return s.generate(sessionCode, "", RoleHost)
}

// GeneratePlayer issues the buzzer token of one player.
func (s *JWTService) GeneratePlayer(sessionCode, playerID string) (string, error) {
	return s.generate(sessionCode, playerID, RolePlayer)
}

func (s *JWTService) generate(sessionCode, playerID, role string) (string, error) {
	now := s.now()
	claims := Claims{
		SessionCode: sessionCode,
		PlayerID:    playerID,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case RoleHost:
	case RolePlayer:
		if claims.PlayerID == "" {
			return nil, ErrInvalidToken
		}
	default:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
