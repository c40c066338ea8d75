package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID int64  `json:"uid"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

type JWTService struct {
	secretKey      []byte
	accessDuration time.Duration
}

func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey:      []byte(secretKey),
		accessDuration: 12 * time.Hour,
	}
}

// GenerateToken issues a token for a field user. Tokens are normally minted
// by the identity service; this is used by tooling and tests.
func (j *JWTService) GenerateToken(userID int64, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessDuration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("invalid token: missing user id")
	}
	return claims, nil
}
