package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	token, err := svc.GenerateToken(123, "Dana")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.UserID != 123 {
		t.Errorf("expected UserID 123, got %d", claims.UserID)
	}
	if claims.Name != "Dana" {
		t.Errorf("expected Name 'Dana', got '%s'", claims.Name)
	}
	if claims.Subject != "123" {
		t.Errorf("expected Subject '123', got '%s'", claims.Subject)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc := &JWTService{
		secretKey:      []byte("test-secret-key"),
		accessDuration: -1 * time.Hour,
	}

	token, err := svc.GenerateToken(123, "Dana")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestValidateInvalidToken(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	if _, err := svc.ValidateToken("not-a-valid-token"); err == nil {
		t.Fatal("expected error for invalid token, got nil")
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a").GenerateToken(1, "Dana")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := NewJWTService("secret-b").ValidateToken(token); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

func TestValidateTokenWithoutUserID(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "anonymous",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := NewJWTService("test-secret-key").ValidateToken(token); err == nil {
		t.Fatal("expected error for token without user id")
	}
}

func TestClaimsContext(t *testing.T) {
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatal("expected no claims on empty context")
	}

	ctx := ContextWithClaims(context.Background(), &Claims{UserID: 7})
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.UserID != 7 {
		t.Fatalf("expected claims for user 7, got %+v", claims)
	}
}
