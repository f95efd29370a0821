package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{UserID: "u1", Roles: []string{RoleOperator}}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Issuer != "robobs" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		UserID: "u1",
		Roles:  []string{RoleOperator},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "u1",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestParse_RejectsExpiredAndForeignTokens(t *testing.T) {
	secret := []byte("test-secret")
	expired, _ := Issue(secret, Claims{UserID: "u1"}, -time.Minute)
	if _, err := Parse(secret, expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
	foreign, _ := Issue([]byte("other"), Claims{UserID: "u1"}, time.Hour)
	if _, err := Parse(secret, foreign); err == nil {
		t.Fatal("expected token signed with another key to be rejected")
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		roles []string
		role  string
		want  bool
	}{
		{[]string{RoleObserver}, RoleObserver, true},
		{[]string{RoleObserver}, RoleOperator, false},
		{[]string{RoleOperator}, RoleObserver, true},
		{[]string{RoleOperator}, RoleOperator, true},
		{nil, RoleObserver, false},
	}
	for _, tt := range tests {
		c := &Claims{Roles: tt.roles}
		if got := c.HasRole(tt.role); got != tt.want {
			t.Errorf("HasRole(%v, %s) = %v, want %v", tt.roles, tt.role, got, tt.want)
		}
	}
}
