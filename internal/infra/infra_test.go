package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	token, err := SignToken("s3cret", "driver-1", "driver", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := NewJWTVerifier("s3cret").VerifyToken(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UID != "driver-1" || id.Role != "driver" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestJWTVerifierRejects(t *testing.T) {
	expired, _ := SignToken("s3cret", "p1", "passenger", -time.Minute)
	wrongKey, _ := SignToken("other", "p1", "passenger", time.Minute)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "passenger"}).SignedString([]byte("s3cret"))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             "passenger",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "p1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	v := NewJWTVerifier("s3cret")
	for name, tok := range map[string]string{
		"expired":    expired,
		"wrong key":  wrongKey,
		"no subject": noSubject,
		"alg none":   none,
		"garbage":    "not-a-token",
	} {
		if _, err := v.VerifyToken(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestSplitSQL(t *testing.T) {
	input := StripSQLComments(`
-- rides
CREATE TABLE a (id TEXT);

-- index
CREATE INDEX b ON a (id);
`)
	stmts := SplitSQL(input)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[1] != "CREATE INDEX b ON a (id)" {
		t.Fatalf("unexpected statement %q", stmts[1])
	}
}
