// Package auth holds the seams to the external credential and authorization
// collaborators: bearer-token verification at connect time and the
// capability check for joining broadcast rooms. Credential issuance lives
// outside this service; only validation happens here.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linkup/social-core/internal/chat"
)

// ErrInvalidCredential is returned for missing, malformed, expired or
// otherwise unverifiable credentials. The connection is refused and no
// registry mutation occurs.
var ErrInvalidCredential = errors.New("auth: invalid or expired credential")

// Verifier validates a bearer credential and yields the user identity it
// certifies.
type Verifier interface {
	Verify(credential string) (userID string, err error)
}

// JWTVerifier verifies HS256-signed bearer tokens issued by the external
// auth service. The user identity is carried in the "sub" claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify parses and validates the token and returns the subject user ID.
func (v *JWTVerifier) Verify(credential string) (string, error) {
	if credential == "" {
		return "", ErrInvalidCredential
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredential
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidCredential
	}
	return sub, nil
}

// RoomPolicy is the authorization capability for joining broadcast rooms.
type RoomPolicy interface {
	CanJoin(ctx context.Context, userID, roomID string) (bool, error)
}

// SessionGetter is the slice of the chat store the participant policy needs.
type SessionGetter interface {
	Get(ctx context.Context, sessionID string) (*chat.Session, error)
}

// ParticipantPolicy authorizes room joins for session rooms: a user may
// join room <id> iff they participate in chat session <id>. Unknown rooms
// are denied, not errors.
type ParticipantPolicy struct {
	Sessions SessionGetter
}

// CanJoin implements RoomPolicy.
func (p *ParticipantPolicy) CanJoin(ctx context.Context, userID, roomID string) (bool, error) {
	session, err := p.Sessions.Get(ctx, roomID)
	if errors.Is(err, chat.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: room lookup: %w", err)
	}
	return session.HasParticipant(userID), nil
}
