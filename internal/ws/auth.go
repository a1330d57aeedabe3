package ws

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DoyleJ11/auction-backend/internal/broadcast"
	"github.com/DoyleJ11/auction-backend/internal/engine"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("token required")
	ErrInvalidRole  = errors.New("invalid role")
)

// Identity is who a connection acts as.
type Identity struct {
	Role broadcast.Role
	Team engine.TeamID
}

// Claims are the custom claims of a connection token.
type Claims struct {
	Role    string `json:"role"`
	Team    string `json:"team,omitempty"`
	Auction string `json:"auction,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies connection tokens. With an empty secret it runs in
// development mode and trusts the role and team query parameters.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) DevMode() bool { return len(a.secret) == 0 }

// Issue signs a token for id, scoped to one auction when auctionID is set.
func (a *Authenticator) Issue(id Identity, auctionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:    string(id.Role),
		Team:    string(id.Team),
		Auction: auctionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Authenticate resolves the identity of a websocket request for auctionID.
func (a *Authenticator) Authenticate(r *http.Request, auctionID string) (Identity, error) {
	q := r.URL.Query()
	if a.DevMode() {
		return identity(q.Get("role"), q.Get("team"))
	}

	raw := q.Get("token")
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := a.validate(raw)
	if err != nil {
		return Identity{}, err
	}
	if claims.Auction != "" && claims.Auction != auctionID {
		return Identity{}, fmt.Errorf("%w: token is for another auction", ErrInvalidToken)
	}
	return identity(claims.Role, claims.Team)
}

func (a *Authenticator) validate(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func identity(role, team string) (Identity, error) {
	switch r := broadcast.Role(role); r {
	case broadcast.RoleAuctioneer, broadcast.RoleViewer:
		return Identity{Role: r}, nil
	case broadcast.RoleBidder:
		if team == "" {
			return Identity{}, fmt.Errorf("%w: bidder without a team", ErrInvalidRole)
		}
		return Identity{Role: r, Team: engine.TeamID(team)}, nil
	default:
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}
