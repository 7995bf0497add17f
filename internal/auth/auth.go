// Package auth verifies bearer tokens and the admin key.
//
// User tokens are minted by the identity provider sharing JWT_SECRET; the
// service only verifies them. Player tokens are minted here on join and scope
// a caller to one player in one session.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	kindUser   = "user"
	kindPlayer = "player"

	PlayerTokenTTL = 24 * time.Hour
)

type claims struct {
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret       []byte
	issuer       string
	adminKeyHash []byte
	now          func() time.Time
}

func New(secret, issuer, adminKeyHash string) *Authenticator {
	return &Authenticator{
		secret:       []byte(secret),
		issuer:       issuer,
		adminKeyHash: []byte(adminKeyHash),
		now:          time.Now,
	}
}

func (a *Authenticator) sign(c claims, ttl time.Duration) (string, error) {
	now := a.now()
	c.Issuer = a.issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.NotBefore = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s, nil
}

func (a *Authenticator) parse(tokenString, kind string) (*claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Kind != kind || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

// IssueUserToken mints a user token. Production tokens come from the
// identity provider; this exists for local tooling and tests.
func (a *Authenticator) IssueUserToken(userID, name string, ttl time.Duration) (string, error) {
	return a.sign(claims{
		Kind:             kindUser,
		Name:             name,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}, ttl)
}

// User verifies a user bearer token.
func (a *Authenticator) User(tokenString string) (laotypo.Identity, error) {
	c, err := a.parse(tokenString, kindUser)
	if err != nil {
		return laotypo.Identity{}, err
	}
	return laotypo.Identity{UserID: c.Subject, Name: c.Name}, nil
}

// IssuePlayerToken mints the session-scoped token handed out on join.
func (a *Authenticator) IssuePlayerToken(ref laotypo.PlayerRef) (string, error) {
	return a.sign(claims{
		Kind:             kindPlayer,
		Name:             ref.Name,
		SessionID:        ref.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: ref.PlayerID},
	}, PlayerTokenTTL)
}

// Player verifies a player token.
func (a *Authenticator) Player(tokenString string) (laotypo.PlayerRef, error) {
	c, err := a.parse(tokenString, kindPlayer)
	if err != nil {
		return laotypo.PlayerRef{}, err
	}
	if c.SessionID == "" {
		return laotypo.PlayerRef{}, ErrInvalidToken
	}
	return laotypo.PlayerRef{SessionID: c.SessionID, PlayerID: c.Subject, Name: c.Name}, nil
}

// AdminKey reports whether key matches the configured bcrypt hash. With no
// hash configured nobody is an admin.
func (a *Authenticator) AdminKey(key string) bool {
	if len(a.adminKeyHash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.adminKeyHash, []byte(key)) == nil
}
