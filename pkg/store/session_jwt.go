package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
)

const (
	defaultJWTIssuer   = "bookhaven"
	defaultJWTAudience = "bookhaven-api"
)

var defaultJWTLeeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenRevoked = errors.New("session token revoked")
)

// JWTOptions configures claim validation.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Session is the verified content of a session token.
type Session struct {
	TokenID   string
	UserID    string
	Role      domain.UserRole
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"typ"`
}

// JWTSessionStore issues and validates RS256 session tokens. Tokens carry
// the principal's role so user and admin sessions cannot be swapped.
type JWTSessionStore struct {
	ttl       time.Duration
	revoker   TokenRevoker
	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey
	issuer    string
	audience  string
	leeway    time.Duration
}

// NewJWTSessionStore builds a store from in-memory keys. verifiers may
// carry previous public keys by kid for rotation; the signer's own public
// key is always accepted.
func NewJWTSessionStore(signer *rsa.PrivateKey, keyID string, verifiers map[string]*rsa.PublicKey, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if signer == nil {
		return nil, errors.New("jwt signing key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = "jwt-active"
	}
	keys := make(map[string]*rsa.PublicKey, len(verifiers)+1)
	for kid, pub := range verifiers {
		if kid = strings.TrimSpace(kid); kid != "" && pub != nil {
			keys[kid] = pub
		}
	}
	keys[keyID] = &signer.PublicKey

	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		ttl:       ttl,
		revoker:   revoker,
		signer:    signer,
		signerKid: keyID,
		verifiers: keys,
		issuer:    opts.Issuer,
		audience:  opts.Audience,
		leeway:    opts.Leeway,
	}, nil
}

// NewJWTSessionStoreFromPEM loads the signing key and any previous public
// keys (kid -> path) from PEM files.
func NewJWTSessionStoreFromPEM(privateKeyPath, keyID string, verifyKeyFiles map[string]string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	signer, err := loadRSAPrivateKeyFromPEMFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	verifiers := make(map[string]*rsa.PublicKey, len(verifyKeyFiles))
	for kid, path := range verifyKeyFiles {
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		verifiers[kid] = pub
	}
	return NewJWTSessionStore(signer, keyID, verifiers, ttl, revoker, opts)
}

// TTL reports the lifetime of newly issued tokens.
func (s *JWTSessionStore) TTL() time.Duration { return s.ttl }

// NewSession signs a token for the principal.
func (s *JWTSessionStore) NewSession(userID string, role domain.UserRole) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        util.NewID(),
		},
		Role: string(role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.signerKid
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expires, nil
}

// Resolve verifies a token and checks both revocation lists.
func (s *JWTSessionStore) Resolve(ctx context.Context, token string) (Session, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return Session{}, err
	}
	sess := Session{
		TokenID:   claims.ID,
		UserID:    claims.Subject,
		Role:      domain.UserRole(claims.Role),
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if s.revoker == nil {
		return sess, nil
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, ErrTokenRevoked
	}
	cutoff, err := s.revoker.RevokedAfter(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}
	if !cutoff.IsZero() && sess.IssuedAt.Before(cutoff) {
		return Session{}, ErrTokenRevoked
	}
	return sess, nil
}

// Revoke voids a token for the rest of its lifetime. Invalid tokens are
// ignored.
func (s *JWTSessionStore) Revoke(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeUserSessions voids every token for userID issued before since.
func (s *JWTSessionStore) RevokeUserSessions(ctx context.Context, userID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeUser(ctx, userID, since)
}

func (s *JWTSessionStore) parseAndVerify(token string) (sessionClaims, error) {
	var claims sessionClaims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return claims, ErrInvalidToken
	}
	switch domain.UserRole(claims.Role) {
	case domain.RoleUser, domain.RoleAdmin:
	default:
		return claims, ErrInvalidToken
	}
	return claims, nil
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not rsa")
	}
	return pub, nil
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
