package identity

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"roomchat/cmd/chat"
)

const (
	claimUserID      = "uid"
	claimDisplayName = "name"
)

// Verifier resolves an identity from a bearer token.
type Verifier interface {
	Verify(token string, now time.Time) (chat.Identity, error)
}

// PasetoVerifier verifies PASETO v4.public access tokens issued by the
// identity service. Only the public key is needed here.
type PasetoVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoVerifier builds a verifier from a hex-encoded Ed25519 public key.
func NewPasetoVerifier(publicKeyHex, issuer string, clockSkew time.Duration) (*PasetoVerifier, error) {
	pub, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return nil, OpError{Op: "identity.NewPasetoVerifier", Kind: ErrConfig, Msg: "bad public key"}
	}
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &PasetoVerifier{issuer: issuer, clockSkew: clockSkew, public: pub}, nil
}

// Verify checks signature, issuer and expiry and returns the token's identity.
func (v *PasetoVerifier) Verify(token string, now time.Time) (chat.Identity, error) {
	// Validate slightly in the future so "nbf" tolerates clock differences.
	validNow := now.Add(v.clockSkew)

	p := paseto.NewParser()
	if v.issuer != "" {
		p.AddRule(paseto.IssuedBy(v.issuer))
	}
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, strings.TrimSpace(token), nil)
	if err != nil {
		return chat.Identity{}, OpError{Op: "identity.Verify", Kind: ErrInvalidToken}
	}

	uid, err := parsed.GetString(claimUserID)
	if err != nil || NormalizeUserID(uid) == "" {
		return chat.Identity{}, OpError{Op: "identity.Verify", Kind: ErrInvalidToken, Msg: "missing uid"}
	}
	name, _ := parsed.GetString(claimDisplayName)

	return chat.Identity{
		UserID:      NormalizeUserID(uid),
		DisplayName: NormalizeDisplayName(name),
	}, nil
}

// PasetoIssuer signs access tokens. Production tokens come from the identity
// service; this exists for tooling and tests.
type PasetoIssuer struct {
	issuer string
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
}

// NewPasetoIssuer builds an issuer from a hex-encoded Ed25519 secret key.
func NewPasetoIssuer(secretKeyHex, issuer string, ttl time.Duration) (*PasetoIssuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretKeyHex))
	if err != nil {
		return nil, OpError{Op: "identity.NewPasetoIssuer", Kind: ErrConfig, Msg: "bad secret key"}
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PasetoIssuer{issuer: issuer, ttl: ttl, secret: secret}, nil
}

// PublicKeyHex returns the verifying key matching this issuer.
func (i *PasetoIssuer) PublicKeyHex() string {
	return i.secret.Public().ExportHex()
}

// Issue signs a token for id valid from now for the configured TTL.
func (i *PasetoIssuer) Issue(id chat.Identity, now time.Time) (string, error) {
	if NormalizeUserID(id.UserID) == "" {
		return "", OpError{Op: "identity.Issue", Kind: ErrInvalidInput, Msg: "empty user id"}
	}

	tok := paseto.NewToken()
	if i.issuer != "" {
		tok.SetIssuer(i.issuer)
	}
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(i.ttl))
	_ = tok.Set(claimUserID, NormalizeUserID(id.UserID))
	_ = tok.Set(claimDisplayName, NormalizeDisplayName(id.DisplayName))

	return tok.V4Sign(i.secret, nil), nil
}
