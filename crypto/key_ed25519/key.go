package key_ed25519

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/suites"
)

const Size = 32

type (
	// PrivateKey is a 32-byte scalar on the edwards25519 group
	PrivateKey [Size]byte
	// PublicKey is a 32-byte compressed edwards25519 point
	PublicKey [Size]byte
	Pair      struct {
		Priv PrivateKey
		Pub  PublicKey
	}
)

var (
	Suite = suites.MustFind("Ed25519") // Use the edwards25519-curve

	ErrInvalidKey    = errors.New("invalid key")
	ErrInvalidLength = errors.New("invalid key length")
)

func New() (*PrivateKey, error) {
	privK := Suite.Scalar().Pick(Suite.RandomStream())
	b, err := privK.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(b) != Size {
		return nil, ErrInvalidLength
	}
	var priv PrivateKey
	copy(priv[:], b)
	memguard.WipeBytes(b)
	return &priv, nil
}

// NewPair generates a private key and its public key.
func NewPair() (*Pair, error) {
	priv, err := New()
	if err != nil {
		return nil, err
	}
	pub, err := priv.Public()
	if err != nil {
		return nil, err
	}
	return &Pair{Priv: *priv, Pub: *pub}, nil
}

func (privB *PrivateKey) Public() (*PublicKey, error) {
	privK, err := privB.ToScalar()
	if err != nil {
		return nil, err
	}
	pubK := Suite.Point().Mul(privK, nil)
	b, err := pubK.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return PublicKeyFromBytes(b)
}

func (privB *PrivateKey) ToScalar() (kyber.Scalar, error) {
	privK := Suite.Scalar()
	if err := privK.UnmarshalBinary(privB[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return privK, nil
}

// Wipe zeroes the private key in place.
func (privB *PrivateKey) Wipe() {
	memguard.WipeBytes(privB[:])
}

func (pubB PublicKey) ToPoint() (kyber.Point, error) {
	if pubB.IsZero() {
		return nil, ErrInvalidKey
	}
	pubK := Suite.Point()
	if err := pubK.UnmarshalBinary(pubB[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if pubK.Equal(Suite.Point().Null()) {
		return nil, ErrInvalidKey
	}
	return pubK, nil
}

// Validate reports whether the bytes decode to a usable group element.
func (pubB PublicKey) Validate() error {
	_, err := pubB.ToPoint()
	return err
}

func (pubB PublicKey) IsZero() bool {
	return pubB == PublicKey{}
}

func (pubB PublicKey) Equals(other *PublicKey) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(pubB[:], other[:]) == 1
}

func (pubB PublicKey) String() string {
	return hex.EncodeToString(pubB[:])
}

// PublicKeyFromBytes copies b into a PublicKey, checking only the length.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != Size {
		return nil, ErrInvalidLength
	}
	var pub PublicKey
	copy(pub[:], b)
	return &pub, nil
}

// PrivateKeyFromBytes copies b into a PrivateKey and checks it is a canonical scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != Size {
		return nil, ErrInvalidLength
	}
	var priv PrivateKey
	copy(priv[:], b)
	if _, err := priv.ToScalar(); err != nil {
		return nil, err
	}
	return &priv, nil
}

// Wipe zeroes the private half of the pair.
func (p *Pair) Wipe() {
	p.Priv.Wipe()
}
