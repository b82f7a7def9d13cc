// Package wallet implements the signer port with a software ed25519 key.
package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// Signer holds an ed25519 keypair for signing transactions.
//
// Load the private key from the environment or a secret manager; never
// from configuration files.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// NewSigner creates a signer from a base58-encoded private key.
// Accepts a 64-byte key (seed + public key) or a 32-byte seed.
func NewSigner(privateKeyBase58 string) (*Signer, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	var privateKey ed25519.PrivateKey
	switch len(privateKeyBytes) {
	case 64:
		privateKey = ed25519.PrivateKey(privateKeyBytes)
	case 32:
		privateKey = ed25519.NewKeyFromSeed(privateKeyBytes)
	default:
		return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64)", len(privateKeyBytes))
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	address := base58.Encode(publicKey)

	log.Info().Str("address", address).Msg("signer loaded")

	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		address:    address,
	}, nil
}

// PublicKey returns the base58 public key
func (s *Signer) PublicKey() string {
	return s.address
}

// Sign prepends the detached signature to the transaction bytes
func (s *Signer) Sign(tx []byte) ([]byte, error) {
	signature := ed25519.Sign(s.privateKey, tx)
	signed := make([]byte, 0, len(signature)+len(tx))
	signed = append(signed, signature...)
	signed = append(signed, tx...)
	return signed, nil
}
