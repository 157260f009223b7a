// Package wallet verifies that a login message was signed by the private key
// behind a wallet address. The relay treats verification as an opaque
// capability: Verifier answers yes or no for (address, message, signature).
//
// Two schemes are provided. EVM recovers the signer of an EIP-191
// personal_sign signature and compares it with the claimed 0x address.
// Substrate decodes the SS58 address to its public key and checks an sr25519
// or ed25519 signature, accepting the <Bytes> wrapping polkadot.js applies in
// signRaw.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Scheme names a signing scheme.
type Scheme string

const (
	SchemeEVM       Scheme = "EVM"
	SchemeSubstrate Scheme = "SUBSTRATE"
)

var (
	// ErrUnsupportedScheme is returned for schemes no verifier is registered for.
	ErrUnsupportedScheme = errors.New("wallet: unsupported signature scheme")

	// ErrMalformedSignature is returned when the signature cannot be decoded.
	ErrMalformedSignature = errors.New("wallet: malformed signature")

	// ErrMalformedAddress is returned when the address cannot be decoded.
	ErrMalformedAddress = errors.New("wallet: malformed address")
)

// Request is one verification question.
type Request struct {
	Scheme    Scheme
	Address   string
	Message   string
	Signature string
}

// Verifier reports whether Signature over Message was produced by Address.
// A false result with a nil error means the signature is well formed but
// does not match.
type Verifier interface {
	Verify(ctx context.Context, req Request) (bool, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, req Request) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// Schemes dispatches a request to the verifier registered for its scheme.
type Schemes map[Scheme]Verifier

// NewDefault returns a dispatcher with the EVM and Substrate verifiers.
func NewDefault() Schemes {
	return Schemes{
		SchemeEVM:       EVMVerifier{},
		SchemeSubstrate: SubstrateVerifier{},
	}
}

func (s Schemes) Verify(ctx context.Context, req Request) (bool, error) {
	v, ok := s[req.Scheme]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedScheme, req.Scheme)
	}
	return v.Verify(ctx, req)
}

// decodeHex accepts hex with or without a 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
