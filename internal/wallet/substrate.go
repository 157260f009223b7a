package wallet

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
)

const substrateSignatureSize = 64

// substrateSigningContext is the sr25519 context Substrate signers use.
var substrateSigningContext = []byte("substrate")

// SubstrateVerifier checks sr25519 and ed25519 signatures against SS58
// addresses. The address does not say which curve the key is on, so both
// are tried.
type SubstrateVerifier struct{}

func (SubstrateVerifier) Verify(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, pub, err := DecodeSS58(strings.TrimSpace(req.Address))
	if err != nil {
		return false, err
	}

	raw, err := decodeHex(req.Signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != substrateSignatureSize {
		return false, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, substrateSignatureSize, len(raw))
	}
	var sig [substrateSignatureSize]byte
	copy(sig[:], raw)

	for _, msg := range substrateMessageCandidates(req.Message) {
		if verifySr25519(pub, sig, msg) || ed25519.Verify(pub[:], msg, sig[:]) {
			return true, nil
		}
	}
	return false, nil
}

// substrateMessageCandidates lists the byte strings a wallet may have signed
// for msg: the text itself, the hex-decoded bytes when msg is 0x hex, and the
// <Bytes>...</Bytes> wrapping polkadot.js signRaw adds to each.
func substrateMessageCandidates(msg string) [][]byte {
	bases := [][]byte{[]byte(msg)}
	if strings.HasPrefix(msg, "0x") {
		if decoded, err := decodeHex(msg); err == nil {
			bases = append(bases, decoded)
		}
	}

	out := make([][]byte, 0, len(bases)*2)
	for _, b := range bases {
		out = append(out, b)
		wrapped := make([]byte, 0, len(b)+len("<Bytes></Bytes>"))
		wrapped = append(wrapped, "<Bytes>"...)
		wrapped = append(wrapped, b...)
		wrapped = append(wrapped, "</Bytes>"...)
		out = append(out, wrapped)
	}
	return out
}

func verifySr25519(pubKey [32]byte, sigBytes [64]byte, msg []byte) bool {
	pub := new(schnorrkel.PublicKey)
	if err := pub.Decode(pubKey); err != nil {
		return false
	}
	sig := new(schnorrkel.Signature)
	if err := sig.Decode(sigBytes); err != nil {
		return false
	}
	ok, err := pub.Verify(sig, schnorrkel.NewSigningContext(substrateSigningContext, msg))
	return err == nil && ok
}
