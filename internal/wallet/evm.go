package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/Tyrowin/gorelay/internal/address"
)

const evmSignatureSize = 65

// EVMVerifier checks EIP-191 personal_sign signatures, the format MetaMask
// and ethers' signMessage produce.
type EVMVerifier struct{}

func (EVMVerifier) Verify(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !isEVMAddress(req.Address) {
		return false, fmt.Errorf("%w: %q is not a 0x-prefixed 20-byte hex address", ErrMalformedAddress, req.Address)
	}

	sig, err := decodeHex(req.Signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	recovered, err := RecoverEVMAddress([]byte(req.Message), sig)
	if err != nil {
		return false, err
	}
	return address.Equal(recovered, req.Address), nil
}

// RecoverEVMAddress returns the lower-case 0x address that signed msg with
// personal_sign. sig is the 65-byte R || S || V form; V may be 0/1 or 27/28.
func RecoverEVMAddress(msg, sig []byte) (string, error) {
	if len(sig) != evmSignatureSize {
		return "", fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, evmSignatureSize, len(sig))
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, sig[64])
	}

	// btcec wants the recovery byte first, offset by 27 for an uncompressed key.
	compact := make([]byte, evmSignatureSize)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, PersonalMessageHash(msg))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	return EVMAddress(pub), nil
}

// PersonalMessageHash is keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func PersonalMessageHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return keccak256([]byte(prefix), msg)
}

// SignPersonal signs msg with personal_sign semantics and returns the
// 65-byte R || S || V signature with V in {27, 28}.
func SignPersonal(key *btcec.PrivateKey, msg []byte) []byte {
	compact := ecdsa.SignCompact(key, PersonalMessageHash(msg), false)
	sig := make([]byte, evmSignatureSize)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}

// EVMAddress returns the lower-case 0x address of pub.
func EVMAddress(pub *btcec.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	return "0x" + hex.EncodeToString(keccak256(uncompressed[1:])[12:])
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func isEVMAddress(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
