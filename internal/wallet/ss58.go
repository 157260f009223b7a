package wallet

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	ss58PublicKeySize = 32
	ss58ChecksumSize  = 2
)

var ss58Prefix = []byte("SS58PRE")

// DecodeSS58 returns the network identifier and 32-byte public key encoded in
// a Substrate SS58 address, after checking its blake2b checksum.
func DecodeSS58(addr string) (uint16, [32]byte, error) {
	var pub [32]byte

	data, err := base58.Decode(addr)
	if err != nil {
		return 0, pub, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if len(data) == 0 {
		return 0, pub, fmt.Errorf("%w: empty ss58 address", ErrMalformedAddress)
	}

	var (
		network   uint16
		prefixLen int
	)
	switch {
	case data[0] < 64:
		network = uint16(data[0])
		prefixLen = 1
	case data[0] < 128:
		if len(data) < 2 {
			return 0, pub, fmt.Errorf("%w: truncated ss58 prefix", ErrMalformedAddress)
		}
		lower := (data[0]&0x3f)<<2 | data[1]>>6
		upper := data[1] & 0x3f
		network = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return 0, pub, fmt.Errorf("%w: reserved ss58 prefix %d", ErrMalformedAddress, data[0])
	}

	if len(data) != prefixLen+ss58PublicKeySize+ss58ChecksumSize {
		return 0, pub, fmt.Errorf("%w: unexpected ss58 length %d", ErrMalformedAddress, len(data))
	}

	body := data[:len(data)-ss58ChecksumSize]
	if !bytes.Equal(ss58Checksum(body), data[len(data)-ss58ChecksumSize:]) {
		return 0, pub, fmt.Errorf("%w: ss58 checksum mismatch", ErrMalformedAddress)
	}

	copy(pub[:], body[prefixLen:])
	return network, pub, nil
}

// EncodeSS58 encodes a public key under a single-byte network identifier
// (0 to 63; 42 is the generic Substrate network).
func EncodeSS58(network uint8, pub [32]byte) (string, error) {
	if network >= 64 {
		return "", fmt.Errorf("wallet: ss58 network %d needs a two-byte prefix", network)
	}
	body := make([]byte, 0, 1+ss58PublicKeySize+ss58ChecksumSize)
	body = append(body, network)
	body = append(body, pub[:]...)
	body = append(body, ss58Checksum(body)...)
	return base58.Encode(body), nil
}

func ss58Checksum(body []byte) []byte {
	h := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), body...))
	return h[:ss58ChecksumSize]
}
