package chain

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// ss58Preimage is the checksum domain separator defined by the SS58 format.
const ss58Preimage = "SS58PRE"

// EncodeSS58 renders a 32-byte account id in the chain's address format.
// The same key yields different addresses under different network prefixes.
func EncodeSS58(prefix uint16, accountId []byte) (string, error) {
	if len(accountId) != 32 {
		return "", errors.Errorf("account id must be 32 bytes, got %d", len(accountId))
	}

	var raw []byte
	if prefix < 64 {
		raw = append(raw, byte(prefix))
	} else {
		// two-byte prefix encoding for registry values 64..16383
		raw = append(raw,
			byte(((prefix&0b1111_1100)>>2)|0b0100_0000),
			byte((prefix>>8)|((prefix&0b0000_0011)<<6)),
		)
	}
	raw = append(raw, accountId...)

	hasher, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	hasher.Write([]byte(ss58Preimage))
	hasher.Write(raw)
	checksum := hasher.Sum(nil)

	return base58.Encode(append(raw, checksum[:2]...)), nil
}

// DecodeSS58 extracts the 32-byte account id from an SS58 address, verifying
// the checksum.
func DecodeSS58(address string) ([]byte, error) {
	raw := base58.Decode(address)
	if len(raw) < 35 {
		return nil, errors.Errorf("address too short: %q", address)
	}

	prefixLen := 1
	if raw[0]&0b0100_0000 != 0 {
		prefixLen = 2
	}
	if len(raw) != prefixLen+32+2 {
		return nil, errors.Errorf("unexpected address length %d", len(raw))
	}

	body := raw[:len(raw)-2]
	hasher, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	hasher.Write([]byte(ss58Preimage))
	hasher.Write(body)
	checksum := hasher.Sum(nil)
	if checksum[0] != raw[len(raw)-2] || checksum[1] != raw[len(raw)-1] {
		return nil, errors.Errorf("checksum mismatch for address %q", address)
	}

	return body[prefixLen:], nil
}
