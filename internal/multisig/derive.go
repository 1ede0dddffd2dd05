package multisig

import (
	"bytes"
	"sort"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
)

// ErrInvalidMultisigSpec marks malformed derivation input. It is returned
// before anything is persisted.
var ErrInvalidMultisigSpec = errors.New("invalid multisig spec")

// derivationPrefix is the domain separator pallet_multisig uses when deriving
// multisig account ids.
const derivationPrefix = "modlpy/utilisuba"

// DeriveAccountId computes the multisig account id for a signatory set and
// threshold. Keys are sorted by raw byte order first, so the result does not
// depend on enumeration order. Collisions are not handled; the hash carries
// that burden.
func DeriveAccountId(signatories [][]byte, threshold uint16) ([32]byte, error) {
	var zero [32]byte

	if len(signatories) < 2 {
		return zero, errors.Wrapf(ErrInvalidMultisigSpec,
			"need at least 2 signatories, got %d", len(signatories))
	}
	if threshold < 2 || int(threshold) > len(signatories) {
		return zero, errors.Wrapf(ErrInvalidMultisigSpec,
			"threshold %d out of range [2, %d]", threshold, len(signatories))
	}

	keys := make([][32]byte, len(signatories))
	for i, signatory := range signatories {
		if len(signatory) != 32 {
			return zero, errors.Wrapf(ErrInvalidMultisigSpec,
				"signatory key must be 32 bytes, got %d", len(signatory))
		}
		copy(keys[i][:], signatory)
	}

	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1] {
			return zero, errors.Wrap(ErrInvalidMultisigSpec, "duplicate signatory key")
		}
	}

	var buf bytes.Buffer
	buf.WriteString(derivationPrefix)
	enc := scale.NewEncoder(&buf)
	if err := enc.Encode(keys); err != nil {
		return zero, err
	}
	// threshold is fixed-width little endian
	if err := enc.Encode(threshold); err != nil {
		return zero, err
	}

	return blake2b.Sum256(buf.Bytes()), nil
}

// DeriveAddress derives the multisig account id and renders it in the target
// chain's address format.
func DeriveAddress(signatories [][]byte, threshold uint16, ss58Prefix uint16) (string, error) {
	accountId, err := DeriveAccountId(signatories, threshold)
	if err != nil {
		return "", err
	}
	return chain.EncodeSS58(ss58Prefix, accountId[:])
}
