package codec

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// ErrDecodeFailure marks call bytes that cannot be parsed at all. It is not
// fatal to a transaction; the payload is kept as a RawCall.
var ErrDecodeFailure = errors.New("cannot decode call bytes")

type TransferKind string

const (
	PlainTransfer    TransferKind = "PLAIN"
	AssetTransfer    TransferKind = "ASSET"
	CurrencyTransfer TransferKind = "CURRENCY"
)

// SemanticTransfer is the normalized view of a recognized transfer call.
type SemanticTransfer struct {
	Kind      TransferKind
	Section   string
	Method    string
	Recipient []byte
	AssetId   string
	Amount    *big.Int
}

// RawCall is an opaque payload whose shape is not recognized. The hash is
// still displayable even when the method/section are unknown.
type RawCall struct {
	Index CallIndex
	Known bool
	Args  []byte
}

// Decoded is the result of a decode attempt. Transfer is nil when the call
// did not match a known transfer shape.
type Decoded struct {
	Transfer *SemanticTransfer
	Raw      RawCall
	// Bytes holds the bare call (index + args) the hash is computed over.
	Bytes    []byte
	CallHash [32]byte
}

// Hash computes the call digest used to correlate multisig operations.
func Hash(call []byte) [32]byte {
	return blake2b.Sum256(call)
}

func HashHex(call []byte) string {
	digest := Hash(call)
	return "0x" + hex.EncodeToString(digest[:])
}

// Decode parses opaque call bytes. Two strategies are attempted in order:
// a fully-formed extrinsic whose inner call is extracted, then a bare call.
// Unparseable or unrecognized payloads come back as RawCall, never an error,
// so callers can still display the raw hash.
func Decode(raw []byte, meta Metadata) (*Decoded, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrDecodeFailure, "empty payload")
	}

	call, callBytes, ok := decodeExtrinsic(raw)
	if !ok {
		call, callBytes, ok = decodeBareCall(raw)
	}
	if !ok {
		return &Decoded{
			Raw:      RawCall{Args: raw},
			Bytes:    raw,
			CallHash: Hash(raw),
		}, nil
	}

	index := CallIndex{call.CallIndex.SectionIndex, call.CallIndex.MethodIndex}
	decoded := &Decoded{
		Raw:      RawCall{Index: index, Args: call.Args},
		Bytes:    callBytes,
		CallHash: Hash(callBytes),
	}

	callMeta, known := meta.LookupCall(index)
	decoded.Raw.Known = known
	if !known {
		return decoded, nil
	}

	if transfer, ok := normalizeTransfer(callMeta, call.Args); ok {
		decoded.Transfer = transfer
	}
	return decoded, nil
}

// Encode produces the bare call bytes and digest for a normalized transfer.
// Argument encoding is canonical, so hash(encode(decode(x))) may differ from
// hash(x); only the semantic fields round-trip.
func Encode(t *SemanticTransfer, meta Metadata) ([]byte, [32]byte, error) {
	if t == nil || len(t.Recipient) != 32 || t.Amount == nil {
		return nil, [32]byte{}, errors.Wrap(ErrDecodeFailure, "incomplete transfer")
	}

	index, err := meta.CallIndex(t.Section, t.Method)
	if err != nil {
		return nil, [32]byte{}, err
	}

	dest, err := types.NewMultiAddressFromAccountID(t.Recipient)
	if err != nil {
		return nil, [32]byte{}, err
	}

	var args bytes.Buffer
	enc := scale.NewEncoder(&args)

	switch t.Kind {
	case PlainTransfer:
		if err := enc.Encode(dest); err != nil {
			return nil, [32]byte{}, err
		}
		if err := enc.Encode(types.NewUCompact(t.Amount)); err != nil {
			return nil, [32]byte{}, err
		}

	case AssetTransfer:
		assetId, ok := new(big.Int).SetString(strings.TrimSpace(t.AssetId), 10)
		if !ok {
			return nil, [32]byte{}, errors.Errorf("invalid asset id %q", t.AssetId)
		}
		if err := enc.Encode(types.NewUCompact(assetId)); err != nil {
			return nil, [32]byte{}, err
		}
		if err := enc.Encode(dest); err != nil {
			return nil, [32]byte{}, err
		}
		if err := enc.Encode(types.NewUCompact(t.Amount)); err != nil {
			return nil, [32]byte{}, err
		}

	case CurrencyTransfer:
		assetId, ok := new(big.Int).SetString(strings.TrimSpace(t.AssetId), 10)
		if !ok || !assetId.IsUint64() {
			return nil, [32]byte{}, errors.Errorf("invalid currency id %q", t.AssetId)
		}
		if err := enc.Encode(dest); err != nil {
			return nil, [32]byte{}, err
		}
		if err := enc.Encode(types.NewU32(uint32(assetId.Uint64()))); err != nil {
			return nil, [32]byte{}, err
		}
		if err := enc.Encode(types.NewUCompact(t.Amount)); err != nil {
			return nil, [32]byte{}, err
		}

	default:
		return nil, [32]byte{}, errors.Errorf("unsupported transfer kind %q", t.Kind)
	}

	call := append([]byte{index[0], index[1]}, args.Bytes()...)
	return call, Hash(call), nil
}

func decodeExtrinsic(raw []byte) (types.Call, []byte, bool) {
	var ext types.Extrinsic
	if err := scale.NewDecoder(bytes.NewReader(raw)).Decode(&ext); err != nil {
		return types.Call{}, nil, false
	}

	var buf bytes.Buffer
	if err := scale.NewEncoder(&buf).Encode(ext.Method); err != nil {
		return types.Call{}, nil, false
	}
	return ext.Method, buf.Bytes(), true
}

func decodeBareCall(raw []byte) (types.Call, []byte, bool) {
	if len(raw) < 2 {
		return types.Call{}, nil, false
	}
	var call types.Call
	if err := scale.NewDecoder(bytes.NewReader(raw)).Decode(&call); err != nil {
		return types.Call{}, nil, false
	}
	return call, raw, true
}

func normalizeTransfer(meta CallMeta, args []byte) (*SemanticTransfer, bool) {
	dec := scale.NewDecoder(bytes.NewReader(args))

	switch {
	case meta.Section == "balances" && isTransferMethod(meta.Method):
		var dest types.MultiAddress
		var amount types.UCompact
		if dec.Decode(&dest) != nil || dec.Decode(&amount) != nil || !dest.IsID {
			return nil, false
		}
		return &SemanticTransfer{
			Kind:      PlainTransfer,
			Section:   meta.Section,
			Method:    meta.Method,
			Recipient: dest.AsID.ToBytes(),
			Amount:    compactToBig(amount),
		}, true

	case meta.Section == "assets" && meta.Method == "transfer":
		var assetId types.UCompact
		var dest types.MultiAddress
		var amount types.UCompact
		if dec.Decode(&assetId) != nil || dec.Decode(&dest) != nil || dec.Decode(&amount) != nil || !dest.IsID {
			return nil, false
		}
		return &SemanticTransfer{
			Kind:      AssetTransfer,
			Section:   meta.Section,
			Method:    meta.Method,
			Recipient: dest.AsID.ToBytes(),
			AssetId:   compactToBig(assetId).String(),
			Amount:    compactToBig(amount),
		}, true

	case meta.Section == "currencies" && meta.Method == "transfer":
		var dest types.MultiAddress
		var currencyId types.U32
		var amount types.UCompact
		if dec.Decode(&dest) != nil || dec.Decode(&currencyId) != nil || dec.Decode(&amount) != nil || !dest.IsID {
			return nil, false
		}
		return &SemanticTransfer{
			Kind:      CurrencyTransfer,
			Section:   meta.Section,
			Method:    meta.Method,
			Recipient: dest.AsID.ToBytes(),
			AssetId:   new(big.Int).SetUint64(uint64(currencyId)).String(),
			Amount:    compactToBig(amount),
		}, true
	}

	return nil, false
}

func isTransferMethod(method string) bool {
	switch method {
	case "transfer", "transfer_keep_alive", "transfer_allow_death":
		return true
	}
	return false
}

func compactToBig(value types.UCompact) *big.Int {
	return new(big.Int).Set((*big.Int)(&value))
}
