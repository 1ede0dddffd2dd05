package codec

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(CallIndex{4, 3}, "balances", "transfer_keep_alive")
	registry.Register(CallIndex{4, 0}, "balances", "transfer")
	registry.Register(CallIndex{50, 8}, "assets", "transfer")
	registry.Register(CallIndex{30, 0}, "currencies", "transfer")
	return registry
}

func testRecipient() []byte {
	recipient := make([]byte, 32)
	for i := range recipient {
		recipient[i] = byte(i + 1)
	}
	return recipient
}

func TestPlainTransferSemanticRoundTrip(t *testing.T) {
	registry := testRegistry()
	source := &SemanticTransfer{
		Kind:      PlainTransfer,
		Section:   "balances",
		Method:    "transfer_keep_alive",
		Recipient: testRecipient(),
		Amount:    big.NewInt(1_000_000_000_000),
	}

	callBytes, callHash, err := Encode(source, registry)
	require.NoError(t, err)
	assert.Equal(t, Hash(callBytes), callHash)
	assert.Equal(t, byte(4), callBytes[0])
	assert.Equal(t, byte(3), callBytes[1])

	decoded, err := Decode(callBytes, registry)
	require.NoError(t, err)
	require.NotNil(t, decoded.Transfer)

	assert.Equal(t, PlainTransfer, decoded.Transfer.Kind)
	assert.Equal(t, "balances", decoded.Transfer.Section)
	assert.Equal(t, "transfer_keep_alive", decoded.Transfer.Method)
	assert.Equal(t, source.Recipient, decoded.Transfer.Recipient)
	assert.Equal(t, source.Amount.String(), decoded.Transfer.Amount.String())
	assert.Equal(t, callHash, decoded.CallHash)
}

func TestAssetTransferSemanticRoundTrip(t *testing.T) {
	registry := testRegistry()
	source := &SemanticTransfer{
		Kind:      AssetTransfer,
		Section:   "assets",
		Method:    "transfer",
		Recipient: testRecipient(),
		AssetId:   "1984",
		Amount:    big.NewInt(25_000_000),
	}

	callBytes, _, err := Encode(source, registry)
	require.NoError(t, err)

	decoded, err := Decode(callBytes, registry)
	require.NoError(t, err)
	require.NotNil(t, decoded.Transfer)

	assert.Equal(t, AssetTransfer, decoded.Transfer.Kind)
	assert.Equal(t, "1984", decoded.Transfer.AssetId)
	assert.Equal(t, source.Recipient, decoded.Transfer.Recipient)
	assert.Equal(t, source.Amount.String(), decoded.Transfer.Amount.String())
}

func TestCurrencyTransferSemanticRoundTrip(t *testing.T) {
	registry := testRegistry()
	source := &SemanticTransfer{
		Kind:      CurrencyTransfer,
		Section:   "currencies",
		Method:    "transfer",
		Recipient: testRecipient(),
		AssetId:   "2",
		Amount:    big.NewInt(777),
	}

	callBytes, _, err := Encode(source, registry)
	require.NoError(t, err)

	decoded, err := Decode(callBytes, registry)
	require.NoError(t, err)
	require.NotNil(t, decoded.Transfer)

	assert.Equal(t, CurrencyTransfer, decoded.Transfer.Kind)
	assert.Equal(t, "2", decoded.Transfer.AssetId)
	assert.Equal(t, source.Amount.String(), decoded.Transfer.Amount.String())
}

func TestUnknownCallIndexPassesThroughAsRaw(t *testing.T) {
	registry := testRegistry()

	// dispatch index nothing registered under
	callBytes := []byte{99, 99, 0x01, 0x02, 0x03}

	decoded, err := Decode(callBytes, registry)
	require.NoError(t, err)
	assert.Nil(t, decoded.Transfer)
	assert.False(t, decoded.Raw.Known)
	assert.Equal(t, Hash(callBytes), decoded.CallHash)
}

func TestKnownIndexWithMalformedArgsStaysRaw(t *testing.T) {
	registry := testRegistry()

	// valid balances.transfer_keep_alive index with truncated arguments
	callBytes := []byte{4, 3, 0xff}

	decoded, err := Decode(callBytes, registry)
	require.NoError(t, err)
	assert.Nil(t, decoded.Transfer)
	assert.True(t, decoded.Raw.Known)
}

func TestDecodeRandomBytesNeverFails(t *testing.T) {
	registry := testRegistry()
	rng := rand.New(rand.NewSource(99))

	for i := 0; i < 500; i++ {
		raw := make([]byte, 2+rng.Intn(128))
		rng.Read(raw)

		decoded, err := Decode(raw, registry)
		require.NoError(t, err)
		require.NotNil(t, decoded)
		assert.NotEqual(t, [32]byte{}, decoded.CallHash)
	}
}

func TestDecodeEmptyPayloadIsAnError(t *testing.T) {
	_, err := Decode(nil, testRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestEncodeRejectsIncompleteTransfer(t *testing.T) {
	registry := testRegistry()

	_, _, err := Encode(nil, registry)
	require.Error(t, err)

	_, _, err = Encode(&SemanticTransfer{
		Kind:      PlainTransfer,
		Section:   "balances",
		Method:    "transfer",
		Recipient: []byte{1, 2, 3},
		Amount:    big.NewInt(1),
	}, registry)
	require.Error(t, err)
}

func TestHashHex(t *testing.T) {
	digest := HashHex([]byte{1, 2, 3})
	assert.Len(t, digest, 2+64)
	assert.Equal(t, "0x", digest[:2])

	// stable across calls
	assert.Equal(t, digest, HashHex([]byte{1, 2, 3}))
}
