package multisig

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	gprop "github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(seed int64, count int) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	keys := make([][]byte, count)
	for i := range keys {
		key := make([]byte, 32)
		rng.Read(key)
		keys[i] = key
	}
	return keys
}

func shuffled(seed int64, keys [][]byte) [][]byte {
	out := make([][]byte, len(keys))
	copy(out, keys)
	rand.New(rand.NewSource(seed)).Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

func TestDeriveAccountIdOrderIndependent(t *testing.T) {
	keys := testKeys(1, 3)

	want, err := DeriveAccountId(keys, 2)
	require.NoError(t, err)

	permutations := [][][]byte{
		{keys[0], keys[2], keys[1]},
		{keys[1], keys[0], keys[2]},
		{keys[2], keys[1], keys[0]},
	}
	for _, permutation := range permutations {
		got, err := DeriveAccountId(permutation, 2)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDeriveAccountIdOrderIndependentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("any permutation derives the same account id", prop(
		func(keySeed int64, shuffleSeed int64, count int) bool {
			keys := testKeys(keySeed, count)
			threshold := uint16(2 + int(uint(keySeed)%uint(count-1)))

			a, errA := DeriveAccountId(keys, threshold)
			b, errB := DeriveAccountId(shuffled(shuffleSeed, keys), threshold)
			return errA == nil && errB == nil && a == b
		},
	))

	properties.TestingRun(t)
}

func prop(check func(keySeed, shuffleSeed int64, count int) bool) gopter.Prop {
	return gprop.ForAll(
		check,
		gen.Int64(),
		gen.Int64(),
		gen.IntRange(2, 8),
	)
}

func TestDeriveAccountIdThresholdBindsResult(t *testing.T) {
	keys := testKeys(7, 4)

	two, err := DeriveAccountId(keys, 2)
	require.NoError(t, err)
	three, err := DeriveAccountId(keys, 3)
	require.NoError(t, err)

	assert.NotEqual(t, two, three)
}

func TestDeriveAccountIdRejectsInvalidSpecs(t *testing.T) {
	keys := testKeys(3, 3)

	cases := []struct {
		name        string
		signatories [][]byte
		threshold   uint16
	}{
		{"single signatory", keys[:1], 2},
		{"threshold below two", keys, 1},
		{"threshold above set size", keys, 4},
		{"short key", [][]byte{keys[0], keys[1][:31]}, 2},
		{"duplicate key", [][]byte{keys[0], keys[1], keys[0]}, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeriveAccountId(tc.signatories, tc.threshold)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMultisigSpec))
		})
	}
}

func TestDeriveAddressUsesRequestedNetworkPrefix(t *testing.T) {
	keys := testKeys(11, 2)

	generic, err := DeriveAddress(keys, 2, 42)
	require.NoError(t, err)
	polkadot, err := DeriveAddress(keys, 2, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, generic)
	assert.NotEmpty(t, polkadot)
	assert.NotEqual(t, generic, polkadot)
}
