package transfer

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
)

func openTransaction(callData *string) *model.Transaction {
	return &model.Transaction{
		Id:       1,
		ChainId:  "westend",
		Status:   model.TransactionCreated,
		CallHash: "0xdead",
		CallData: callData,
	}
}

func TestThresholdReachedWithResolvedCallAdvances(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)

	ledger := NewLedger()
	ledger.Merge(Evidence{SignatoryKey: "0x01", Source: SourceOnChain, ObservedAt: time.Unix(1, 0)})
	assert.Equal(t, model.TransactionCreated, NextStatus(tx, 2, ledger.EffectiveCount()))

	ledger.Merge(Evidence{SignatoryKey: "0x02", Source: SourceMessaging, ObservedAt: time.Unix(2, 0)})
	assert.Equal(t, model.TransactionPendingExecution, NextStatus(tx, 2, ledger.EffectiveCount()))
}

func TestUnresolvedCallDataBlocksExecution(t *testing.T) {
	tx := openTransaction(nil)

	// enough approvals but the actual call bytes are unknown
	assert.Equal(t, model.TransactionCreated, NextStatus(tx, 2, 3))
}

func TestUnknownThresholdNeverAdvances(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)

	// a missing or corrupt wallet row must not read as "zero approvals needed"
	assert.Equal(t, model.TransactionCreated, NextStatus(tx, 0, 0))
	assert.Equal(t, model.TransactionCreated, NextStatus(tx, 0, 5))
	assert.Equal(t, model.TransactionCreated, NextStatus(tx, 1, 1))
}

func TestInconsistentTransactionNeverAdvances(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)
	tx.Inconsistent = true

	assert.Equal(t, model.TransactionCreated, NextStatus(tx, 2, 5))
}

func TestTerminalStatusIsSticky(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)
	tx.Status = model.TransactionConfirmed

	assert.Equal(t, model.TransactionConfirmed, NextStatus(tx, 2, 0))

	Cancel(tx)
	assert.Equal(t, model.TransactionConfirmed, tx.Status)
}

func TestApplyTimepointIsSetOnce(t *testing.T) {
	tx := openTransaction(nil)
	first := chain.Timepoint{Height: 100, Index: 2}

	require.NoError(t, ApplyTimepoint(tx, first))
	require.True(t, tx.HasTimepoint())

	// same observation again is a no-op
	require.NoError(t, ApplyTimepoint(tx, first))

	err := ApplyTimepoint(tx, chain.Timepoint{Height: 101, Index: 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleTimepoint))
	assert.Equal(t, uint32(100), *tx.BlockHeight)
	assert.Equal(t, uint32(2), *tx.ExtrinsicIndex)
}

func TestConfirmExecutionRequiresMatchingTimepoint(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)
	tx.Status = model.TransactionPendingExecution
	require.NoError(t, ApplyTimepoint(tx, chain.Timepoint{Height: 100, Index: 2}))

	err := ConfirmExecution(tx, chain.Timepoint{Height: 999, Index: 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleTimepoint))
	assert.Equal(t, model.TransactionPendingExecution, tx.Status)

	require.NoError(t, ConfirmExecution(tx, chain.Timepoint{Height: 100, Index: 2}))
	assert.Equal(t, model.TransactionConfirmed, tx.Status)
}

func TestConfirmExecutionAnchorsMissingTimepoint(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)
	tx.Status = model.TransactionPendingExecution

	require.NoError(t, ConfirmExecution(tx, chain.Timepoint{Height: 42, Index: 1}))
	assert.Equal(t, model.TransactionConfirmed, tx.Status)
	assert.Equal(t, uint32(42), *tx.BlockHeight)
}

func TestConflictingTimepointFlagsTransaction(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)
	require.NoError(t, ApplyTimepoint(tx, chain.Timepoint{Height: 100, Index: 2}))

	ledger := NewLedger()
	ledger.Merge(Evidence{SignatoryKey: "0x01", Source: SourceOnChain, ObservedAt: time.Unix(1, 0)})
	ledger.Merge(Evidence{SignatoryKey: "0x02", Source: SourceOnChain, ObservedAt: time.Unix(2, 0)})

	conflicting := chain.Timepoint{Height: 999, Index: 0}
	changed, err := applyEvidenceStep(tx, ledger, 2, nil, &conflicting)

	// the flag must be persisted so the UI can surface manual removal
	assert.True(t, changed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleTimepoint))
	assert.True(t, tx.Inconsistent)

	// flagged transactions are excluded from auto finalization
	assert.Equal(t, model.TransactionCreated, NextStatus(tx, 2, ledger.EffectiveCount()))
}

func TestFullLifecycleThresholdTwo(t *testing.T) {
	callData := "0x0403"
	tx := openTransaction(&callData)
	ledger := NewLedger()

	ledger.Merge(Evidence{SignatoryKey: "0x01", Source: SourceMessaging, ObservedAt: time.Unix(1, 0)})
	ledger.Merge(Evidence{SignatoryKey: "0x02", Source: SourceOnChain, ObservedAt: time.Unix(2, 0)})
	tx.Status = NextStatus(tx, 2, ledger.EffectiveCount())
	require.Equal(t, model.TransactionPendingExecution, tx.Status)

	require.NoError(t, ApplyTimepoint(tx, chain.Timepoint{Height: 7, Index: 3}))
	require.NoError(t, ConfirmExecution(tx, chain.Timepoint{Height: 7, Index: 3}))
	assert.Equal(t, model.TransactionConfirmed, tx.Status)
}
