package transfer

import (
	"github.com/pkg/errors"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
)

var (
	// ErrCallHashMismatch marks call bytes that do not hash to the recorded
	// call hash. The transaction stays open but is flagged inconsistent and
	// excluded from auto finalization.
	ErrCallHashMismatch = errors.New("call data does not match recorded call hash")

	// ErrStaleTimepoint marks a chain timepoint that conflicts with the one
	// already recorded. Fatal for that transaction.
	ErrStaleTimepoint = errors.New("conflicting multisig timepoint")
)

// NextStatus evaluates the forward transition for an open transaction given
// its current approval count. Terminal statuses never change and a flagged
// inconsistent transaction never leaves CREATED on its own.
func NextStatus(tx *model.Transaction, threshold uint16, effectiveCount int) model.TransactionStatus {
	if tx.Status.Terminal() {
		return tx.Status
	}
	if tx.Inconsistent {
		return model.TransactionCreated
	}
	// a threshold below 2 means the wallet record is missing or corrupt;
	// never treat that as "no approvals required"
	if threshold >= 2 && effectiveCount >= int(threshold) && tx.CallDataResolved() {
		return model.TransactionPendingExecution
	}
	if tx.Status == model.TransactionPendingExecution {
		// approvals are monotonic; only call data withdrawal could regress,
		// which cannot happen, so keep the status
		return model.TransactionPendingExecution
	}
	return model.TransactionCreated
}

// ApplyTimepoint records the multisig timepoint exactly once. A differing
// timepoint for an already anchored transaction is a stale observation.
func ApplyTimepoint(tx *model.Transaction, timepoint chain.Timepoint) error {
	if tx.HasTimepoint() {
		recorded := chain.Timepoint{Height: *tx.BlockHeight, Index: *tx.ExtrinsicIndex}
		if !recorded.Equal(timepoint) {
			return errors.Wrapf(ErrStaleTimepoint,
				"recorded %d-%d, observed %d-%d",
				recorded.Height, recorded.Index, timepoint.Height, timepoint.Index)
		}
		return nil
	}

	height, index := timepoint.Height, timepoint.Index
	tx.BlockHeight = &height
	tx.ExtrinsicIndex = &index
	return nil
}

// ConfirmExecution moves a transaction to CONFIRMED. Only a chain "executed"
// event matching the recorded timepoint may do this; messaging evidence is
// never authoritative for finality.
func ConfirmExecution(tx *model.Transaction, executedAt chain.Timepoint) error {
	if tx.Status.Terminal() {
		return nil
	}
	if tx.HasTimepoint() {
		recorded := chain.Timepoint{Height: *tx.BlockHeight, Index: *tx.ExtrinsicIndex}
		if !recorded.Equal(executedAt) {
			return errors.Wrapf(ErrStaleTimepoint,
				"executed event at %d-%d does not match recorded %d-%d",
				executedAt.Height, executedAt.Index, recorded.Height, recorded.Index)
		}
	} else {
		if err := ApplyTimepoint(tx, executedAt); err != nil {
			return err
		}
	}

	tx.Status = model.TransactionConfirmed
	return nil
}

// Cancel moves an open transaction to CANCELLED, either on explicit removal
// or on a chain "cancelled" event.
func Cancel(tx *model.Transaction) {
	if tx.Status.Terminal() {
		return
	}
	tx.Status = model.TransactionCancelled
}
