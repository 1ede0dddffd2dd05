package model

type TransactionStatus string

const (
	TransactionCreated          TransactionStatus = "CREATED"
	TransactionPendingExecution TransactionStatus = "PENDING_EXECUTION"
	TransactionConfirmed        TransactionStatus = "CONFIRMED"
	TransactionCancelled        TransactionStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionConfirmed || s == TransactionCancelled
}

type TransactionType string

const (
	SimpleTransfer   TransactionType = "SIMPLE_TRANSFER"
	MultisigTransfer TransactionType = "MULTISIG_TRANSFER"
)
