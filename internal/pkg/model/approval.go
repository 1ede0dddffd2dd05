package model

import (
	"time"
)

// Approval is one signatory's row in a transaction's approval ledger.
// Both confirmation flags are monotonic: once true they are never reset.
type Approval struct {
	Id                    uint64    `gorm:"primaryKey" json:"id"`
	TransactionId         uint64    `gorm:"index" json:"transactionId"`
	SignatoryKey          string    `json:"signatoryKey"`
	ConfirmedOnChain      bool      `json:"confirmedOnChain"`
	ConfirmedViaMessaging bool      `json:"confirmedViaMessaging"`
	FirstSeenAt           time.Time `json:"firstSeenAt"`
}

func (Approval) TableName() string {
	return "approval"
}
