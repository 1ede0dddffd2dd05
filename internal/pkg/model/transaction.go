package model

import (
	"time"
)

type Transaction struct {
	Id               uint64            `gorm:"primaryKey" json:"id"`
	ChainId          string            `gorm:"index" json:"chainId"`
	Address          string            `gorm:"index" json:"address"`
	WalletId         uint64            `json:"walletId"`
	Type             TransactionType   `gorm:"index" json:"type"`
	Status           TransactionStatus `gorm:"index" json:"status"`
	RecipientAddress string            `json:"recipientAddress"`
	AssetId          string            `json:"assetId"`
	Amount           string            `json:"amount"`
	CallHash         string            `gorm:"index" json:"callHash"`
	CallData         *string           `json:"callData,omitempty"`
	Salt             string            `gorm:"index" json:"salt"`
	BlockHeight      *uint32           `json:"blockHeight,omitempty"`
	ExtrinsicIndex   *uint32           `json:"extrinsicIndex,omitempty"`
	Inconsistent     bool              `json:"inconsistent"`
	Version          uint64            `json:"-"`
	Approvals        []Approval        `gorm:"foreignKey:TransactionId" json:"approvals"`
	CreatedAt        time.Time         `json:"createdAt"`
}

func (Transaction) TableName() string {
	return "transaction"
}

// HasTimepoint reports whether the on-chain timepoint was already recorded.
// A timepoint is written once, by whichever channel observed it first.
func (t *Transaction) HasTimepoint() bool {
	return t.BlockHeight != nil && t.ExtrinsicIndex != nil
}

// CallDataResolved reports whether the raw call bytes are known. A multisig
// operation cannot be finalized without them, regardless of approvals.
func (t *Transaction) CallDataResolved() bool {
	return t.CallData != nil && *t.CallData != ""
}
