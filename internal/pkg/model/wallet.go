package model

import (
	"time"
)

type Wallet struct {
	Id          uint64      `gorm:"primaryKey" json:"id"`
	Name        string      `gorm:"index" json:"name"`
	IsMultisig  bool        `gorm:"index" json:"isMultisig"`
	Address     string      `json:"address"`
	Threshold   uint16      `json:"threshold"`
	ChainId     string      `json:"chainId"`
	RoomId      *string     `json:"roomId,omitempty"`
	Signatories []Signatory `gorm:"foreignKey:WalletId" json:"signatories"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (Wallet) TableName() string {
	return "wallet"
}
