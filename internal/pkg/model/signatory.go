package model

// Signatory identity is the public key; the account id is a network-specific
// encoding of the same key and differs between chains.
type Signatory struct {
	Id          uint64  `gorm:"primaryKey" json:"id"`
	WalletId    uint64  `gorm:"index" json:"walletId"`
	AccountId   string  `json:"accountId"`
	PublicKey   string  `json:"publicKey"`
	DisplayName *string `json:"displayName,omitempty"`
	MessagingId string  `json:"messagingId"`
}

func (Signatory) TableName() string {
	return "signatory"
}
