package multisig

type CreateWalletRequest struct {
	Name        string                  `json:"name"`
	Threshold   uint16                  `json:"threshold"`
	ChainId     string                  `json:"chainId"`
	Signatories []CreateWalletSignatory `json:"signatories"`
}

type CreateWalletSignatory struct {
	PublicKey   string  `json:"publicKey"`
	DisplayName *string `json:"displayName,omitempty"`
	MessagingId string  `json:"messagingId"`
}

type AttachRoomRequest struct {
	RoomId string `json:"roomId"`
}
