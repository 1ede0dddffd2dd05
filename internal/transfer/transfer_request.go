package transfer

import (
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
)

type CreateTransferRequest struct {
	WalletId         uint64 `json:"walletId"`
	RecipientAddress string `json:"recipientAddress"`
	AssetId          string `json:"assetId,omitempty"`
	Amount           string `json:"amount"`
	Description      string `json:"description,omitempty"`
}

type AttachCallDataRequest struct {
	CallData string `json:"callData"`
}

type BroadcastRequest struct {
	SignedExtrinsic string `json:"signedExtrinsic"`
	SenderKey       string `json:"senderKey,omitempty"`
}

type SignatoryStatus struct {
	AccountId             string  `json:"accountId"`
	PublicKey             string  `json:"publicKey"`
	DisplayName           *string `json:"displayName,omitempty"`
	Approved              bool    `json:"approved"`
	ConfirmedOnChain      bool    `json:"confirmedOnChain"`
	ConfirmedViaMessaging bool    `json:"confirmedViaMessaging"`
}

// TransactionView is the read model served to clients: the persisted record
// plus derived fee/deposit and per-signatory approval state, recomputed on
// every read.
type TransactionView struct {
	model.Transaction
	Fee         FeeView           `json:"fee"`
	Signatories []SignatoryStatus `json:"signatories"`
}

// TransactionHint is pushed over the websocket hub when a transaction
// changes; clients re-read the record on receipt.
type TransactionHint struct {
	TransactionId uint64                  `json:"transactionId"`
	Status        model.TransactionStatus `json:"status"`
}
