package messaging

import (
	"context"
	"encoding/json"
)

// Room event types exchanged between signatories. Delivery is at-least-once
// and unordered; consumers must tolerate duplicates and stale events.
const (
	EventRoomInvite  = "omni.mst.room_invite"
	EventMstInit     = "omni.mst.init"
	EventMstApprove  = "omni.mst.approve"
	EventMstExecuted = "omni.mst.executed"
	EventMstCancel   = "omni.mst.cancel"
)

type Envelope struct {
	RoomId    string          `json:"roomId"`
	EventType string          `json:"eventType"`
	SenderKey string          `json:"senderKey"`
	Payload   json.RawMessage `json:"payload"`
}

type MstAccount struct {
	AccountName string   `json:"accountName"`
	ChainId     string   `json:"chainId"`
	Address     string   `json:"address"`
	Signatories []string `json:"signatories"`
	Threshold   uint16   `json:"threshold"`
}

// RoomInvite announces a coordination room for a multisig account. The
// signature is carried but not verified; invite authenticity is a known gap.
type RoomInvite struct {
	MstAccount       MstAccount `json:"mstAccount"`
	InviterPublicKey string     `json:"inviterPublicKey"`
	Signature        string     `json:"signature"`
}

// MstEvent is the payload of init/approve/executed/cancel room events. It is
// never trusted on its own: consumers corroborate callHash+salt against the
// referenced transaction before applying it.
type MstEvent struct {
	ChainId        string  `json:"chainId"`
	CallHash       string  `json:"callHash"`
	CallData       string  `json:"callData,omitempty"`
	Salt           string  `json:"salt"`
	BlockHeight    *uint32 `json:"blockHeight,omitempty"`
	ExtrinsicIndex *uint32 `json:"extrinsicIndex,omitempty"`
	Description    string  `json:"description,omitempty"`
}

type Handler func(ctx context.Context, envelope Envelope)

// Client is the messaging-network collaborator.
type Client interface {
	CreateRoom(ctx context.Context, invitees []string) (string, error)
	JoinRoom(ctx context.Context, roomId string) error
	Send(ctx context.Context, roomId string, eventType string, senderKey string, payload any) error
	Subscribe(eventType string, handler Handler)
}
