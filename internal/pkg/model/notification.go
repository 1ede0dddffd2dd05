package model

import (
	"time"
)

type NotificationType string

const (
	NotificationRoomInvite    NotificationType = "ROOM_INVITE"
	NotificationApprovalInit  NotificationType = "APPROVAL_INIT"
	NotificationApprovalEvent NotificationType = "APPROVAL_EVENT"
)

type Notification struct {
	Id        uint64           `gorm:"primaryKey" json:"id"`
	Type      NotificationType `gorm:"index" json:"type"`
	RoomId    string           `json:"roomId"`
	SenderKey string           `json:"senderKey"`
	Payload   string           `json:"payload"`
	IsRead    bool             `gorm:"index" json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (Notification) TableName() string {
	return "notification"
}
