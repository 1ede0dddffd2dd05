package ws

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

var singletonMutex sync.Mutex

// WebSocketNotificationHub pushes refresh hints to connected UI clients.
// The persistent store stays the source of truth; clients are expected to
// re-read a transaction when a hint for its wallet topic arrives.
type WebSocketNotificationHub struct {
	registrationMutex sync.Mutex
	listeners         map[string][]*websocket.Conn
}

// WalletTopic is the hub topic carrying updates for one wallet's transactions.
func WalletTopic(walletId uint64) string {
	return fmt.Sprintf("wallets/%d/transactions", walletId)
}

func (hub *WebSocketNotificationHub) RegisterListener(topic string, conn *websocket.Conn) {
	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	hub.listeners[topic] = append(hub.listeners[topic], conn)
}

func (hub *WebSocketNotificationHub) UnregisterListener(topic string, conn *websocket.Conn) {
	hub.registrationMutex.Lock()
	defer hub.registrationMutex.Unlock()

	conns := hub.listeners[topic]
	for i, listener := range conns {
		if listener == conn {
			hub.listeners[topic] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(hub.listeners[topic]) == 0 {
		delete(hub.listeners, topic)
	}
}

func (hub *WebSocketNotificationHub) Publish(targetTopic string, event any) {
	hub.registrationMutex.Lock()
	conns := append([]*websocket.Conn(nil), hub.listeners[targetTopic]...)
	hub.registrationMutex.Unlock()

	for _, listener := range conns {
		_ = listener.WriteJSON(event)
	}
}

var notificationHubSingleton *WebSocketNotificationHub

func NewNotificationHub() *WebSocketNotificationHub {
	singletonMutex.Lock()
	defer singletonMutex.Unlock()

	if notificationHubSingleton == nil {
		notificationHubSingleton = &WebSocketNotificationHub{
			listeners: make(map[string][]*websocket.Conn),
		}
	}

	return notificationHubSingleton
}
