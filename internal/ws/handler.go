package ws

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/asmadek/omni-mst-backend/internal/pkg/middleware"
	"github.com/asmadek/omni-mst-backend/internal/pkg/ws"
)

type wsHandler struct {
	notificationHub *ws.WebSocketNotificationHub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func RegisterRoutes(rg *gin.RouterGroup) {
	handler := wsHandler{
		notificationHub: ws.NewNotificationHub(),
	}

	routes := rg.Group("/ws")
	routes.GET("/wallets/:id", middleware.VerifyAuthToken, handler.serveWs)
}

// serveWs streams refresh hints for one wallet's transactions. Clients
// re-read the record when a hint arrives; nothing authoritative travels
// over the socket.
func (wsh *wsHandler) serveWs(c *gin.Context) {
	walletId, err := strconv.ParseUint(c.Param("id"), 0, 64)
	if err != nil {
		return
	}
	topic := ws.WalletTopic(walletId)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Error upgrading ws connection")
		return
	}
	defer wsh.notificationHub.UnregisterListener(topic, conn)

	wsh.notificationHub.RegisterListener(topic, conn)

	for {
		var buffer any
		if err := conn.ReadJSON(&buffer); err != nil {
			log.Warn().Err(err).Msg("Error reading ws message")
			return
		}
	}
}
