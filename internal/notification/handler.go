package notification

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/asmadek/omni-mst-backend/internal/multisig"
	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/middleware"
	"github.com/asmadek/omni-mst-backend/internal/pkg/reject"
)

type notificationHandler struct {
	notificationService *Service
}

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB, msg messaging.Client, wallets *multisig.WalletService) *Service {
	service := &Service{
		Db:        db,
		Messaging: msg,
		Wallets:   wallets,
	}
	handler := notificationHandler{notificationService: service}

	routes := rg.Group("/notifications")
	routes.GET("", middleware.VerifyAuthToken, handler.getNotifications)
	routes.POST("/:id/read", middleware.VerifyAuthToken, handler.markRead)
	routes.POST("/:id/accept", middleware.VerifyAuthToken, handler.acceptInvite)

	return service
}

func (nh *notificationHandler) getNotifications(c *gin.Context) {
	onlyUnread := c.Query("unread") == "true"

	records, err := nh.notificationService.List(onlyUnread)
	if err != nil {
		log.Warn().Err(err.Cause).Msg("Trouble listing notifications")
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, records)
}

func (nh *notificationHandler) markRead(c *gin.Context) {
	notificationId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	if err := nh.notificationService.MarkRead(notificationId); err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.Status(http.StatusNoContent)
}

func (nh *notificationHandler) acceptInvite(c *gin.Context) {
	notificationId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	wallet, err := nh.notificationService.AcceptInvite(c.Request.Context(), notificationId)
	if err != nil {
		log.Warn().Err(err.Cause).Msg("Trouble accepting room invite")
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusCreated, wallet)
}
