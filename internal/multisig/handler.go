package multisig

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/middleware"
	"github.com/asmadek/omni-mst-backend/internal/pkg/reject"
)

type walletHandler struct {
	walletService *WalletService
}

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB, msg messaging.Client, ss58Prefix uint16) *WalletService {
	service := &WalletService{
		Db:         db,
		Messaging:  msg,
		SS58Prefix: ss58Prefix,
	}
	handler := walletHandler{walletService: service}

	routes := rg.Group("/wallets")
	routes.GET("", middleware.VerifyAuthToken, handler.getWallets)
	routes.POST("", middleware.VerifyAuthToken, handler.createWallet)
	routes.GET("/:id", middleware.VerifyAuthToken, handler.getWallet)
	routes.POST("/:id/room", middleware.VerifyAuthToken, handler.attachRoom)
	routes.DELETE("/:id", middleware.VerifyAuthToken, handler.forgetWallet)

	return service
}

func (wh *walletHandler) getWallets(c *gin.Context) {
	wallets, err := wh.walletService.ListWallets()
	if err != nil {
		log.Warn().Err(err.Cause).Msg("Trouble listing wallets")
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, wallets)
}

func (wh *walletHandler) getWallet(c *gin.Context) {
	walletId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	wallet, err := wh.walletService.FindById(walletId)
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, wallet)
}

func (wh *walletHandler) createWallet(c *gin.Context) {
	body := CreateWalletRequest{}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, reject.BodyParseProblem())
		return
	}

	wallet, err := wh.walletService.CreateWallet(c.Request.Context(), body)
	if err != nil {
		log.Warn().Err(err.Cause).Msg("Trouble creating multisig wallet")
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusCreated, wallet)
}

func (wh *walletHandler) attachRoom(c *gin.Context) {
	walletId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	body := AttachRoomRequest{}
	if err := c.BindJSON(&body); err != nil || body.RoomId == "" {
		c.JSON(http.StatusBadRequest, reject.BodyParseProblem())
		return
	}

	if err := wh.walletService.AttachRoom(walletId, body.RoomId); err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.Status(http.StatusNoContent)
}

func (wh *walletHandler) forgetWallet(c *gin.Context) {
	walletId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	if err := wh.walletService.ForgetWallet(walletId); err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.Status(http.StatusNoContent)
}
