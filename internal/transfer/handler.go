package transfer

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/asmadek/omni-mst-backend/internal/pkg/middleware"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
	"github.com/asmadek/omni-mst-backend/internal/pkg/reject"
	"github.com/asmadek/omni-mst-backend/internal/pkg/utils"
)

type transferHandler struct {
	transferService *Service
}

func RegisterRoutes(rg *gin.RouterGroup, service *Service) {
	handler := transferHandler{transferService: service}

	routes := rg.Group("/transfers")
	routes.POST("", middleware.VerifyAuthToken, handler.createTransfer)
	routes.GET("", middleware.VerifyAuthToken, handler.getTransfers)
	routes.GET("/:id", middleware.VerifyAuthToken, handler.getTransfer)
	routes.PUT("/:id/call-data", middleware.VerifyAuthToken, handler.attachCallData)
	routes.POST("/:id/broadcast", middleware.VerifyAuthToken, handler.broadcast)
	routes.DELETE("/:id", middleware.VerifyAuthToken, handler.removeTransfer)
}

func (th *transferHandler) createTransfer(c *gin.Context) {
	body := CreateTransferRequest{}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, reject.BodyParseProblem())
		return
	}

	record, err := th.transferService.CreateTransfer(c.Request.Context(), body)
	if err != nil {
		log.Warn().Err(err.Cause).Msg("Trouble creating transfer")
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (th *transferHandler) getTransfers(c *gin.Context) {
	page, err := utils.NewPageRequest(c)
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	walletId, _ := strconv.ParseUint(c.Query("wallet_id"), 0, 64)

	records, count, err := th.transferService.ListTransfers(page, walletId)
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	response := utils.NewPageResponse[model.Transaction]().
		WithItems(records).
		WithItemCount(count)

	if count > int64((page.Token+1)*page.Size) {
		response.WithNextPageToken(int64(page.Token + 1))
	}

	c.JSON(http.StatusOK, response.Build())
}

func (th *transferHandler) getTransfer(c *gin.Context) {
	transactionId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	view, err := th.transferService.GetTransfer(c.Request.Context(), transactionId, c.Query("signer"))
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (th *transferHandler) attachCallData(c *gin.Context) {
	transactionId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	body := AttachCallDataRequest{}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, reject.BodyParseProblem())
		return
	}

	record, err := th.transferService.AttachCallData(c.Request.Context(), transactionId, body.CallData)
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (th *transferHandler) broadcast(c *gin.Context) {
	transactionId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	body := BroadcastRequest{}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, reject.BodyParseProblem())
		return
	}

	hash, err := th.transferService.Broadcast(c.Request.Context(), transactionId, body.SignedExtrinsic, body.SenderKey)
	if err != nil {
		log.Warn().Err(err.Cause).Msg("Trouble broadcasting extrinsic")
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, gin.H{"extrinsicHash": hash})
}

func (th *transferHandler) removeTransfer(c *gin.Context) {
	transactionId, parseErr := strconv.ParseUint(c.Param("id"), 0, 64)
	if parseErr != nil {
		c.JSON(http.StatusBadRequest, reject.RequestParamsProblem())
		return
	}

	if err := th.transferService.RemoveTransfer(c.Request.Context(), transactionId); err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.Status(http.StatusNoContent)
}
