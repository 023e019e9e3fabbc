package handle

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koinu-labs/kins/dao"
	"github.com/koinu-labs/kins/inscription/server/handle/api"
	"github.com/koinu-labs/kins/swap"
)

type marketListReq struct {
	AssetId    string `json:"asset_id" binding:"required"`
	Collection string `json:"collection"`
	Seller     string `json:"seller" binding:"required"`
	Price      uint64 `json:"price" binding:"required,gt=0"`
	Psbt       string `json:"psbt" binding:"required"`
}

func (h *Handler) MarketList(ctx *gin.Context) {
	req := &marketListReq{}
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodeParamsInvalid, err.Error()))
		return
	}
	event, err := h.options.market.List(ctx, &swap.ListRequest{
		AssetId:    req.AssetId,
		Collection: req.Collection,
		Seller:     req.Seller,
		Price:      req.Price,
		Psbt:       req.Psbt,
	})
	if err != nil {
		h.marketErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(event))
}

type marketBuyReq struct {
	AssetId     string `json:"asset_id" binding:"required"`
	Buyer       string `json:"buyer" binding:"required"`
	Destination string `json:"destination"`
	Price       uint64 `json:"price" binding:"required,gt=0"`
}

func (h *Handler) MarketBuy(ctx *gin.Context) {
	req := &marketBuyReq{}
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodeParamsInvalid, err.Error()))
		return
	}
	event, err := h.options.market.Buy(ctx, &swap.BuyRequest{
		AssetId:     req.AssetId,
		Buyer:       req.Buyer,
		Destination: req.Destination,
		Price:       req.Price,
	})
	if err != nil {
		h.marketErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(event))
}

type marketUnlistReq struct {
	AssetId string `json:"asset_id" binding:"required"`
	Caller  string `json:"caller" binding:"required"`
}

func (h *Handler) MarketUnlist(ctx *gin.Context) {
	req := &marketUnlistReq{}
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodeParamsInvalid, err.Error()))
		return
	}
	event, err := h.options.market.Unlist(ctx, req.AssetId, req.Caller)
	if err != nil {
		h.marketErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(event))
}

type marketSendReq struct {
	AssetId string `json:"asset_id" binding:"required"`
	From    string `json:"from" binding:"required"`
	To      string `json:"to" binding:"required"`
}

func (h *Handler) MarketSend(ctx *gin.Context) {
	req := &marketSendReq{}
	if err := ctx.ShouldBindJSON(req); err != nil {
		ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodeParamsInvalid, err.Error()))
		return
	}
	event, err := h.options.market.Send(ctx, &swap.SendRequest{
		AssetId: req.AssetId,
		From:    req.From,
		To:      req.To,
	})
	if err != nil {
		h.marketErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(event))
}

func (h *Handler) MarketStatus(ctx *gin.Context) {
	event, err := h.options.market.Status(ctx.Param("assetId"))
	if err != nil {
		if dao.IsRecordNotFound(err) {
			ctx.JSON(http.StatusNotFound, api.RespErr(api.CodeNotFound, "asset not tracked"))
			return
		}
		ctx.JSON(http.StatusInternalServerError, api.RespErr(api.CodeDbError, err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(event))
}

func (h *Handler) CollectionSold(ctx *gin.Context) {
	events, err := h.options.market.SoldByCollection(ctx.Param("slug"))
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, api.RespErr(api.CodeDbError, err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(events))
}

func (h *Handler) marketErr(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, swap.ErrPriceTamper):
		ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodePriceTamper, err.Error()))
	case errors.Is(err, swap.ErrNotListed):
		ctx.JSON(http.StatusNotFound, api.RespErr(api.CodeNotListed, err.Error()))
	case errors.Is(err, swap.ErrNotSeller):
		ctx.JSON(http.StatusForbidden, api.RespErr(api.CodeNotSeller, err.Error()))
	case errors.Is(err, swap.ErrInsufficientFunds):
		ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodeInsufficientFunds, err.Error()))
	default:
		ctx.JSON(http.StatusInternalServerError, api.RespErr(api.CodeError500, err.Error()))
	}
}
