package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wavemine-server/internal/service"
)

// AccountHandler exposes balances and the NFT shop.
type AccountHandler struct {
	shop    *service.NFTShopService
	balance *service.BalanceService
}

// NewAccountHandler creates a new AccountHandler instance.
func NewAccountHandler(shop *service.NFTShopService, balance *service.BalanceService) *AccountHandler {
	return &AccountHandler{shop: shop, balance: balance}
}

// Balance handles GET /balance.
func (h *AccountHandler) Balance(c *gin.Context) {
	balance, err := h.balance.Get(c.Request.Context(), currentUser(c))
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// History handles GET /balance/history.
func (h *AccountHandler) History(c *gin.Context) {
	txs, err := h.balance.History(c.Request.Context(), currentUser(c), 50)
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Catalog handles GET /nfts.
func (h *AccountHandler) Catalog(c *gin.Context) {
	nfts, err := h.shop.Catalog(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"nfts": nfts})
}

// Purchase handles POST /nfts/:id/purchase.
func (h *AccountHandler) Purchase(c *gin.Context) {
	nftID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nft id"})
		return
	}

	nft, err := h.shop.Purchase(c.Request.Context(), currentUser(c), nftID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNFTNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown nft"})
		case errors.Is(err, service.ErrInsufficientBalance):
			c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
		case errors.Is(err, service.ErrAlreadyOwned):
			c.JSON(http.StatusBadRequest, gin.H{"error": "nft already owned"})
		default:
			internalError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "nft": nft})
}
