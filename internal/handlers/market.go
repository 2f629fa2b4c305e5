package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketsim/internal/market"
	"marketsim/internal/models"
)

type MarketHandler struct {
	source market.Source
}

func NewMarketHandler(source market.Source) *MarketHandler {
	return &MarketHandler{source: source}
}

// CandlesResponse is the payload for historical candle queries.
type CandlesResponse struct {
	Symbol    string           `json:"symbol"`
	Timeframe models.Timeframe `json:"timeframe"`
	Candles   []models.Candle  `json:"candles"`
}

// GetCandles handles GET /api/v1/market/candles requests.
func (h *MarketHandler) GetCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol parameter is required"})
		return
	}

	tf, err := models.ParseTimeframe(c.DefaultQuery("timeframe", "1h"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe. Valid timeframes: 1m, 15m, 1h, 1d"})
		return
	}

	startMs, err := strconv.ParseInt(c.Query("startMs"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startMs parameter is required"})
		return
	}
	endMs, err := strconv.ParseInt(c.Query("endMs"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endMs parameter is required"})
		return
	}

	candles, err := h.source.FetchCandles(c.Request.Context(), symbol, tf, startMs, endMs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, CandlesResponse{
		Symbol:    symbol,
		Timeframe: tf,
		Candles:   candles,
	})
}
