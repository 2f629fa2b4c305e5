package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/market/synthetic"
	"marketsim/internal/models"
)

type failingSource struct{}

func (failingSource) FetchCandles(context.Context, string, models.Timeframe, int64, int64) ([]models.Candle, error) {
	return nil, errors.New("upstream unavailable")
}

func marketRouter(h *MarketHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/v1/market/candles", h.GetCandles)
	return router
}

func getCandles(router *gin.Engine, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/candles?"+query, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetCandles(t *testing.T) {
	router := marketRouter(NewMarketHandler(synthetic.NewSynthesizer()))

	width := models.Timeframe15m.DurationMs()
	w := getCandles(router, fmt.Sprintf("symbol=BTCUSDT&timeframe=15m&startMs=0&endMs=%d", 12*width))
	require.Equal(t, http.StatusOK, w.Code)

	var resp CandlesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "BTCUSDT", resp.Symbol)
	assert.Equal(t, models.Timeframe15m, resp.Timeframe)
	require.Len(t, resp.Candles, 12)
	assert.Equal(t, int64(0), resp.Candles[0].TimestampMs)
}

func TestGetCandlesDefaultTimeframe(t *testing.T) {
	router := marketRouter(NewMarketHandler(synthetic.NewSynthesizer()))

	width := models.Timeframe1h.DurationMs()
	w := getCandles(router, fmt.Sprintf("symbol=ETHUSDT&startMs=0&endMs=%d", 3*width))
	require.Equal(t, http.StatusOK, w.Code)

	var resp CandlesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.Timeframe1h, resp.Timeframe)
	assert.Len(t, resp.Candles, 3)
}

func TestGetCandlesValidation(t *testing.T) {
	router := marketRouter(NewMarketHandler(synthetic.NewSynthesizer()))

	assert.Equal(t, http.StatusBadRequest, getCandles(router, "startMs=0&endMs=1000").Code)
	assert.Equal(t, http.StatusBadRequest, getCandles(router, "symbol=BTCUSDT&timeframe=2h&startMs=0&endMs=1000").Code)
	assert.Equal(t, http.StatusBadRequest, getCandles(router, "symbol=BTCUSDT&endMs=1000").Code)
	assert.Equal(t, http.StatusBadRequest, getCandles(router, "symbol=BTCUSDT&startMs=0").Code)
}

func TestGetCandlesSourceFailure(t *testing.T) {
	router := marketRouter(NewMarketHandler(failingSource{}))

	w := getCandles(router, "symbol=BTCUSDT&startMs=0&endMs=3600000")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
