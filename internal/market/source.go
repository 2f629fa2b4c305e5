package market

import (
	"context"
	"fmt"

	"marketsim/internal/config"
	"marketsim/internal/market/binance"
	"marketsim/internal/market/cryptocompare"
	"marketsim/internal/market/synthetic"
	"marketsim/internal/models"
)

// Source is the candle acquisition capability. Both the network adapters and
// the deterministic synthesizer satisfy it; callers are agnostic to which
// implementation backs it.
type Source interface {
	FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, startMs, endMs int64) ([]models.Candle, error)
}

// NewSource selects the source implementation once from configuration. When
// no live provider is configured the synthesizer backs all reads.
func NewSource(cfg *config.Config) (Source, error) {
	switch cfg.Provider {
	case config.ProviderSynthetic, "":
		return synthetic.NewSynthesizer(), nil
	case config.ProviderCryptoCompare:
		return cryptocompare.NewClient(cryptocompare.Config{
			BaseURL:        cfg.ProviderBaseURL,
			APIKey:         cfg.ProviderAPIKey,
			PageSize:       cfg.ProviderPageSize,
			ThrottleDelay:  cfg.ProviderThrottle,
			RequestTimeout: cfg.ProviderTimeout,
			MaxAttempts:    cfg.ProviderMaxAttempts,
		}), nil
	case config.ProviderBinance:
		return binance.NewClient(), nil
	default:
		return nil, fmt.Errorf("unknown market data provider: %q", cfg.Provider)
	}
}
