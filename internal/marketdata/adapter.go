package marketdata

import "context"

// ExchangeApiAdapter is the external collaborator that fetches live/historical
// market data from an exchange-style API. The engine treats it only as an
// injected capability interface; no concrete implementation lives
// in this module.
type ExchangeApiAdapter interface {
	GetBars(ctx context.Context, symbol string, tf Timeframe, r TimeRange) (BarFrame, error)
	GetTicks(ctx context.Context, symbol string, r TimeRange, tt TickType) (TickFrame, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	ServerName() string
}
