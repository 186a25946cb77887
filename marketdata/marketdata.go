// Package marketdata provides price lookups for the research tools. Quotes
// come from the Yahoo Finance feed; lookups retry transient failures under a
// bounded backoff policy and multi-symbol requests fan out concurrently while
// preserving request order in the result.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/martinemde/autovest/backoff"
)

// Quote is one price observation.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	MarketInfo string          `json:"market_info"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Service fetches quotes.
type Service struct {
	retry backoff.Policy
	log   *slog.Logger

	// fetch is swappable for tests; defaults to the Yahoo feed.
	fetch func(symbol string) (*Quote, error)
}

// NewService creates a quote service with the given retry policy.
func NewService(retry backoff.Policy, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if retry.MaxRetries == 0 {
		retry = backoff.DefaultPolicy()
	}
	return &Service{retry: retry, log: log, fetch: fetchYahoo}
}

func fetchYahoo(symbol string) (*Quote, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if q == nil {
		return nil, fmt.Errorf("quote %s: no data", symbol)
	}
	return &Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromFloat(q.RegularMarketPrice),
		Currency:   q.CurrencyID,
		MarketInfo: fmt.Sprintf("%s (%s)", q.FullExchangeName, q.MarketState),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	if symbol == "" {
		return "", fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 10 {
		return "", fmt.Errorf("symbol too long: %s", symbol)
	}
	return symbol, nil
}

// GetPrice returns the current quote for one symbol.
func (s *Service) GetPrice(ctx context.Context, symbol string) (*Quote, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return backoff.Retry(ctx, s.retry, func(ctx context.Context) (*Quote, error) {
		return s.fetch(symbol)
	})
}

// priceResult pairs a quote with its slot in the request order.
type priceResult struct {
	idx   int
	quote *Quote
	err   error
}

// GetPrices fetches quotes for several symbols concurrently. Results come
// back in request order; a failed symbol yields a nil entry and the combined
// error names every failure.
func (s *Service) GetPrices(ctx context.Context, symbols []string) ([]*Quote, error) {
	quotes := make([]*Quote, len(symbols))
	results := make(chan priceResult, len(symbols))

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(idx int, symbol string) {
			defer wg.Done()
			q, err := s.GetPrice(ctx, symbol)
			results <- priceResult{idx: idx, quote: q, err: err}
		}(i, symbol)
	}
	wg.Wait()
	close(results)

	var failures []string
	for r := range results {
		if r.err != nil {
			failures = append(failures, r.err.Error())
			continue
		}
		quotes[r.idx] = r.quote
	}
	if len(failures) > 0 {
		return quotes, fmt.Errorf("price lookup: %s", strings.Join(failures, "; "))
	}
	return quotes, nil
}
