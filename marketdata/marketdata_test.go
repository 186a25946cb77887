package marketdata

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/martinemde/autovest/backoff"
)

func fastService(fetch func(symbol string) (*Quote, error)) *Service {
	s := NewService(backoff.Policy{MaxRetries: 2, BaseDelay: 0.001, Multiplier: 1, MaxDelay: 0.001}, nil)
	s.fetch = fetch
	return s
}

func TestGetPriceNormalizesSymbol(t *testing.T) {
	var gotSymbol string
	s := fastService(func(symbol string) (*Quote, error) {
		gotSymbol = symbol
		return &Quote{Symbol: symbol, Price: decimal.NewFromInt(100)}, nil
	})

	q, err := s.GetPrice(context.Background(), "  aapl ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSymbol != "AAPL" {
		t.Errorf("expected normalized symbol AAPL, got %q", gotSymbol)
	}
	if q.Price.String() != "100" {
		t.Errorf("unexpected price %s", q.Price)
	}
}

func TestGetPriceRejectsInvalidSymbols(t *testing.T) {
	s := fastService(func(symbol string) (*Quote, error) {
		t.Fatal("fetch should not be called")
		return nil, nil
	})

	for _, bad := range []string{"", "   ", "WAYTOOLONGSYMBOL"} {
		if _, err := s.GetPrice(context.Background(), bad); err == nil {
			t.Errorf("GetPrice(%q): expected error", bad)
		}
	}
}

func TestGetPriceRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	s := fastService(func(symbol string) (*Quote, error) {
		if calls.Add(1) < 3 {
			return nil, fmt.Errorf("feed unavailable")
		}
		return &Quote{Symbol: symbol, Price: decimal.NewFromInt(42)}, nil
	})

	q, err := s.GetPrice(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price.String() != "42" {
		t.Errorf("unexpected price %s", q.Price)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGetPricesPreservesRequestOrder(t *testing.T) {
	prices := map[string]int64{"AAPL": 175, "MSFT": 400, "TSLA": 250}
	s := fastService(func(symbol string) (*Quote, error) {
		return &Quote{Symbol: symbol, Price: decimal.NewFromInt(prices[symbol])}, nil
	})

	quotes, err := s.GetPrices(context.Background(), []string{"TSLA", "AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"TSLA", "AAPL", "MSFT"}
	for i, symbol := range want {
		if quotes[i] == nil || quotes[i].Symbol != symbol {
			t.Errorf("slot %d: expected %s, got %+v", i, symbol, quotes[i])
		}
	}
}

func TestGetPricesReportsPartialFailure(t *testing.T) {
	s := fastService(func(symbol string) (*Quote, error) {
		if symbol == "BAD" {
			return nil, fmt.Errorf("quote BAD: no data")
		}
		return &Quote{Symbol: symbol, Price: decimal.NewFromInt(1)}, nil
	})

	quotes, err := s.GetPrices(context.Background(), []string{"AAPL", "BAD"})
	if err == nil {
		t.Fatal("expected combined error")
	}
	if quotes[0] == nil || quotes[0].Symbol != "AAPL" {
		t.Errorf("expected successful first slot, got %+v", quotes[0])
	}
	if quotes[1] != nil {
		t.Errorf("expected nil slot for failed symbol, got %+v", quotes[1])
	}
}
