package backend

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/middleware"
	"github.com/nkiryanov/stocksim/internal/models"
	"github.com/nkiryanov/stocksim/internal/testutil"
	"github.com/nkiryanov/stocksim/internal/tokenstore/memory"
)

type rejectorFunc func(ctx context.Context, usedToken string)

func (f rejectorFunc) HandleUnauthorized(ctx context.Context, usedToken string) {
	f(ctx, usedToken)
}

func TestAPIClient(t *testing.T) {
	fb := testutil.NewFakeBackend(t, nil)
	fb.AddUser("abebe", "secret", newTrader())
	fb.Stocks = []models.Stock{
		{ID: 1, TickerSymbol: "ETHT", CompanyName: "Ethio Telecom", CurrentPrice: decimal.RequireFromString("300.00"), AvailableShares: 1000},
		{ID: 2, TickerSymbol: "DASH", CompanyName: "Dashen Bank", CurrentPrice: decimal.RequireFromString("120.50"), AvailableShares: 250},
	}
	price := decimal.RequireFromString("299.99")
	fb.Orders = []models.Order{
		{ID: 10, StockSymbol: "ETHT", OrderType: "Limit", Action: "Buy", Price: &price, Quantity: 5, Status: "Pending"},
	}

	store := memory.New(memory.NewBackend())
	t.Cleanup(func() { store.Close() }) // nolint:errcheck

	var rejected []string
	rejector := rejectorFunc(func(ctx context.Context, usedToken string) {
		rejected = append(rejected, usedToken)
	})

	auth := NewAuthClient(fb.URL, logger.NewNoOpLogger())
	api := NewAPIClient(fb.URL, logger.NewNoOpLogger(), middleware.Auth(store, rejector))

	t.Run("anonymous rejected", func(t *testing.T) {
		rejected = nil

		_, err := api.Stocks(t.Context())

		require.True(t, apperrors.IsUnauthorized(err), "401 must reach caller, got %v", err)
		require.Equal(t, []string{""}, rejected)
	})

	lr, err := auth.Login(t.Context(), models.Credentials{Username: "abebe", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, store.Set(t.Context(), models.KeyAccessToken, lr.Access))

	t.Run("stocks", func(t *testing.T) {
		rejected = nil

		stocks, err := api.Stocks(t.Context())

		require.NoError(t, err)
		require.Len(t, stocks, 2)
		require.Equal(t, "ETHT", stocks[0].TickerSymbol)
		require.True(t, stocks[1].CurrentPrice.Equal(decimal.RequireFromString("120.5")))
		require.Equal(t, "Bearer "+lr.Access, fb.Authorization(testutil.PathStocks))
		require.Empty(t, rejected)
	})

	t.Run("orders", func(t *testing.T) {
		orders, err := api.UserOrders(t.Context())

		require.NoError(t, err)
		require.Len(t, orders, 1)
		require.NotNil(t, orders[0].Price)
		require.True(t, orders[0].Price.Equal(price))
	})

	t.Run("token of previous login rejected", func(t *testing.T) {
		rejected = nil
		_, err := auth.Login(t.Context(), models.Credentials{Username: "abebe", Password: "secret"})
		require.NoError(t, err)

		_, err = api.UserOrders(t.Context())

		var statusErr *apperrors.StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusUnauthorized, statusErr.Status)
		require.Equal(t, []string{lr.Access}, rejected)
	})
}
