package backend

import (
	"context"
	"net/http"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/middleware"
	"github.com/nkiryanov/stocksim/internal/models"
)

// APIClient calls protected endpoints
// Authentication is done by interceptors, usually middleware.Auth
type APIClient struct {
	client
}

func NewAPIClient(addr string, l logger.Logger, interceptors ...middleware.Interceptor) *APIClient {
	return &APIClient{
		client: client{
			addr:   addr,
			http:   &http.Client{Transport: middleware.Chain(nil, interceptors...)},
			logger: l.With("component", "api_client"),
		},
	}
}

func (c *APIClient) Stocks(ctx context.Context) ([]models.Stock, error) {
	var stocks []models.Stock
	err := c.get(ctx, "/stocks/stocks/", &stocks)
	return stocks, err
}

func (c *APIClient) UserOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := c.get(ctx, "/stocks/user/orders/", &orders)
	return orders, err
}

func (c *APIClient) get(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Protected call failed", "path", path, "status_code", resp.StatusCode)
		return &apperrors.StatusError{Status: resp.StatusCode, Body: readDetail(resp)}
	}

	return c.decode(resp, v)
}
