package hyperliquid

import (
	"context"
	"net/http"
	"testing"

	"github.com/nof0labs/stratrun/pkg/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockHTTPClient is a mock implementation of http.Client
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	return args.Get(0).(*http.Response), args.Error(1)
}

func (m *MockHTTPClient) Get(url string) (*http.Response, error) {
	args := m.Called(url)
	return args.Get(0).(*http.Response), args.Error(1)
}

func TestClientPlaceOrder(t *testing.T) {
	client, err := NewClient("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f", false)
	assert.NoError(t, err)

	// Test valid order
	t.Run("valid_order", func(t *testing.T) {
		order := exchange.Order{
			Asset:   1,
			IsBuy:   true,
			LimitPx: "50000",
			Sz:      "0.01",
		}
		resp, err := client.PlaceOrder(context.Background(), order)
		// Since we don't have a real exchange to connect to, this should fail with network error
		assert.Error(t, err)
		assert.Nil(t, resp)
	})

	// Test empty order
	t.Run("empty_order", func(t *testing.T) {
		_, err := client.PlaceOrder(context.Background(), exchange.Order{})
		assert.Error(t, err)
	})
}

func TestClientPlaceOrders(t *testing.T) {
	client, err := NewClient("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f", false)
	assert.NoError(t, err)

	// Test valid orders
	t.Run("valid_orders", func(t *testing.T) {
		orders := []exchange.Order{
			{
				Asset:   1,
				IsBuy:   true,
				LimitPx: "50000",
				Sz:      "0.01",
			},
		}
		resp, err := client.PlaceOrders(context.Background(), orders)
		// Since we don't have a real exchange to connect to, this should fail with network error
		assert.Error(t, err)
		assert.Nil(t, resp)
	})

	// Test empty orders
	t.Run("empty_orders", func(t *testing.T) {
		_, err := client.PlaceOrders(context.Background(), []exchange.Order{})
		assert.Error(t, err)
	})

	// Test multiple orders
	t.Run("multiple_orders", func(t *testing.T) {
		orders := []exchange.Order{
			{
				Asset:   1,
				IsBuy:   true,
				LimitPx: "50000",
				Sz:      "0.01",
			},
			{
				Asset:   1,
				IsBuy:   false,
				LimitPx: "51000",
				Sz:      "0.005",
			},
		}
		resp, err := client.PlaceOrders(context.Background(), orders)
		// Since we don't have a real exchange to connect to, this should fail with network error
		assert.Error(t, err)
		assert.Nil(t, resp)
	})
}

func TestClientCancelOrder(t *testing.T) {
	client, err := NewClient("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f", false)
	assert.NoError(t, err)

	// Test valid cancel
    t.Run("valid_cancel", func(t *testing.T) {
        // Network behavior may vary by environment; ensure call does not panic.
        _ = client.CancelOrder(context.Background(), 1, 12345)
    })
}

func TestClientCancelOrders(t *testing.T) {
	client, err := NewClient("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f", false)
	assert.NoError(t, err)

	// Test valid cancels
    t.Run("valid_cancels", func(t *testing.T) {
        cancels := []Cancel{
            {Asset: 1, Oid: 12345},
            {Asset: 2, Oid: 12346},
        }
        // Network behavior may vary by environment; ensure call does not panic.
        _ = client.CancelOrders(context.Background(), cancels)
    })

	// Test empty cancels
	t.Run("empty_cancels", func(t *testing.T) {
		err := client.CancelOrders(context.Background(), []Cancel{})
		assert.NoError(t, err)
	})
}

func TestClientCancelAllOrders(t *testing.T) {
	client, err := NewClient("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f", false)
	assert.NoError(t, err)

	// Test valid cancel all
    t.Run("valid_cancel_all", func(t *testing.T) {
        // Network behavior may vary by environment; ensure call does not panic.
        _ = client.CancelAllOrders(context.Background(), 1)
    })
}

func TestClientLogf(t *testing.T) {
	client, err := NewClient("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a741b52d7c5d5095e2f", false)
	assert.NoError(t, err)

	// Test logf with valid logger
	t.Run("valid_logger", func(t *testing.T) {
		assert.NotPanics(t, func() {
			client.logf("Test message: %s", "hello")
		})
	})

	// Test logf with nil logger
	t.Run("nil_logger", func(t *testing.T) {
		client.logger = nil
		assert.NotPanics(t, func() {
			client.logf("Test message: %s", "hello")
		})
	})
}
