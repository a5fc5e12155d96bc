package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

func newTestCircle(t *testing.T, handler http.HandlerFunc) *Circle {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCircle("test-key", srv.URL, logger.NewNop())
}

func TestCircleCreatePayment(t *testing.T) {
	circle := newTestCircle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "idem-1", body["idempotencyKey"])
		assert.Equal(t, map[string]interface{}{"id": "card-1", "type": "card"}, body["source"])
		assert.Equal(t, map[string]interface{}{"amount": "10.00", "currency": "USD"}, body["amount"])

		_, _ = w.Write([]byte(`{"data":{"id":"pay-1","status":"pending","amount":{"amount":"10.00","currency":"USD"}}}`))
	})

	payment, err := circle.CreatePayment(context.Background(), models.CardPaymentRequest{
		IdempotencyKey: "idem-1",
		CardID:         "card-1",
		Amount:         models.Money{Amount: "10.00", Currency: "USD"},
		Email:          "fan@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", payment.ID)
	assert.Equal(t, "pending", payment.Status)
	assert.Equal(t, "10.00", payment.Amount.Amount)
}

func TestCircleErrorMessage(t *testing.T) {
	circle := newTestCircle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":2,"message":"Invalid entity"}`))
	})

	_, err := circle.GetPayment(context.Background(), "pay-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid entity")
}

func TestCircleMissingKey(t *testing.T) {
	circle := NewCircle("", "http://127.0.0.1:0", logger.NewNop())
	_, err := circle.GetTransfer(context.Background(), "tr-1")
	assert.ErrorIs(t, err, models.ErrNotConfigured)
}

func TestCircleMasterWallet(t *testing.T) {
	circle := newTestCircle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/configuration", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"payments":{"masterWalletId":"1000216185"}}}`))
	})

	id, err := circle.MasterWalletID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000216185", id)
}

func TestCircleNotificationKeyIsCached(t *testing.T) {
	var calls atomic.Int32
	circle := newTestCircle(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v2/notifications/publicKey/key-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"id":"key-1","algorithm":"ECDSA_SHA_256","publicKey":"MFkw"}}`))
	})

	for i := 0; i < 2; i++ {
		key, err := circle.NotificationPublicKey(context.Background(), "key-1")
		require.NoError(t, err)
		assert.Equal(t, "MFkw", key)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircleRecipientAndTransfer(t *testing.T) {
	circle := newTestCircle(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/addressBook/recipients":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "NEAR", body["chain"])
			assert.Equal(t, "treasury.near", body["address"])
			_, _ = w.Write([]byte(`{"data":{"id":"rcp-1","status":"pending","address":"treasury.near"}}`))
		case "/v1/transfers":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]interface{}{"type": "wallet", "id": "1000216185"}, body["source"])
			assert.Equal(t, map[string]interface{}{"type": "address_book", "id": "rcp-1"}, body["destination"])
			_, _ = w.Write([]byte(`{"data":{"id":"tr-1","status":"pending"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	recipient, err := circle.CreateRecipient(context.Background(), "idem-r", "NEAR", "treasury.near", "ops@1000fans.xyz")
	require.NoError(t, err)
	assert.Equal(t, "rcp-1", recipient.ID)
	assert.Equal(t, "treasury.near", recipient.Address)

	transfer, err := circle.CreateTransfer(context.Background(), models.TransferRequest{
		IdempotencyKey: "idem-t",
		WalletID:       "1000216185",
		RecipientID:    recipient.ID,
		Amount:         models.Money{Amount: "10.00", Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tr-1", transfer.ID)
	assert.Equal(t, "pending", transfer.Status)
}
