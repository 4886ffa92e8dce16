package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/mariiahub/booking-reconciliation/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const testWebhookSecret = "whsec_test"

var completedEvent = []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","status":"complete","payment_status":"paid"}}}`)

func newWebhookRouter() (*mockReconciler, *memoryAuditStore, *gin.Engine) {
	logger := testLogger()
	reconciler := &mockReconciler{}
	store := &memoryAuditStore{}
	client := payment.NewClient(payment.Config{WebhookSecret: testWebhookSecret}, logger)

	h := NewWebhookHandler(client, reconciler, services.NewAuditRecorder(store, logger), logger)
	router := newRouter("")
	router.POST("/webhooks/payment", h.HandlePayment)
	return reconciler, store, router
}

func postWebhook(router *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(payment.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sign(payload []byte) string {
	return payment.SignPayload(testWebhookSecret, time.Now(), payload)
}

func TestWebhookHandlePayment(t *testing.T) {
	t.Run("ReconcilesSession", func(t *testing.T) {
		reconciler, store, router := newWebhookRouter()
		reconciler.On("Reconcile", mock.Anything, "cs_1", mock.MatchedBy(func(opts services.ReconcileOptions) bool {
			return opts.Source == models.PaymentSourceWebhook
		})).Return(&services.ReconcileResult{
			BookingID:     uuid.New(),
			Status:        models.BookingStatusConfirmed,
			PaymentStatus: models.PaymentStatusPaid,
		}, nil).Once()

		w := postWebhook(router, completedEvent, sign(completedEvent))

		assert.Equal(t, http.StatusOK, w.Code)
		var got struct {
			Received bool                     `json:"received"`
			Result   services.ReconcileResult `json:"result"`
		}
		decodeData(t, w, &got)
		assert.True(t, got.Received)
		assert.Equal(t, models.BookingStatusConfirmed, got.Result.Status)

		if assert.Len(t, store.entries, 1) {
			entry := store.entries[0]
			assert.Equal(t, models.PaymentEventWebhookReceived, entry.EventType)
			assert.Equal(t, "cs_1", *entry.SessionID)
			assert.Equal(t, "evt_1", entry.Details["event_id"])
		}
		reconciler.AssertExpectations(t)
	})

	t.Run("RejectsBadSignatures", func(t *testing.T) {
		tests := []struct {
			name      string
			signature string
		}{
			{"missing", ""},
			{"wrong secret", payment.SignPayload("whsec_other", time.Now(), completedEvent)},
			{"stale", payment.SignPayload(testWebhookSecret, time.Now().Add(-time.Hour), completedEvent)},
			{"garbage", "v1=zz"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				reconciler, store, router := newWebhookRouter()

				w := postWebhook(router, completedEvent, tt.signature)

				assert.Equal(t, http.StatusUnauthorized, w.Code)
				assert.Equal(t, "InvalidSignature", decodeError(t, w).Error.Kind)
				if assert.Len(t, store.entries, 1) {
					assert.Equal(t, models.PaymentEventWebhookRejected, store.entries[0].EventType)
				}
				reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("TamperedBody", func(t *testing.T) {
		reconciler, _, router := newWebhookRouter()
		tampered := bytes.Replace(completedEvent, []byte("cs_1"), []byte("cs_2"), 1)

		w := postWebhook(router, tampered, sign(completedEvent))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("EventWithoutSessionIsIgnored", func(t *testing.T) {
		reconciler, _, router := newWebhookRouter()
		payload := []byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`)

		w := postWebhook(router, payload, sign(payload))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"received":true,"ignored":true}}`, w.Body.String())
		reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("AcknowledgedOutcomes", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want string
		}{
			{"raced", kindErr(apperr.KindConflict, "booking changed concurrently"), `{"data":{"received":true}}`},
			{"unknown session", kindErr(apperr.KindUnknownSession, "no booking for payment session"), `{"data":{"received":true,"ignored":true}}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				reconciler, _, router := newWebhookRouter()
				reconciler.On("Reconcile", mock.Anything, "cs_1", mock.Anything).Return(nil, tt.err).Once()

				w := postWebhook(router, completedEvent, sign(completedEvent))

				assert.Equal(t, http.StatusOK, w.Code)
				assert.JSONEq(t, tt.want, w.Body.String())
			})
		}
	})

	t.Run("ProviderOutageAsksForRedelivery", func(t *testing.T) {
		reconciler, _, router := newWebhookRouter()
		reconciler.On("Reconcile", mock.Anything, "cs_1", mock.Anything).
			Return(nil, kindErr(apperr.KindProviderUnavailable, "payment provider unavailable")).Once()

		w := postWebhook(router, completedEvent, sign(completedEvent))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.True(t, decodeError(t, w).Error.Retryable)
	})

	t.Run("AuditFailureDoesNotBlock", func(t *testing.T) {
		reconciler, store, router := newWebhookRouter()
		store.err = errDatabase
		reconciler.On("Reconcile", mock.Anything, "cs_1", mock.Anything).
			Return(&services.ReconcileResult{BookingID: uuid.New(), Status: models.BookingStatusConfirmed}, nil).Once()

		w := postWebhook(router, completedEvent, sign(completedEvent))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
