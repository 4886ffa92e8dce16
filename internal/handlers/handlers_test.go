package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/internal/middleware"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSlot = models.Slot{
	StartsAt: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
	EndsAt:   time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC),
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// withUser simulates AuthMiddleware for the given user; "" leaves the
// request anonymous
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.UserContextKey, middleware.UserContext{UserID: userID})
		}
		c.Next()
	}
}

func newRouter(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID(), withUser(userID))
	return router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Kind      string         `json:"kind"`
		Message   string         `json:"message"`
		Retryable bool           `json:"retryable"`
		Details   map[string]any `json:"details"`
		RequestID string         `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// ----------------------------------------------------------------------------
// mocks
// ----------------------------------------------------------------------------

type mockHoldManager struct{ mock.Mock }

func (m *mockHoldManager) CreateHold(ctx context.Context, req services.CreateHoldRequest) (*models.Hold, error) {
	args := m.Called(ctx, req)
	if h := args.Get(0); h != nil {
		return h.(*models.Hold), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCheckout struct{ mock.Mock }

func (m *mockCheckout) Checkout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*services.CheckoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) GetBookingForUser(ctx context.Context, id uuid.UUID, userID string) (*models.Booking, error) {
	args := m.Called(ctx, id, userID)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookings) FindBySession(ctx context.Context, sessionID string) (*models.Booking, error) {
	args := m.Called(ctx, sessionID)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockReconciler struct{ mock.Mock }

func (m *mockReconciler) Reconcile(ctx context.Context, sessionID string, opts services.ReconcileOptions) (*services.ReconcileResult, error) {
	args := m.Called(ctx, sessionID, opts)
	if r := args.Get(0); r != nil {
		return r.(*services.ReconcileResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReconciler) Cancel(ctx context.Context, bookingID uuid.UUID, actorUserID, reason string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, actorUserID, reason)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReconciler) GetPackageGrant(ctx context.Context, bookingID uuid.UUID, userID string) (*models.PackageGrant, error) {
	args := m.Called(ctx, bookingID, userID)
	if g := args.Get(0); g != nil {
		return g.(*models.PackageGrant), args.Error(1)
	}
	return nil, args.Error(1)
}

type memoryAuditStore struct {
	mu      sync.Mutex
	entries []models.PaymentAudit
	err     error
}

func (s *memoryAuditStore) Log(ctx context.Context, audit *models.PaymentAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *audit)
	return s.err
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

type stubJobs struct{}

func (stubJobs) GetJobStatus() map[string]interface{} {
	return map[string]interface{}{"running": true, "job_count": 3}
}

var errDatabase = errors.New("pq: connection reset by peer")

// kindErr is shorthand for a classified service error
func kindErr(kind apperr.Kind, msg string) error {
	return apperr.New(kind, "%s", msg)
}
