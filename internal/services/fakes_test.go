package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mariiahub/booking-reconciliation/internal/database"
	"github.com/mariiahub/booking-reconciliation/internal/models"
	"github.com/mariiahub/booking-reconciliation/pkg/payment"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// ----------------------------------------------------------------------------
// holds
// ----------------------------------------------------------------------------

// fakeHoldStore enforces the blocking-hold uniqueness the partial index gives
type fakeHoldStore struct {
	mu    sync.Mutex
	holds map[uuid.UUID]*models.Hold
}

func newFakeHoldStore() *fakeHoldStore {
	return &fakeHoldStore{holds: make(map[uuid.UUID]*models.Hold)}
}

func sameSlot(a, b *models.Hold) bool {
	return a.ResourceID == b.ResourceID && a.SlotStart.Equal(b.SlotStart) && a.SlotEnd.Equal(b.SlotEnd)
}

func (f *fakeHoldStore) blocking(h *models.Hold, except uuid.UUID) *models.Hold {
	for _, other := range f.holds {
		if other.ID != except && sameSlot(other, h) && other.Status.Blocking() {
			return other
		}
	}
	return nil
}

func (f *fakeHoldStore) Create(ctx context.Context, hold *models.Hold, now time.Time) (*models.Hold, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, other := range f.holds {
		if sameSlot(other, hold) && other.Status == models.HoldStatusActive && !other.ExpiresAt.After(now) {
			other.Status = models.HoldStatusExpired
		}
	}
	if existing := f.blocking(hold, uuid.Nil); existing != nil {
		cp := *existing
		return &cp, false, nil
	}

	cp := *hold
	cp.Status = models.HoldStatusActive
	cp.CreatedAt = now
	f.holds[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeHoldStore) put(h *models.Hold) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	f.holds[h.ID] = &cp
}

func (f *fakeHoldStore) get(id uuid.UUID) *models.Hold {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.holds[id]; ok {
		cp := *h
		return &cp
	}
	return nil
}

func (f *fakeHoldStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	return f.get(id), nil
}

func (f *fakeHoldStore) Consume(ctx context.Context, id uuid.UUID, now time.Time) (*models.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.holds[id]
	if !ok || h.Status == models.HoldStatusReleased {
		return nil, nil
	}
	if h.Status == models.HoldStatusExpired && f.blocking(h, h.ID) != nil {
		return nil, database.ErrSlotTaken
	}
	h.Status = models.HoldStatusConsumed
	if h.ConsumedAt == nil {
		h.ConsumedAt = &now
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHoldStore) Release(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.holds[id]
	if !ok || !h.Status.Blocking() {
		return false, nil
	}
	h.Status = models.HoldStatusReleased
	h.ReleasedAt = &now
	return true, nil
}

func (f *fakeHoldStore) ExpireLapsed(ctx context.Context, now time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, h := range f.holds {
		if n >= int64(limit) {
			break
		}
		if h.Status == models.HoldStatusActive && !h.ExpiresAt.After(now) {
			h.Status = models.HoldStatusExpired
			n++
		}
	}
	return n, nil
}

// ----------------------------------------------------------------------------
// bookings
// ----------------------------------------------------------------------------

// fakeBookingStore gives TransitionStatus the same compare-and-swap
// semantics as the conditional UPDATE
type fakeBookingStore struct {
	mu          sync.Mutex
	holds       *fakeHoldStore
	bookings    map[uuid.UUID]*models.Booking
	transitions int
}

func newFakeBookingStore(holds *fakeHoldStore) *fakeBookingStore {
	return &fakeBookingStore{holds: holds, bookings: make(map[uuid.UUID]*models.Booking)}
}

func (f *fakeBookingStore) CreatePending(ctx context.Context, booking *models.Booking, guard database.HoldGuard) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := guard(f.holds.get(booking.HoldID)); err != nil {
		return err
	}
	for _, other := range f.bookings {
		if other.HoldID == booking.HoldID &&
			(other.Status == models.BookingStatusPending || other.Status == models.BookingStatusConfirmed) {
			return database.ErrHoldHasLiveBooking
		}
	}

	booking.Status = models.BookingStatusPending
	booking.PaymentStatus = models.PaymentStatusPending
	booking.UpdatedAt = booking.CreatedAt
	cp := *booking
	f.bookings[booking.ID] = &cp
	return nil
}

func (f *fakeBookingStore) put(b *models.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.bookings[b.ID] = &cp
}

func (f *fakeBookingStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bookings[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeBookingStore) GetBySessionID(ctx context.Context, sessionID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.ExternalPaymentSessionID != nil && *b.ExternalPaymentSessionID == sessionID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBookingStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.Status == models.BookingStatusPending && b.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) ListConfirmedPackagesWithoutGrant(ctx context.Context, limit int) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.Status == models.BookingStatusConfirmed && b.IsPackage && len(out) < limit {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) AttachPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	switch {
	case !ok:
		return database.ErrNotFound
	case b.Status != models.BookingStatusPending:
		return database.ErrStatusConflict
	case b.ExternalPaymentSessionID != nil:
		return database.ErrSessionAlreadyAttached
	}
	b.ExternalPaymentSessionID = &sessionID
	b.UpdatedAt = now
	return nil
}

func (f *fakeBookingStore) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next models.BookingStatus,
	fields models.PaymentFields,
	now time.Time,
) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if b.Status != expected {
		return nil, database.ErrStatusConflict
	}

	b.Status = next
	if fields.PaymentStatus != nil {
		b.PaymentStatus = *fields.PaymentStatus
	}
	if fields.PaymentReference != nil {
		b.PaymentReference = fields.PaymentReference
	}
	if fields.PaidAmount != nil {
		b.PaidAmount = fields.PaidAmount
	}
	if fields.FailureReason != nil {
		b.FailureReason = fields.FailureReason
	}
	switch next {
	case models.BookingStatusConfirmed:
		b.ConfirmedAt = &now
	case models.BookingStatusFailed:
		b.FailedAt = &now
	case models.BookingStatusCancelled:
		b.CancelledAt = &now
	}
	b.UpdatedAt = now
	f.transitions++

	cp := *b
	return &cp, nil
}

// ----------------------------------------------------------------------------
// catalog, grants, audit
// ----------------------------------------------------------------------------

type fakeCatalog struct {
	services map[string]*models.Service
	addOns   map[string][]models.AddOn
	slots    []models.AvailabilitySlot
}

func (f *fakeCatalog) GetService(ctx context.Context, serviceID string) (*models.Service, error) {
	if s, ok := f.services[serviceID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCatalog) ListAddOns(ctx context.Context, serviceID string) ([]models.AddOn, error) {
	return f.addOns[serviceID], nil
}

func (f *fakeCatalog) FindSlot(ctx context.Context, serviceID, resourceID string, start, end time.Time) (*models.AvailabilitySlot, error) {
	for _, s := range f.slots {
		if s.ServiceID == serviceID && s.ResourceID == resourceID && s.SlotStart.Equal(start) && s.SlotEnd.Equal(end) {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeGrantStore struct {
	mu      sync.Mutex
	grants  map[uuid.UUID]*models.PackageGrant
	failing bool
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: make(map[uuid.UUID]*models.PackageGrant)}
}

func (f *fakeGrantStore) CreateForBooking(ctx context.Context, grant *models.PackageGrant) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, io.ErrUnexpectedEOF
	}
	if _, ok := f.grants[grant.BookingID]; ok {
		return false, nil
	}
	cp := *grant
	f.grants[grant.BookingID] = &cp
	return true, nil
}

func (f *fakeGrantStore) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PackageGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.grants[bookingID]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeGrantStore) RevokeForBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[bookingID]
	if !ok || g.Status == models.PackageGrantRevoked {
		return false, nil
	}
	g.Status = models.PackageGrantRevoked
	g.RevokedAt = &now
	return true, nil
}

func (f *fakeGrantStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []models.PaymentAudit
}

func (f *fakeAuditStore) Log(ctx context.Context, audit *models.PaymentAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *audit)
	return nil
}

func (f *fakeAuditStore) countOf(eventType models.PaymentEventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// ----------------------------------------------------------------------------
// provider and dispatcher mocks
// ----------------------------------------------------------------------------

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params payment.CreateSessionParams) (*payment.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if s := args.Get(0); s != nil {
		return s.(*payment.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*payment.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingDispatcher captures events and can be told to fail
type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.BookingEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event models.BookingEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.err
}

func (d *recordingDispatcher) countOf(eventType models.BookingEventType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// ----------------------------------------------------------------------------
// fixture
// ----------------------------------------------------------------------------

var (
	testSlot = models.Slot{
		StartsAt: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC),
	}
	packageSlot = models.Slot{
		StartsAt: time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2024, 1, 16, 11, 0, 0, 0, time.UTC),
	}
)

type fixture struct {
	holdStore    *fakeHoldStore
	bookingStore *fakeBookingStore
	catalog      *fakeCatalog
	grants       *fakeGrantStore
	auditStore   *fakeAuditStore
	provider     *mockProvider
	dispatcher   *recordingDispatcher

	holds        *HoldService
	ledger       *BookingLedger
	orchestrator *PaymentOrchestrator
	reconciler   *ReconciliationService
}

func newFixture() *fixture {
	cutoff := 60
	catalog := &fakeCatalog{
		services: map[string]*models.Service{
			"massage": {ID: "massage", Name: "Massage", Price: 10000, Currency: "EUR", DepositPercent: 30, IsActive: true},
			"pilates-10": {ID: "pilates-10", Name: "Pilates x10", Price: 50000, Currency: "EUR",
				PackageSessions: 10, PackageValidityDays: 90, BookingCutoffMinutes: &cutoff, IsActive: true},
			"retired": {ID: "retired", Name: "Retired", Price: 1000, Currency: "EUR"},
		},
		addOns: map[string][]models.AddOn{
			"massage": {
				{ID: "oil", ServiceID: "massage", Name: "Aroma oil", Price: 1500, IsActive: true},
				{ID: "stones", ServiceID: "massage", Name: "Hot stones", Price: 2500, IsActive: true},
				{ID: "old", ServiceID: "massage", Name: "Discontinued", Price: 100, IsActive: false},
			},
		},
		slots: []models.AvailabilitySlot{
			{ServiceID: "massage", ResourceID: "room-1", SlotStart: testSlot.StartsAt, SlotEnd: testSlot.EndsAt, Capacity: 1},
			{ServiceID: "massage", ResourceID: "room-2", SlotStart: testSlot.StartsAt, SlotEnd: testSlot.EndsAt, Capacity: 0},
			{ServiceID: "pilates-10", ResourceID: "studio", SlotStart: packageSlot.StartsAt, SlotEnd: packageSlot.EndsAt, Capacity: 1},
		},
	}

	f := &fixture{
		holdStore:  newFakeHoldStore(),
		catalog:    catalog,
		grants:     newFakeGrantStore(),
		auditStore: &fakeAuditStore{},
		provider:   &mockProvider{},
		dispatcher: &recordingDispatcher{},
	}
	f.bookingStore = newFakeBookingStore(f.holdStore)

	logger := testLogger()
	audit := NewAuditRecorder(f.auditStore, logger)

	f.holds = NewHoldService(f.holdStore, catalog, HoldServiceConfig{
		DefaultTTL:   10 * time.Minute,
		MaxTTL:       30 * time.Minute,
		CutoffWindow: time.Hour,
		ExpiryBatch:  2,
	}, logger)
	f.ledger = NewBookingLedger(f.bookingStore, catalog, logger)
	f.orchestrator = NewPaymentOrchestrator(f.ledger, f.holds, f.provider, audit, PaymentOrchestratorConfig{
		SuccessURL: "https://shop.example/booking/success",
		CancelURL:  "https://shop.example/booking/cancel",
	}, logger)
	f.reconciler = NewReconciliationService(f.ledger, f.holds, f.orchestrator, catalog, f.grants, f.dispatcher, audit,
		ReconciliationConfig{FailureWindow: 30 * time.Minute, StaleThreshold: time.Hour, SweepBatch: 50}, logger)

	f.setNow(testNow)
	return f
}

func (f *fixture) setNow(t time.Time) {
	clock := fixedClock(t)
	f.holds.now = clock
	f.ledger.now = clock
	f.reconciler.now = clock
}

// holdFor creates an active hold through the service
func (f *fixture) holdFor(serviceID, resourceID string, slot models.Slot, sessionID string) *models.Hold {
	hold, err := f.holds.CreateHold(context.Background(), CreateHoldRequest{
		ServiceID:  serviceID,
		ResourceID: resourceID,
		Slot:       slot,
		SessionID:  sessionID,
	})
	if err != nil {
		panic(err)
	}
	return hold
}

// pendingWithSession creates a hold and a pending booking with an attached session
func (f *fixture) pendingWithSession(serviceID, resourceID string, slot models.Slot, sessionID string) *models.Booking {
	hold := f.holdFor(serviceID, resourceID, slot, "web-"+sessionID)
	phone := "+381641234567"
	booking, err := f.ledger.CreatePendingBooking(context.Background(), models.BookingDetails{
		ServiceID:     serviceID,
		ResourceID:    resourceID,
		UserID:        "user-1",
		Slot:          slot,
		SessionID:     "web-" + sessionID,
		CustomerPhone: &phone,
	}, hold.ID)
	if err != nil {
		panic(err)
	}
	if err := f.ledger.AttachPaymentSession(context.Background(), booking.ID, sessionID); err != nil {
		panic(err)
	}
	booking.ExternalPaymentSessionID = &sessionID
	return booking
}

func paidSession(id string, amount int64) *payment.CheckoutSession {
	return &payment.CheckoutSession{
		ID:            id,
		Status:        payment.SessionStatusComplete,
		PaymentStatus: payment.PaymentStatusPaid,
		AmountTotal:   amount,
		Currency:      "eur",
		PaymentIntent: "pi_" + id,
	}
}

func openSession(id string, amount int64) *payment.CheckoutSession {
	return &payment.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		Status:        payment.SessionStatusOpen,
		PaymentStatus: payment.PaymentStatusUnpaid,
		AmountTotal:   amount,
		Currency:      "eur",
	}
}
