package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/booking"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/payment"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
)

// インメモリ実装。claim_state のCASと条件付き更新の意味論を
// ミューテックスで再現し、DBなしで競合シナリオを検証する

type memStore struct {
	mu       sync.Mutex
	slots    map[string]*slot.Slot
	bookings map[string]*booking.Booking
	byKey    map[string]string // idempotency key -> booking ID
	sessions map[string]*payment.Session
}

func newMemStore() *memStore {
	return &memStore{
		slots:    make(map[string]*slot.Slot),
		bookings: make(map[string]*booking.Booking),
		byKey:    make(map[string]string),
		sessions: make(map[string]*payment.Session),
	}
}

type memTx struct {
	store           *memStore
	createdBookings []string
}

func (t *memTx) Commit() error {
	t.createdBookings = nil
	return nil
}

// Rollback はこのトランザクションで作成された予約行を取り消す
func (t *memTx) Rollback() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, id := range t.createdBookings {
		if b, ok := t.store.bookings[id]; ok {
			delete(t.store.byKey, b.IdempotencyKey)
			delete(t.store.bookings, id)
		}
	}
	t.createdBookings = nil
	return nil
}

type memTxManager struct{ store *memStore }

func (m *memTxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	return &memTx{store: m.store}, nil
}

type memSlotRepo struct{ store *memStore }

func (r *memSlotRepo) Create(ctx context.Context, s *slot.Slot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	r.store.slots[s.ID] = &cp
	return nil
}

func (r *memSlotRepo) GetByID(ctx context.Context, id string) (*slot.Slot, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.slots[id]
	if !ok {
		return nil, slot.ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSlotRepo) List(ctx context.Context, courtID string, date *time.Time) ([]*slot.Slot, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*slot.Slot
	for _, s := range r.store.slots {
		if courtID != "" && s.CourtID != courtID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memSlotRepo) TrySetClaim(ctx context.Context, tx transaction.Tx, slotID string, expected, next slot.ClaimState) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.slots[slotID]
	if !ok {
		return false, slot.ErrSlotNotFound
	}
	if s.ClaimState != expected {
		return false, nil
	}
	s.ClaimState = next
	s.UpdatedAt = time.Now()
	return true, nil
}

type memBookingRepo struct{ store *memStore }

func (r *memBookingRepo) Create(ctx context.Context, tx transaction.Tx, b *booking.Booking) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.byKey[b.IdempotencyKey]; exists {
		return booking.ErrIdempotencyKeyConflict
	}
	// idx_bookings_active_slot 相当。スロット1件につき非終端予約は高々1件
	for _, existing := range r.store.bookings {
		if existing.SlotID == b.SlotID &&
			(existing.Status == booking.StatusPendingPayment || existing.Status == booking.StatusConfirmed) {
			return slot.ErrSlotUnavailable
		}
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	cp := *b
	r.store.bookings[b.ID] = &cp
	r.store.byKey[b.IdempotencyKey] = b.ID
	if mt, ok := tx.(*memTx); ok {
		mt.createdBookings = append(mt.createdBookings, b.ID)
	}
	return nil
}

func (r *memBookingRepo) GetByID(ctx context.Context, id string) (*booking.Booking, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memBookingRepo) GetByIdempotencyKey(ctx context.Context, key string) (*booking.Booking, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id, ok := r.store.byKey[key]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	cp := *r.store.bookings[id]
	return &cp, nil
}

func (r *memBookingRepo) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*booking.Booking, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*booking.Booking
	for _, b := range r.store.bookings {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memBookingRepo) Update(ctx context.Context, tx transaction.Tx, b *booking.Booking, fromStatus booking.Status) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.bookings[b.ID]
	if !ok {
		return booking.ErrBookingNotFound
	}
	if current.Status != fromStatus {
		return booking.ErrStaleBooking
	}
	cp := *b
	r.store.bookings[b.ID] = &cp
	return nil
}

func (r *memBookingRepo) GetExpiredPending(ctx context.Context, olderThan time.Time) ([]*booking.Booking, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*booking.Booking
	for _, b := range r.store.bookings {
		if b.Status == booking.StatusPendingPayment && b.CreatedAt.Before(olderThan) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memPaymentRepo struct{ store *memStore }

func (r *memPaymentRepo) Create(ctx context.Context, s *payment.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	r.store.sessions[s.ID] = &cp
	return nil
}

func (r *memPaymentRepo) GetByID(ctx context.Context, id string) (*payment.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return nil, payment.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memPaymentRepo) GetByExternalReference(ctx context.Context, ref string) (*payment.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, s := range r.store.sessions {
		if s.ExternalReference == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, payment.ErrSessionNotFound
}

func (r *memPaymentRepo) GetOpenByBookingID(ctx context.Context, bookingID string) (*payment.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, s := range r.store.sessions {
		if s.BookingID == bookingID && s.Status == payment.StatusOpen {
			cp := *s
			return &cp, nil
		}
	}
	return nil, payment.ErrSessionNotFound
}

func (r *memPaymentRepo) Update(ctx context.Context, s *payment.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *s
	r.store.sessions[s.ID] = &cp
	return nil
}

func (r *memPaymentRepo) UpdateTx(ctx context.Context, tx transaction.Tx, s *payment.Session) error {
	return r.Update(ctx, s)
}

func newScenarioService(store *memStore, holdWindow time.Duration) *BookingService {
	return NewBookingService(
		&memTxManager{store: store},
		&memBookingRepo{store: store},
		&memSlotRepo{store: store},
		&memPaymentRepo{store: store},
		nil, nil, nil, holdWindow,
	)
}

func createScenarioSlot(t *testing.T, store *memStore) *slot.Slot {
	t.Helper()
	repo := &memSlotRepo{store: store}
	s := slot.NewSlot("court-1", time.Now().Add(24*time.Hour), time.Now().Add(25*time.Hour), 1500)
	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

// TestScenario_ConcurrentBookingSingleWinner は同一スロットへの
// 同時予約で1件だけが成功することを検証する
func TestScenario_ConcurrentBookingSingleWinner(t *testing.T) {
	store := newMemStore()
	service := newScenarioService(store, 0)
	sl := createScenarioSlot(t, store)
	ctx := context.Background()

	const numGoroutines = 50
	var successCount int32
	var unavailableCount int32
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := service.CreateBooking(ctx, CreateBookingInput{
				SlotID:         sl.ID,
				UserID:         "user-" + uuid.New().String(),
				IdempotencyKey: uuid.New().String(),
			})
			switch {
			case err == nil:
				atomic.AddInt32(&successCount, 1)
			case err == slot.ErrSlotUnavailable:
				atomic.AddInt32(&unavailableCount, 1)
			default:
				t.Errorf("予期しないエラー: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount, "成功は1件だけ")
	assert.Equal(t, int32(numGoroutines-1), unavailableCount, "残りは全てスロット利用不可")

	// 敗者の予約行はロールバックで残らない
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.bookings, 1)
	assert.Equal(t, slot.ClaimStateClaimed, store.slots[sl.ID].ClaimState)
}

// TestScenario_FullBookingFlow は予約の完全なフローを検証する
// 作成 → セッション紐づけ → 確定 → 管理者キャンセル → 再予約
func TestScenario_FullBookingFlow(t *testing.T) {
	store := newMemStore()
	service := newScenarioService(store, 0)
	sl := createScenarioSlot(t, store)
	ctx := context.Background()

	// 1. 予約作成
	b, err := service.CreateBooking(ctx, CreateBookingInput{
		SlotID: sl.ID, UserID: "user-1", IdempotencyKey: "key-flow-1",
	})
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingPayment, b.Status)

	// 2. 支払いセッション紐づけと確定
	_, err = service.AttachPaymentSession(ctx, b.ID, "sess-1")
	require.NoError(t, err)
	confirmed, err := service.ConfirmBooking(ctx, b.ID, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)

	got, err := (&memSlotRepo{store: store}).GetByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.ClaimStateBooked, got.ClaimState)

	// 3. 確定済みの間は他ユーザーは予約できない
	_, err = service.CreateBooking(ctx, CreateBookingInput{
		SlotID: sl.ID, UserID: "user-2", IdempotencyKey: "key-flow-2",
	})
	assert.ErrorIs(t, err, slot.ErrSlotUnavailable)

	// 4. 管理者キャンセルでスロットが解放される
	cancelled, err := service.CancelBooking(ctx, b.ID, booking.ActorAdmin, "admin-1", "コート整備")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)

	got, err = (&memSlotRepo{store: store}).GetByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.ClaimStateFree, got.ClaimState)

	// 5. 解放後は別ユーザーが予約できる
	b2, err := service.CreateBooking(ctx, CreateBookingInput{
		SlotID: sl.ID, UserID: "user-2", IdempotencyKey: "key-flow-3",
	})
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingPayment, b2.Status)
}

// TestScenario_ExpireReleasesSlot は失効スイープが期限切れ予約を
// 失効させスロットを解放することを検証する
func TestScenario_ExpireReleasesSlot(t *testing.T) {
	store := newMemStore()
	service := newScenarioService(store, 50*time.Millisecond)
	sl := createScenarioSlot(t, store)
	ctx := context.Background()

	b, err := service.CreateBooking(ctx, CreateBookingInput{
		SlotID: sl.ID, UserID: "user-1", IdempotencyKey: "key-expire-1",
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	count, err := service.ExpireStaleBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired, err := service.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusExpired, expired.Status)

	got, err := (&memSlotRepo{store: store}).GetByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.ClaimStateFree, got.ClaimState)

	// 失効後はスイープを再実行しても何も起きない
	count, err = service.ExpireStaleBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// TestScenario_ConfirmBeatsExpiry は確定が先行した予約を
// 失効スイープが黙ってスキップすることを検証する
func TestScenario_ConfirmBeatsExpiry(t *testing.T) {
	store := newMemStore()
	service := newScenarioService(store, 50*time.Millisecond)
	sl := createScenarioSlot(t, store)
	ctx := context.Background()

	b, err := service.CreateBooking(ctx, CreateBookingInput{
		SlotID: sl.ID, UserID: "user-1", IdempotencyKey: "key-race-1",
	})
	require.NoError(t, err)
	_, err = service.AttachPaymentSession(ctx, b.ID, "sess-1")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	// 期限は超過しているが、スイープより先に決済確認が届いた
	_, err = service.ConfirmBooking(ctx, b.ID, "sess-1")
	require.NoError(t, err)

	count, err := service.ExpireStaleBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := service.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)

	slotNow, err := (&memSlotRepo{store: store}).GetByID(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.ClaimStateBooked, slotNow.ClaimState)
}

// TestScenario_ActiveBookingBlocksInsert は非終端予約の一意性が
// INSERT自体を弾くことを検証する。claim_state が何らかの理由で
// free に戻っていても、生きている予約が残る限り二重予約はできない
func TestScenario_ActiveBookingBlocksInsert(t *testing.T) {
	store := newMemStore()
	service := newScenarioService(store, 0)
	sl := createScenarioSlot(t, store)
	ctx := context.Background()

	_, err := service.CreateBooking(ctx, CreateBookingInput{
		SlotID: sl.ID, UserID: "user-1", IdempotencyKey: "key-unique-1",
	})
	require.NoError(t, err)

	// 占有状態を不整合に巻き戻しても予約側の一意性が防波堤になる
	store.mu.Lock()
	store.slots[sl.ID].ClaimState = slot.ClaimStateFree
	store.mu.Unlock()

	_, err = service.CreateBooking(ctx, CreateBookingInput{
		SlotID: sl.ID, UserID: "user-2", IdempotencyKey: "key-unique-2",
	})
	assert.ErrorIs(t, err, slot.ErrSlotUnavailable)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.bookings, 1, "敗者の予約行は残らない")
}
