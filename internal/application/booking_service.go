package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/booking"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/payment"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/slot"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/domain/transaction"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/audit"
	redisinfra "github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/redis"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/logger"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/metrics"
)

// BookingService は予約台帳の状態機械と、その作成パスの直列化を担う。
// スロットごとの競合はすべて claim_state の compare-and-swap で解決され、
// プロセス内ロックは使わない
type BookingService struct {
	txManager   transaction.Manager
	bookingRepo booking.Repository
	slotRepo    slot.Repository
	paymentRepo payment.Repository
	cache       *redisinfra.SlotCache
	emitter     audit.Emitter
	metrics     *metrics.Metrics
	holdWindow  time.Duration
}

func NewBookingService(
	tm transaction.Manager,
	br booking.Repository,
	sr slot.Repository,
	pr payment.Repository,
	cache *redisinfra.SlotCache,
	emitter audit.Emitter,
	m *metrics.Metrics,
	holdWindow time.Duration,
) *BookingService {
	if emitter == nil {
		emitter = audit.NewNopEmitter()
	}
	if holdWindow <= 0 {
		holdWindow = booking.HoldWindow
	}
	return &BookingService{
		txManager: tm, bookingRepo: br, slotRepo: sr, paymentRepo: pr,
		cache: cache, emitter: emitter, metrics: m, holdWindow: holdWindow,
	}
}

type CreateBookingInput struct {
	SlotID         string
	UserID         string
	IdempotencyKey string
}

// CreateBooking はスロットを確保して支払い待ちの予約を作成する。
// 同一スロットへの同時作成は claim_state の free→claimed CAS で直列化され、
// 敗者は待たされることなく slot.ErrSlotUnavailable を受け取る。
// 同じ冪等性キーでの再送は既存の予約をそのまま返す
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*booking.Booking, error) {
	// 冪等性チェック。キーの再生は同一ユーザー・同一スロットに限る
	existing, err := s.bookingRepo.GetByIdempotencyKey(ctx, input.IdempotencyKey)
	if err == nil {
		if existing.UserID != input.UserID || existing.SlotID != input.SlotID {
			s.countAttempt("idempotency_conflict")
			return nil, booking.ErrIdempotencyKeyConflict
		}
		s.countAttempt("idempotent_replay")
		return existing, nil
	}
	if !errors.Is(err, booking.ErrBookingNotFound) {
		return nil, fmt.Errorf("冪等性チェックに失敗: %w", err)
	}

	b := booking.NewBooking(input.SlotID, input.UserID, input.IdempotencyKey)
	if err := b.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookingRepo.Create(ctx, tx, b); err != nil {
		if errors.Is(err, booking.ErrIdempotencyKeyConflict) {
			// 同一キーの並行リクエストに敗れた場合は勝者の予約を返す。
			// ただし他者のキーを流用した再送は競合のまま拒否する
			if existing, getErr := s.bookingRepo.GetByIdempotencyKey(ctx, input.IdempotencyKey); getErr == nil &&
				existing.UserID == input.UserID && existing.SlotID == input.SlotID {
				s.countAttempt("idempotent_replay")
				return existing, nil
			}
			s.countAttempt("idempotency_conflict")
			return nil, err
		}
		if errors.Is(err, slot.ErrSlotUnavailable) {
			// 非終端予約の部分一意インデックスに弾かれた。CASと同じくスロット争奪の敗北
			s.countAttempt("slot_unavailable")
			return nil, err
		}
		s.countAttempt("error")
		return nil, err
	}

	ok, err := s.slotRepo.TrySetClaim(ctx, tx, input.SlotID, slot.ClaimStateFree, slot.ClaimStateClaimed)
	if err != nil {
		s.countAttempt("error")
		return nil, err
	}
	if !ok {
		// CASに敗れた。ロールバックにより予約行も残らない
		s.countAttempt("slot_unavailable")
		return nil, slot.ErrSlotUnavailable
	}

	if err := tx.Commit(); err != nil {
		s.countAttempt("error")
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	s.countAttempt("created")
	if s.metrics != nil {
		s.metrics.PendingBookings.Inc()
	}
	s.invalidateCache(ctx)
	s.emit(ctx, audit.Event{
		Kind: "booking.created", BookingID: b.ID, SlotID: b.SlotID,
		Actor: string(booking.ActorUser), ActorID: b.UserID,
		OccurredAt: time.Now(),
	})
	return b, nil
}

// GetBooking はIDから予約を取得する
func (s *BookingService) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	return s.bookingRepo.GetByID(ctx, id)
}

// GetUserBookings はユーザーの予約一覧を取得する
func (s *BookingService) GetUserBookings(ctx context.Context, userID string, limit, offset int) ([]*booking.Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.bookingRepo.GetByUserID(ctx, userID, limit, offset)
}

// AttachPaymentSession は支払いセッションIDを予約に記録する
func (s *BookingService) AttachPaymentSession(ctx context.Context, bookingID, sessionID string) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := b.AttachPaymentSession(sessionID); err != nil {
		return nil, err
	}
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()
	if err := s.bookingRepo.Update(ctx, tx, b, booking.StatusPendingPayment); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}
	return b, nil
}

// ConfirmBooking は決済完了により予約を確定する。
// 既に同じセッションで確定済みの場合は冪等に成功する（Webhook再配信対策）
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID, paymentSessionID string) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == booking.StatusConfirmed && b.PaymentSessionID != nil && *b.PaymentSessionID == paymentSessionID {
		s.countTransition("confirm", "duplicate")
		return b, nil
	}
	if err := b.Confirm(paymentSessionID); err != nil {
		s.countTransition("confirm", "rejected")
		return nil, err
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookingRepo.Update(ctx, tx, b, booking.StatusPendingPayment); err != nil {
		s.countTransition("confirm", "rejected")
		return nil, err
	}
	ok, err := s.slotRepo.TrySetClaim(ctx, tx, b.SlotID, slot.ClaimStateClaimed, slot.ClaimStateBooked)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.countTransition("confirm", "rejected")
		return nil, booking.ErrStaleBooking
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	s.countTransition("confirm", "applied")
	if s.metrics != nil {
		s.metrics.PendingBookings.Dec()
	}
	s.invalidateCache(ctx)
	s.emit(ctx, audit.Event{
		Kind: "booking.confirmed", BookingID: b.ID, SlotID: b.SlotID,
		Actor: string(booking.ActorSystem), PriorStatus: string(booking.StatusPendingPayment),
		OccurredAt: time.Now(),
	})
	return b, nil
}

// CancelBooking は確定済み予約をキャンセルしスロットを解放する
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string, actor booking.Actor, actorID, reason string) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := b.Cancel(actor, reason); err != nil {
		s.countTransition("cancel", "rejected")
		return nil, err
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookingRepo.Update(ctx, tx, b, booking.StatusConfirmed); err != nil {
		s.countTransition("cancel", "rejected")
		return nil, err
	}
	ok, err := s.slotRepo.TrySetClaim(ctx, tx, b.SlotID, slot.ClaimStateBooked, slot.ClaimStateFree)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.countTransition("cancel", "rejected")
		return nil, booking.ErrStaleBooking
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	s.countTransition("cancel", "applied")
	s.invalidateCache(ctx)
	s.emit(ctx, audit.Event{
		Kind: "booking.cancelled", BookingID: b.ID, SlotID: b.SlotID,
		Actor: string(actor), ActorID: actorID,
		PriorStatus: string(booking.StatusConfirmed), Reason: reason,
		OccurredAt: time.Now(),
	})
	return b, nil
}

// ExpireBooking は保持期限切れの支払い待ち予約を失効させスロットを解放する。
// 確定と失効が同じ予約で競合した場合、遷移元状態の条件付き更新により
// 先行した側だけが適用される
func (s *BookingService) ExpireBooking(ctx context.Context, bookingID string) error {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if err := b.Expire(); err != nil {
		s.countTransition("expire", "rejected")
		return err
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.bookingRepo.Update(ctx, tx, b, booking.StatusPendingPayment); err != nil {
		s.countTransition("expire", "rejected")
		return err
	}
	ok, err := s.slotRepo.TrySetClaim(ctx, tx, b.SlotID, slot.ClaimStateClaimed, slot.ClaimStateFree)
	if err != nil {
		return err
	}
	if !ok {
		s.countTransition("expire", "rejected")
		return booking.ErrStaleBooking
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}

	s.countTransition("expire", "applied")
	if s.metrics != nil {
		s.metrics.PendingBookings.Dec()
	}
	s.invalidateCache(ctx)
	s.expireOpenSession(ctx, b.ID)
	s.emit(ctx, audit.Event{
		Kind: "booking.expired", BookingID: b.ID, SlotID: b.SlotID,
		Actor: string(booking.ActorSystem), PriorStatus: string(booking.StatusPendingPayment),
		OccurredAt: time.Now(),
	})
	return nil
}

// ExpireStaleBookings は保持期限を超過した支払い待ち予約をまとめて失効させる。
// 失効スイープから定期的に呼ばれる。遅れて届いた決済確認に敗れた予約は
// 黙ってスキップする（再配信と同じく、繰り返しは冪等であるべき）
func (s *BookingService) ExpireStaleBookings(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.holdWindow)
	stale, err := s.bookingRepo.GetExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, b := range stale {
		if err := s.ExpireBooking(ctx, b.ID); err != nil {
			if errors.Is(err, booking.ErrStaleBooking) || errors.Is(err, booking.ErrBookingNotPending) {
				continue
			}
			logger.Error("予約の失効に失敗", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func (s *BookingService) expireOpenSession(ctx context.Context, bookingID string) {
	session, err := s.paymentRepo.GetOpenByBookingID(ctx, bookingID)
	if err != nil {
		if !errors.Is(err, payment.ErrSessionNotFound) {
			logger.Warn("オープンセッションの取得に失敗", zap.String("booking_id", bookingID), zap.Error(err))
		}
		return
	}
	if err := session.Expire(); err != nil {
		return
	}
	if err := s.paymentRepo.Update(ctx, session); err != nil {
		logger.Warn("セッションの失効に失敗", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *BookingService) countAttempt(result string) {
	if s.metrics != nil {
		s.metrics.BookingAttemptsTotal.WithLabelValues(result).Inc()
	}
}

func (s *BookingService) countTransition(transition, result string) {
	if s.metrics != nil {
		s.metrics.BookingTransitionsTotal.WithLabelValues(transition, result).Inc()
	}
}

func (s *BookingService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		logger.Warn("スロット一覧キャッシュの無効化に失敗", zap.Error(err))
	}
}

func (s *BookingService) emit(ctx context.Context, event audit.Event) {
	if err := s.emitter.Emit(ctx, event); err != nil {
		logger.Warn("監査イベント発行に失敗",
			zap.String("kind", event.Kind),
			zap.String("booking_id", event.BookingID),
			zap.Error(err),
		)
	}
}
