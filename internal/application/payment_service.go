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
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/audit"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/infrastructure/checkout"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/logger"
	"github.com/TenZinKS/futsalslot-booking-engine/internal/pkg/metrics"
)

// Currency は請求に使う通貨コード
const Currency = "NPR"

// CheckoutProvider は外部チェックアウトプロバイダのインターフェース
type CheckoutProvider interface {
	CreateSession(ctx context.Context, input checkout.CreateSessionInput) (*checkout.Session, error)
}

// WebhookVerifier は署名付きWebhookペイロードを検証・解析するインターフェース
type WebhookVerifier interface {
	VerifyAndParse(payload []byte, signature string) (*checkout.WebhookEvent, error)
}

// PaymentService は外部チェックアウトとの橋渡しを担う。
// スロットの確保（予約作成）はプロバイダ呼び出しの前に完了しているため、
// 外部APIの遅延が他の予約者のスロット競合判定を妨げることはない
type PaymentService struct {
	bookingService *BookingService
	slotRepo       slot.Repository
	paymentRepo    payment.Repository
	provider       CheckoutProvider
	verifier       WebhookVerifier
	emitter        audit.Emitter
	metrics        *metrics.Metrics
}

func NewPaymentService(
	bs *BookingService,
	sr slot.Repository,
	pr payment.Repository,
	provider CheckoutProvider,
	verifier WebhookVerifier,
	emitter audit.Emitter,
	m *metrics.Metrics,
) *PaymentService {
	if emitter == nil {
		emitter = audit.NewNopEmitter()
	}
	return &PaymentService{
		bookingService: bs, slotRepo: sr, paymentRepo: pr,
		provider: provider, verifier: verifier, emitter: emitter, metrics: m,
	}
}

type StartCheckoutInput struct {
	SlotID         string
	UserID         string
	IdempotencyKey string
}

type StartCheckoutOutput struct {
	Booking     *booking.Booking
	CheckoutURL string
}

// StartCheckout はスロットを確保し、チェックアウトセッションを開いて
// リダイレクトURLを返す。スロットの確保に失敗した場合は
// slot.ErrSlotUnavailable をそのまま伝播する。
// 同じ冪等性キーの再送で、既にオープンなセッションがあればそのURLを返す
func (s *PaymentService) StartCheckout(ctx context.Context, input StartCheckoutInput) (*StartCheckoutOutput, error) {
	b, err := s.bookingService.CreateBooking(ctx, CreateBookingInput(input))
	if err != nil {
		return nil, err
	}
	if !b.IsPendingPayment() {
		return nil, booking.ErrBookingNotPending
	}

	// 再送で既存のオープンセッションがあればそれを返す
	if existing, err := s.paymentRepo.GetOpenByBookingID(ctx, b.ID); err == nil {
		if existing.CheckoutURL != "" {
			return &StartCheckoutOutput{Booking: b, CheckoutURL: existing.CheckoutURL}, nil
		}
		// URLを持たないオープンセッションはプロバイダ呼び出し前に中断した孤児。
		// 失敗として閉じ、新しいセッションを開き直す
		if failErr := existing.Fail(); failErr != nil {
			return nil, failErr
		}
		if updErr := s.paymentRepo.Update(ctx, existing); updErr != nil {
			return nil, updErr
		}
	} else if !errors.Is(err, payment.ErrSessionNotFound) {
		return nil, err
	}

	sl, err := s.slotRepo.GetByID(ctx, b.SlotID)
	if err != nil {
		return nil, err
	}

	session := payment.NewSession(b.ID)
	if err := s.paymentRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	start := time.Now()
	created, err := s.provider.CreateSession(ctx, checkout.CreateSessionInput{
		Reference:   session.ID,
		Amount:      sl.Price,
		Currency:    Currency,
		Description: fmt.Sprintf("コート %s %s〜%s", sl.CourtID, sl.StartTime.Format("15:04"), sl.EndTime.Format("15:04")),
	})
	s.observeCheckout(start, err)
	if err != nil {
		// 予約は支払い待ちのまま残り、保持期限で自然に失効する
		if failErr := session.Fail(); failErr == nil {
			if updErr := s.paymentRepo.Update(ctx, session); updErr != nil {
				logger.Warn("失敗セッションの記録に失敗", zap.String("session_id", session.ID), zap.Error(updErr))
			}
		}
		return nil, fmt.Errorf("チェックアウトセッション作成に失敗: %w", err)
	}

	session.ExternalReference = created.ExternalReference
	session.CheckoutURL = created.CheckoutURL
	session.UpdatedAt = time.Now()
	if err := s.paymentRepo.Update(ctx, session); err != nil {
		return nil, err
	}

	if _, err := s.bookingService.AttachPaymentSession(ctx, b.ID, session.ID); err != nil {
		return nil, err
	}

	return &StartCheckoutOutput{Booking: b, CheckoutURL: created.CheckoutURL}, nil
}

// HandleCallback は決済プロバイダからの署名付き通知を処理する。
// 同じ通知の再配信は冪等にno-opとなる。署名不一致は
// payment.ErrInvalidSignature で拒否され、決して適用されない
func (s *PaymentService) HandleCallback(ctx context.Context, payload []byte, signature string) error {
	event, err := s.verifier.VerifyAndParse(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			s.countWebhook("invalid_signature")
		} else {
			s.countWebhook("error")
		}
		return err
	}

	session, err := s.paymentRepo.GetByExternalReference(ctx, event.ExternalReference)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			s.countWebhook("unknown_reference")
		}
		return err
	}

	switch payment.Outcome(event.Outcome) {
	case payment.OutcomeSucceeded:
		return s.applySuccess(ctx, session)
	case payment.OutcomeFailed:
		return s.applyFailure(ctx, session, event.FailureReason)
	default:
		s.countWebhook("error")
		return fmt.Errorf("不明な決済結果: %s", event.Outcome)
	}
}

func (s *PaymentService) applySuccess(ctx context.Context, session *payment.Session) error {
	if session.Status == payment.StatusCompleted {
		s.countWebhook("duplicate")
		return nil
	}
	if !session.IsOpen() {
		// 失効スイープが先行した場合。リトライしても成功し得ないため受理して終える
		logger.Warn("オープンでないセッションへの決済成功通知",
			zap.String("session_id", session.ID),
			zap.String("status", string(session.Status)),
		)
		s.countWebhook("stale")
		return nil
	}

	if _, err := s.bookingService.ConfirmBooking(ctx, session.BookingID, session.ID); err != nil {
		if errors.Is(err, booking.ErrBookingNotPending) || errors.Is(err, booking.ErrStaleBooking) {
			logger.Warn("確定できない予約への決済成功通知",
				zap.String("booking_id", session.BookingID), zap.Error(err))
			s.countWebhook("stale")
			return nil
		}
		s.countWebhook("error")
		return err
	}

	if err := session.Complete(); err != nil {
		return err
	}
	if err := s.paymentRepo.Update(ctx, session); err != nil {
		return err
	}
	s.countWebhook("applied")
	return nil
}

func (s *PaymentService) applyFailure(ctx context.Context, session *payment.Session, reason string) error {
	if session.Status == payment.StatusFailed {
		s.countWebhook("duplicate")
		return nil
	}
	if !session.IsOpen() {
		logger.Warn("オープンでないセッションへの決済失敗通知",
			zap.String("session_id", session.ID),
			zap.String("status", string(session.Status)),
		)
		s.countWebhook("stale")
		return nil
	}

	// 予約は支払い待ちのまま残し、保持期限で自然に失効させる
	if err := session.Fail(); err != nil {
		return err
	}
	if err := s.paymentRepo.Update(ctx, session); err != nil {
		return err
	}
	s.countWebhook("applied")
	s.emitPaymentFailed(ctx, session, reason)
	return nil
}

func (s *PaymentService) emitPaymentFailed(ctx context.Context, session *payment.Session, reason string) {
	if err := s.emitter.Emit(ctx, audit.Event{
		Kind:       "payment.failed",
		BookingID:  session.BookingID,
		Reason:     reason,
		OccurredAt: time.Now(),
	}); err != nil {
		logger.Warn("監査イベント発行に失敗", zap.String("kind", "payment.failed"), zap.Error(err))
	}
}

func (s *PaymentService) observeCheckout(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	s.metrics.CheckoutRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (s *PaymentService) countWebhook(result string) {
	if s.metrics != nil {
		s.metrics.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
}
