package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/apperr"
	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/reconciler"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxNotificationBytes = 1 << 20

type NotificationHandler interface {
	HandleNotification(ctx context.Context, raw []byte) (*reconciler.Result, error)
}

type RetryQueue interface {
	Enqueue(ctx context.Context, orderNumber string, raw []byte, attempt int) error
}

// WebhookHandler receives provider notifications. It always answers 200:
// failures are logged and, when retryable, queued for another attempt.
type WebhookHandler struct {
	Reconciler NotificationHandler
	Retry      RetryQueue
}

type ackResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment-event", h.paymentEvent)
}

func (h *WebhookHandler) paymentEvent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), nil)

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		log.Warn("notification_read_failed", zap.Error(err))
		writeJSON(w, http.StatusOK, ackResp{Status: "error", Message: "unreadable body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res, err := h.Reconciler.HandleNotification(ctx, raw)
	if err == nil {
		writeJSON(w, http.StatusOK, ackResp{Status: "success", Message: string(res.Outcome)})
		return
	}

	if errors.Is(err, reconciler.ErrInvalidNotification) {
		log.Warn("notification_rejected", zap.Error(err))
		writeJSON(w, http.StatusOK, ackResp{Status: "error", Message: "invalid notification"})
		return
	}
	ref, _ := reconciler.OrderReference(raw)
	log = log.With(zap.String("order_number", ref))

	if apperr.Retryable(err) && h.Retry != nil {
		// request ctx may already be done
		qctx, qcancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer qcancel()
		if qerr := h.Retry.Enqueue(qctx, ref, raw, 1); qerr != nil {
			log.Error("notification_retry_enqueue_failed", zap.Error(err), zap.NamedError("enqueue_error", qerr))
		} else {
			log.Warn("notification_retry_enqueued", zap.Error(err))
		}
	} else {
		log.Error("notification_failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, ackResp{Status: "error", Message: apperr.CodeOf(err)})
}
