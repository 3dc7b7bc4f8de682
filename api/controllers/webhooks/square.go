package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mateovidal/givebridge-backend/api/responses"
	squarewebhook "github.com/mateovidal/givebridge-backend/internal/webhooks/square"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

const squareSignatureHeader = "x-square-hmacsha256-signature"

// SquareWebhookService verifies and applies Square payment notifications.
type SquareWebhookService interface {
	VerifySignature(signature string, body []byte) bool
	HandleEvent(ctx context.Context, event *squarewebhook.PaymentEvent) error
}

// SquareWebhook ingests Square payment events. Signature failures are
// rejected before any payload parsing; handler failures return an error
// status so Square redelivers.
func SquareWebhook(svc SquareWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(squareSignatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "square signature missing"))
			return
		}
		if !svc.VerifySignature(signature, payload) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature"))
			return
		}

		var event squarewebhook.PaymentEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
