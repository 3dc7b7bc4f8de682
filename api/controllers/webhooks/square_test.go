package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	squarewebhook "github.com/mateovidal/givebridge-backend/internal/webhooks/square"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
)

type stubWebhookService struct {
	validSignature bool
	handled        *squarewebhook.PaymentEvent
	err            error
}

func (s *stubWebhookService) VerifySignature(signature string, body []byte) bool {
	return s.validSignature
}

func (s *stubWebhookService) HandleEvent(ctx context.Context, event *squarewebhook.PaymentEvent) error {
	s.handled = event
	return s.err
}

const paymentUpdatedBody = `{
	"event_id": "evt-001",
	"type": "payment.updated",
	"data": {
		"type": "payment",
		"id": "pay-123",
		"object": {
			"payment": {"id": "pay-123", "status": "COMPLETED", "reference_id": "a8098c1a-f86e-11da-bd1a-00112444be1e"}
		}
	}
}`

func TestSquareWebhookAcceptsVerifiedEvent(t *testing.T) {
	svc := &stubWebhookService{validSignature: true}
	handler := SquareWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(paymentUpdatedBody))
	req.Header.Set("x-square-hmacsha256-signature", "sig")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.handled == nil || svc.handled.EventID != "evt-001" {
		t.Fatalf("event not forwarded: %+v", svc.handled)
	}
	if svc.handled.Data.Object.Payment == nil || svc.handled.Data.Object.Payment.Status != "COMPLETED" {
		t.Fatalf("payment payload not decoded")
	}
}

func TestSquareWebhookRejectsMissingSignature(t *testing.T) {
	svc := &stubWebhookService{validSignature: true}
	handler := SquareWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(paymentUpdatedBody))
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.handled != nil {
		t.Fatalf("handler must not run without a signature")
	}
}

func TestSquareWebhookRejectsBadSignature(t *testing.T) {
	svc := &stubWebhookService{validSignature: false}
	handler := SquareWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(paymentUpdatedBody))
	req.Header.Set("x-square-hmacsha256-signature", "forged")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if svc.handled != nil {
		t.Fatalf("handler must not run on forged signature")
	}
}

func TestSquareWebhookReturnsErrorForFailedHandler(t *testing.T) {
	svc := &stubWebhookService{
		validSignature: true,
		err:            pkgerrors.New(pkgerrors.CodeDependency, "webhook dedup"),
	}
	handler := SquareWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(paymentUpdatedBody))
	req.Header.Set("x-square-hmacsha256-signature", "sig")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestSquareWebhookRejectsMalformedBody(t *testing.T) {
	svc := &stubWebhookService{validSignature: true}
	handler := SquareWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader("{not json"))
	req.Header.Set("x-square-hmacsha256-signature", "sig")
	resp := httptest.NewRecorder()
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
