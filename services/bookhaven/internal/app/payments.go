package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/payment"
)

// CheckoutOrder is what the client needs to open the payment widget.
type CheckoutOrder struct {
	OrderID    string `json:"orderId"`
	KeyID      string `json:"keyId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	PaperID    string `json:"paperId"`
	PaperTitle string `json:"paperTitle"`
}

// PaymentConfirmation is the checkout widget's success callback payload.
type PaymentConfirmation struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// FileLink is a short-lived URL to a paper's file.
type FileLink struct {
	PaperID   string    `json:"paperId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateOrder opens a payment order for downloading an available paper.
func (a *App) CreateOrder(ctx context.Context, user domain.User, paperID string) (CheckoutOrder, error) {
	if user.ID == "" {
		return CheckoutOrder{}, ErrUnauthenticated
	}
	if a.payments == nil {
		return CheckoutOrder{}, ErrPaymentsDisabled
	}
	paper, err := a.availablePaper(ctx, paperID)
	if err != nil {
		return CheckoutOrder{}, err
	}
	order, err := a.payments.CreateOrder(ctx, payment.OrderRequest{
		Amount:   a.pricePaise,
		Currency: a.currency,
		Receipt:  "receipt_" + util.ShortID(12),
		Notes: map[string]string{
			"paperId":   paper.ID,
			"userEmail": user.Email,
		},
	})
	if err != nil {
		return CheckoutOrder{}, fmt.Errorf("create order: %w", err)
	}
	util.LoggerFromContext(ctx).Info("payment_order_created", "order_id", order.ID, "paper_id", paper.ID, "user_id", user.ID)
	return CheckoutOrder{
		OrderID:    order.ID,
		KeyID:      a.payments.KeyID(),
		Amount:     order.Amount,
		Currency:   order.Currency,
		PaperID:    paper.ID,
		PaperTitle: paper.Title,
	}, nil
}

// VerifyPayment checks the checkout signature, resolves the paper from the
// order and returns a download link.
func (a *App) VerifyPayment(ctx context.Context, user domain.User, conf PaymentConfirmation) (FileLink, error) {
	if user.ID == "" {
		return FileLink{}, ErrUnauthenticated
	}
	if a.payments == nil {
		return FileLink{}, ErrPaymentsDisabled
	}
	conf.OrderID = strings.TrimSpace(conf.OrderID)
	conf.PaymentID = strings.TrimSpace(conf.PaymentID)
	if conf.OrderID == "" || conf.PaymentID == "" || strings.TrimSpace(conf.Signature) == "" {
		return FileLink{}, invalid("payment", "order id, payment id and signature are required")
	}
	logger := util.LoggerFromContext(ctx)
	if err := a.payments.VerifySignature(conf.OrderID, conf.PaymentID, conf.Signature); err != nil {
		logger.Warn("payment_signature_invalid", "order_id", conf.OrderID, "user_id", user.ID)
		return FileLink{}, ErrPaymentInvalid
	}
	order, err := a.payments.FetchOrder(ctx, conf.OrderID)
	if err != nil {
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return FileLink{}, ErrPaymentInvalid
		}
		return FileLink{}, fmt.Errorf("fetch order: %w", err)
	}
	if owner := order.Notes["userEmail"]; owner != "" && !strings.EqualFold(owner, user.Email) {
		return FileLink{}, ErrForbidden
	}
	paper, err := a.availablePaper(ctx, order.Notes["paperId"])
	if err != nil {
		return FileLink{}, err
	}
	link, err := a.fileLink(ctx, paper, a.downloadExpiry)
	if err != nil {
		return FileLink{}, err
	}
	a.recordPaperActivity(ctx, user, domain.ActivityDownload, paper)
	logger.Info("payment_verified", "order_id", order.ID, "payment_id", conf.PaymentID, "paper_id", paper.ID)
	return link, nil
}

// Preview returns a short-lived link for viewing an available paper. Access
// control ends at the link's expiry; there is no client-side protection.
func (a *App) Preview(ctx context.Context, user domain.User, paperID string) (FileLink, error) {
	if user.ID == "" {
		return FileLink{}, ErrUnauthenticated
	}
	paper, err := a.availablePaper(ctx, paperID)
	if err != nil {
		return FileLink{}, err
	}
	link, err := a.fileLink(ctx, paper, a.previewExpiry)
	if err != nil {
		return FileLink{}, err
	}
	a.recordPaperActivity(ctx, user, domain.ActivityView, paper)
	return link, nil
}

// AdminFileLink lets an admin fetch any paper's file, for review.
func (a *App) AdminFileLink(ctx context.Context, admin domain.User, paperID string) (FileLink, error) {
	if err := requireAdmin(admin); err != nil {
		return FileLink{}, err
	}
	paper, err := a.loadPaper(ctx, paperID)
	if err != nil {
		return FileLink{}, err
	}
	return a.fileLink(ctx, paper, a.downloadExpiry)
}

func (a *App) availablePaper(ctx context.Context, paperID string) (domain.Paper, error) {
	paper, err := a.loadPaper(ctx, paperID)
	if err != nil {
		return domain.Paper{}, err
	}
	if !paper.IsApproved || !paper.IsPublic {
		return domain.Paper{}, ErrPaperUnavailable
	}
	return paper, nil
}

func (a *App) fileLink(ctx context.Context, paper domain.Paper, expiry time.Duration) (FileLink, error) {
	if paper.File.Key == "" {
		return FileLink{}, ErrPaperUnavailable
	}
	expires := a.clock().Add(expiry)
	url, err := a.objects.PresignGet(ctx, paper.File.Key, expiry, downloadName(paper.Title, paper.File.Key))
	if err != nil {
		return FileLink{}, fmt.Errorf("presign file: %w", err)
	}
	return FileLink{PaperID: paper.ID, URL: url, ExpiresAt: expires}, nil
}
