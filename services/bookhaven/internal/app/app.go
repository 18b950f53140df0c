package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/payment"
	"github.com/iamakashsinghrajput/BookHaven/pkg/queue"
	"github.com/iamakashsinghrajput/BookHaven/pkg/storage"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

const (
	defaultMaxUploadBytes   = 10 << 20
	defaultDownloadExpiry   = 15 * time.Minute
	defaultPreviewExpiry    = 5 * time.Minute
	defaultPaperPricePaise  = 1000
	defaultCurrency         = "INR"
	defaultNotifyTimeout    = 5 * time.Second
	recommendationHistory   = 100
	defaultRecommendLimit   = 10
	maxRecommendLimit       = 50
	defaultActivityPageSize = 20
	maxActivityPageSize     = 100
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    store.Store
	Objects  storage.ObjectStore
	Codes    *store.VerificationStore
	Sessions *store.JWTSessionStore
	Notifier notify.Notifier
	// Payments may be nil; payment operations then fail with
	// ErrPaymentsDisabled.
	Payments payment.Gateway
	// Cleanup may be nil; failed blob deletes are then only logged.
	Cleanup ObjectCleanup

	AdminEmails     []string
	NotifyTimeout   time.Duration
	MaxUploadBytes  int64
	DownloadExpiry  time.Duration
	PreviewExpiry   time.Duration
	PaperPricePaise int64
	Currency        string
	Now             func() time.Time
}

// ObjectCleanup retries object deletes that failed inline.
type ObjectCleanup interface {
	Enqueue(ctx context.Context, objectKey, reason string) (queue.Job, error)
}

// App is the BookHaven application service: paper lifecycle, rewards,
// delete verification, recommendations, accounts and payments.
type App struct {
	store      store.Store
	objects    storage.ObjectStore
	codes      *store.VerificationStore
	sessions   *store.JWTSessionStore
	notifier   notify.Notifier
	dispatcher *notify.Dispatcher
	payments   payment.Gateway
	cleanup    ObjectCleanup
	validate   *validator.Validate

	adminEmails    []string
	maxUploadBytes int64
	downloadExpiry time.Duration
	previewExpiry  time.Duration
	pricePaise     int64
	currency       string
	now            func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.Codes == nil {
		return nil, errors.New("verification store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	a := &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		codes:          cfg.Codes,
		sessions:       cfg.Sessions,
		notifier:       cfg.Notifier,
		payments:       cfg.Payments,
		cleanup:        cfg.Cleanup,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		maxUploadBytes: cfg.MaxUploadBytes,
		downloadExpiry: cfg.DownloadExpiry,
		previewExpiry:  cfg.PreviewExpiry,
		pricePaise:     cfg.PaperPricePaise,
		currency:       strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		now:            cfg.Now,
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	a.dispatcher = notify.NewDispatcher(cfg.Notifier, timeout)
	for _, email := range cfg.AdminEmails {
		if email = strings.TrimSpace(email); email != "" {
			a.adminEmails = append(a.adminEmails, email)
		}
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = defaultMaxUploadBytes
	}
	if a.downloadExpiry <= 0 {
		a.downloadExpiry = defaultDownloadExpiry
	}
	if a.previewExpiry <= 0 {
		a.previewExpiry = defaultPreviewExpiry
	}
	if a.pricePaise <= 0 {
		a.pricePaise = defaultPaperPricePaise
	}
	if a.currency == "" {
		a.currency = defaultCurrency
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// MaxUploadBytes reports the largest accepted paper file.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

func (a *App) clock() time.Time { return a.now().UTC() }

// discardObject deletes key, handing it to the cleanup queue when the
// object store refuses. It reports whether the object is gone now.
func (a *App) discardObject(ctx context.Context, key, reason string) (deleted, queued bool) {
	err := a.objects.Delete(ctx, key)
	if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		return true, false
	}
	logger := util.LoggerFromContext(ctx)
	logger.Warn("object_delete_failed", "key", key, "reason", reason, "err", err)
	if a.cleanup == nil {
		return false, false
	}
	job, qerr := a.cleanup.Enqueue(ctx, key, reason)
	if qerr != nil {
		logger.Error("object_cleanup_enqueue_failed", "key", key, "err", qerr)
		return false, false
	}
	logger.Info("object_cleanup_queued", "key", key, "job_id", job.ID)
	return false, true
}
