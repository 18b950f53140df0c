package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/payment"
	"github.com/iamakashsinghrajput/BookHaven/pkg/queue"
	"github.com/iamakashsinghrajput/BookHaven/pkg/storage"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/app"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/config"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/server"
)

const defaultSessionTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	if sessionTTL == 0 {
		sessionTTL = defaultSessionTTL
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	codeTTL, err := config.ParseDuration("verificationCodeTTL", cfg.VerificationCodeTTL)
	if err != nil {
		log.Fatalf("failed to parse verification code TTL: %v", err)
	}
	notifyTimeout, err := config.ParseDuration("notifyTimeout", cfg.NotifyTimeout)
	if err != nil {
		log.Fatalf("failed to parse notify timeout: %v", err)
	}
	downloadTTL, err := config.ParseDuration("downloadURLTTL", cfg.DownloadURLTTL)
	if err != nil {
		log.Fatalf("failed to parse download URL TTL: %v", err)
	}
	previewTTL, err := config.ParseDuration("previewURLTTL", cfg.PreviewURLTTL)
	if err != nil {
		log.Fatalf("failed to parse preview URL TTL: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := store.Open(ctx, store.OpenConfig{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer func() { _ = closeStore(context.Background()) }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}

	objects, err := openObjects(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	notifier, closeNotifier, err := openNotifier(cfg)
	if err != nil {
		log.Fatalf("failed to init notifier: %v", err)
	}
	defer closeNotifier()

	var codeOpts []store.VerificationOption
	if codeTTL > 0 {
		codeOpts = append(codeOpts, store.WithCodeTTL(codeTTL))
	}
	if cfg.VerificationMaxAttempts > 0 {
		codeOpts = append(codeOpts, store.WithMaxAttempts(cfg.VerificationMaxAttempts))
	}
	codes, err := store.NewVerificationStore(rdb, codeOpts...)
	if err != nil {
		log.Fatalf("failed to init verification store: %v", err)
	}

	sessions, err := openSessions(cfg, rdb, sessionTTL, leeway)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	cleanup, err := queue.NewRedisJobQueue(rdb, queue.RedisQueueConfig{
		Stream: "bookhaven:object-cleanup",
		Group:  "bookhaven",
	})
	if err != nil {
		log.Fatalf("failed to init cleanup queue: %v", err)
	}
	cleanup.Start(util.ContextWithLogger(ctx, logger), 1, func(ctx context.Context, job queue.Job) error {
		err := objects.Delete(ctx, job.ObjectKey)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil
		}
		return err
	})

	var payments payment.Gateway
	if cfg.PaymentsEnabled() {
		payments, err = payment.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
		if err != nil {
			log.Fatalf("failed to init payments: %v", err)
		}
	} else {
		slog.Warn("razorpay keys not set; payments disabled")
	}

	appCore, err := app.New(app.Config{
		Store:           st,
		Objects:         objects,
		Codes:           codes,
		Sessions:        sessions,
		Notifier:        notifier,
		Payments:        payments,
		Cleanup:         cleanup,
		AdminEmails:     cfg.AdminEmails,
		NotifyTimeout:   notifyTimeout,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		DownloadExpiry:  downloadTTL,
		PreviewExpiry:   previewTTL,
		PaperPricePaise: cfg.PaperPricePaise,
		Currency:        cfg.Currency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var files http.Handler
	if mem, ok := objects.(*storage.MemoryStore); ok {
		files = mem
	}
	httpServer, err := server.New(server.Config{
		App:                          appCore,
		Redis:                        rdb,
		TrustedProxies:               trusted,
		AllowedOrigins:               cfg.AllowedOrigins,
		LoginRateLimitPerMinute:      cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute:   cfg.RegisterRateLimitPerMinute,
		DeleteCodeRateLimitPerMinute: cfg.DeleteCodeRateLimitPerMinute,
		Files:                        files,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("bookhaven server listening", "addr", addr, "store", cfg.StoreDriver, "objects", cfg.ObjectStore, "notify", cfg.NotifyTransport)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func openObjects(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.ObjectStore == config.ObjectsMinio {
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	base := cfg.PublicFileBaseURL
	if base == "" {
		base = "http://localhost:" + cfg.Port + "/files"
	}
	slog.Warn("using in-memory object store; uploads are lost on restart", "files", base)
	return storage.NewMemoryStore(base), nil
}

func openNotifier(cfg config.FileConfig) (notify.Notifier, func(), error) {
	switch cfg.NotifyTransport {
	case config.NotifySMTP:
		n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		return n, func() {}, err
	case config.NotifyAMQP:
		n, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}
		return n, func() { _ = n.Close() }, nil
	default:
		return notify.NewLogNotifier(), func() {}, nil
	}
}

func openSessions(cfg config.FileConfig, rdb redis.UniversalClient, ttl, leeway time.Duration) (*store.JWTSessionStore, error) {
	revoker := store.NewRedisTokenRevoker(rdb, ttl)
	opts := store.JWTOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, Leeway: leeway}
	if cfg.JWTPrivateKeyPath != "" {
		verify, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
		if err != nil {
			return nil, err
		}
		return store.NewJWTSessionStoreFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTKeyID, verify, ttl, revoker, opts)
	}
	if cfg.StoreDriver != config.StoreMemory {
		return nil, errors.New("jwtPrivateKeyPath is required with a persistent store (set JWT_PRIVATE_KEY_PATH)")
	}
	slog.Warn("jwtPrivateKeyPath not set; signing sessions with an ephemeral key")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return store.NewJWTSessionStore(key, cfg.JWTKeyID, nil, ttl, revoker, opts)
}
