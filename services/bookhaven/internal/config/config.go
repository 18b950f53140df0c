package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working dir.
const ConfigPath = "config.yaml"

// DotEnvPath is loaded before the YAML file when present. Variables already
// set in the process environment win over the file.
const DotEnvPath = ".env"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	ObjectsMemory = "memory"
	ObjectsMinio  = "minio"

	NotifyLog  = "log"
	NotifySMTP = "smtp"
	NotifyAMQP = "amqp"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	StoreDriver   string `yaml:"storeDriver"`
	DatabaseURL   string `yaml:"databaseURL"`
	MongoURI      string `yaml:"mongoURI"`
	MongoDatabase string `yaml:"mongoDatabase"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	ObjectStore    string `yaml:"objectStore"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	// PublicFileBaseURL prefixes in-memory object links; its path must be /files.
	PublicFileBaseURL string `yaml:"publicFileBaseURL"`

	NotifyTransport string `yaml:"notifyTransport"`
	NotifyTimeout   string `yaml:"notifyTimeout"`
	SMTPHost        string `yaml:"smtpHost"`
	SMTPPort        int    `yaml:"smtpPort"`
	SMTPUsername    string `yaml:"smtpUsername"`
	SMTPPassword    string `yaml:"smtpPassword"`
	SMTPFrom        string `yaml:"smtpFrom"`
	AMQPURL         string `yaml:"amqpURL"`
	AMQPQueue       string `yaml:"amqpQueue"`

	RazorpayKeyID     string `yaml:"razorpayKeyId"`
	RazorpayKeySecret string `yaml:"razorpayKeySecret"`
	PaperPricePaise   int64  `yaml:"paperPricePaise"`
	Currency          string `yaml:"currency"`

	SessionTTL          string `yaml:"sessionTTL"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`

	VerificationCodeTTL     string `yaml:"verificationCodeTTL"`
	VerificationMaxAttempts int    `yaml:"verificationMaxAttempts"`

	TrustedProxyCIDRs            []string `yaml:"trustedProxyCidrs"`
	AllowedOrigins               []string `yaml:"allowedOrigins"`
	AdminEmails                  []string `yaml:"adminEmails"`
	LoginRateLimitPerMinute      int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute   int      `yaml:"registerRateLimitPerMinute"`
	DeleteCodeRateLimitPerMinute int      `yaml:"deleteCodeRateLimitPerMinute"`

	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	DownloadURLTTL string `yaml:"downloadURLTTL"`
	PreviewURLTTL  string `yaml:"previewURLTTL"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if err := godotenv.Load(DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load %s: %w", DotEnvPath, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override with environment variables
func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("BOOKHAVEN_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.MongoDatabase = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("BOOKHAVEN_OBJECT_STORE"); v != "" {
		cfg.ObjectStore = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("BOOKHAVEN_NOTIFY_TRANSPORT"); v != "" {
		cfg.NotifyTransport = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SMTPPort = n
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AMQP_QUEUE"); v != "" {
		cfg.AMQPQueue = v
	}
	if v := os.Getenv("RAZORPAY_KEY_ID"); v != "" {
		cfg.RazorpayKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("RAZORPAY_KEY_SECRET"); v != "" {
		cfg.RazorpayKeySecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOOKHAVEN_SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.JWTPrivateKeyPath = v
	}
	if v := os.Getenv("JWT_KEY_ID"); v != "" {
		cfg.JWTKeyID = v
	}
	if v := os.Getenv("JWT_VERIFY_PUBLIC_KEYS"); v != "" {
		cfg.JWTVerifyPublicKeys = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("BOOKHAVEN_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("BOOKHAVEN_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("BOOKHAVEN_ADMIN_EMAILS"); v != "" {
		cfg.AdminEmails = splitCSV(v)
	}
	if v := os.Getenv("BOOKHAVEN_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("BOOKHAVEN_REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("BOOKHAVEN_DELETE_CODE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DeleteCodeRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("BOOKHAVEN_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreMemory
	}
	if cfg.ObjectStore == "" {
		cfg.ObjectStore = ObjectsMemory
	}
	if cfg.NotifyTransport == "" {
		cfg.NotifyTransport = NotifyLog
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "bookhaven"
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for verification codes and rate limiting")
	}
	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for storeDriver postgres (set DATABASE_URL)")
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			return errors.New("config: mongoURI is required for storeDriver mongo (set MONGO_URI)")
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q (memory, postgres, mongo)", cfg.StoreDriver)
	}
	switch cfg.ObjectStore {
	case ObjectsMemory:
	case ObjectsMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for objectStore minio")
		}
	default:
		return fmt.Errorf("config: unknown objectStore %q (memory, minio)", cfg.ObjectStore)
	}
	switch cfg.NotifyTransport {
	case NotifyLog:
	case NotifySMTP:
		if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
			return errors.New("config: smtpHost and smtpFrom are required for notifyTransport smtp")
		}
	case NotifyAMQP:
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required for notifyTransport amqp (set AMQP_URL)")
		}
	default:
		return fmt.Errorf("config: unknown notifyTransport %q (log, smtp, amqp)", cfg.NotifyTransport)
	}
	if (cfg.RazorpayKeyID == "") != (cfg.RazorpayKeySecret == "") {
		return errors.New("config: razorpayKeyId and razorpayKeySecret must be set together")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 || cfg.DeleteCodeRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.VerificationMaxAttempts < 0 {
		return errors.New("config: verificationMaxAttempts must be >= 0")
	}
	return nil
}

// PaymentsEnabled reports whether Razorpay credentials are configured.
func (c FileConfig) PaymentsEnabled() bool {
	return c.RazorpayKeyID != "" && c.RazorpayKeySecret != ""
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration field; name is used in errors.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		kid := strings.TrimSpace(parts[0])
		path := strings.TrimSpace(parts[1])
		if kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
