// Пакет config — загрузка и валидация конфигурации файлового обменника.
//
// Источники в порядке приоритета:
//  1. Переменные окружения FS_*
//  2. .env файл (FS_ENV_FILE, по умолчанию ".env"): заполняет только
//     незаданные переменные окружения
//  3. TOML-файл (FS_CONFIG_FILE): ключи без префикса в нижнем регистре,
//     например port = 8080, base_url = "https://share.example.com"
//  4. Значения по умолчанию
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// envPrefix — префикс переменных окружения.
const envPrefix = "FS_"

// Config содержит все параметры конфигурации файлового обменника.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Публичный базовый URL для ссылок на скачивание
	BaseURL string
	// Срок жизни ссылки по умолчанию
	LinkTTL time.Duration
	// Максимальный размер файла в байтах
	MaxFileSize int64

	// Интервал очистки истёкших файлов
	SweepInterval time.Duration
	// Ограничение выборки за один запуск очистки (0 — без ограничения)
	SweepBatchSize int
	// Интервал сверки blob-хранилища (0 — сверка отключена)
	ReconcileInterval time.Duration
	// Минимальный возраст blob без записи для удаления сверкой
	ReconcileGrace time.Duration
	// Lock-файл на общей FS для выбора экземпляра, выполняющего очистку
	// (пустой — очистка выполняется каждым экземпляром)
	LeaderLockFile string

	// Blob-хранилище: filesystem, memory, s3
	BlobBackend string
	// Корневая директория filesystem-хранилища
	BlobRoot       string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Хранилище записей: postgres, sqlite, memory
	DBDriver   string
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	DBMaxConns int32
	// Путь к файлу SQLite
	SQLitePath string

	// Хранилище счётчиков ограничения частоты: memory, redis
	RateLimitBackend string
	// Лимит загрузок на клиента за окно
	UploadLimit  int
	UploadWindow time.Duration
	// Лимит попыток аутентификации администратора за окно
	AuthLimit  int
	AuthWindow time.Duration
	// Максимум отслеживаемых клиентов в памяти
	RateLimitMaxClients int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Префикс ключей счётчиков в Redis
	RedisPrefix string

	// URL JWKS endpoint (пустой — JWT отключён)
	JWKSURL string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert          string
	JWKSTLSSkipVerify   bool
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration

	// Статический токен администратора (пустой — только JWT)
	AdminToken string
	// Scope JWT для административных операций
	AdminScope string

	// SMTP (пустой SMTPHost — письма пишутся в лог)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	// Писем в минуту (0 — без ограничения)
	MailRate int

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	HTTPReadTimeout time.Duration
	// 0 — без ограничения: скачивание больших файлов может быть долгим
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут обработки загрузки и админ-операций
	RequestTimeout time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Origin браузерных клиентов, которым разрешены кросс-доменные запросы
	CORSAllowedOrigins []string
}

// source — значения конфигурации: окружение поверх TOML-файла.
type source struct {
	file map[string]string
}

// get возвращает значение ключа FS_XXX: из окружения, иначе из файла (ключ xxx).
func (s source) get(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return s.file[strings.ToLower(strings.TrimPrefix(key, envPrefix))]
}

// Load загружает конфигурацию, валидирует обязательные поля и возвращает
// Config или ошибку.
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvDefault("FS_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	src := source{}
	if path := os.Getenv("FS_CONFIG_FILE"); path != "" {
		file, err := loadTOML(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	return src.load()
}

// loadEnvFile загружает .env файл. Отсутствие файла не ошибка.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("FS_ENV_FILE: загрузка %s: %w", path, err)
	}
	return nil
}

// loadTOML читает плоскую TOML-таблицу и приводит значения к строкам.
func loadTOML(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("FS_CONFIG_FILE: разбор %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[strings.ToLower(k)] = val
		case int64, float64, bool:
			out[strings.ToLower(k)] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("FS_CONFIG_FILE: ключ %q: вложенные таблицы и массивы не поддерживаются", k)
		}
	}
	return out, nil
}

func (s source) load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = s.getInt("FS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FS_BASE_URL — обязательный, http(s)
	cfg.BaseURL, err = s.getRequired("FS_BASE_URL")
	if err != nil {
		return nil, err
	}
	if u, perr := url.Parse(cfg.BaseURL); perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("FS_BASE_URL: ожидается абсолютный http(s) URL, получено %q", cfg.BaseURL)
	}

	// FS_LINK_TTL_HOURS — срок жизни ссылки в часах (по умолчанию 24)
	ttlHours, err := s.getInt("FS_LINK_TTL_HOURS", 24)
	if err != nil {
		return nil, fmt.Errorf("FS_LINK_TTL_HOURS: %w", err)
	}
	if ttlHours <= 0 {
		return nil, fmt.Errorf("FS_LINK_TTL_HOURS: значение должно быть положительным")
	}
	cfg.LinkTTL = time.Duration(ttlHours) * time.Hour

	// FS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	cfg.MaxFileSize, err = s.getInt64("FS_MAX_FILE_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// FS_SWEEP_INTERVAL — интервал очистки (по умолчанию 10m)
	cfg.SweepInterval, err = s.getDuration("FS_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FS_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("FS_SWEEP_INTERVAL: значение должно быть положительным")
	}

	cfg.SweepBatchSize, err = s.getInt("FS_SWEEP_BATCH_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("FS_SWEEP_BATCH_SIZE: %w", err)
	}

	// FS_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h, 0 — отключена)
	cfg.ReconcileInterval, err = s.getDuration("FS_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FS_RECONCILE_INTERVAL: %w", err)
	}
	cfg.ReconcileGrace, err = s.getDuration("FS_RECONCILE_GRACE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FS_RECONCILE_GRACE: %w", err)
	}
	cfg.LeaderLockFile = s.get("FS_LEADER_LOCK_FILE")

	if err := s.loadBlob(cfg); err != nil {
		return nil, err
	}
	if err := s.loadDB(cfg); err != nil {
		return nil, err
	}
	if err := s.loadRateLimit(cfg); err != nil {
		return nil, err
	}
	if err := s.loadAuth(cfg); err != nil {
		return nil, err
	}
	if err := s.loadMail(cfg); err != nil {
		return nil, err
	}

	// FS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(s.getDefault("FS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FS_LOG_LEVEL: %w", err)
	}

	// FS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = s.getDefault("FS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"FS_HTTP_READ_TIMEOUT", &cfg.HTTPReadTimeout, 60 * time.Second},
		{"FS_HTTP_WRITE_TIMEOUT", &cfg.HTTPWriteTimeout, 0},
		{"FS_HTTP_IDLE_TIMEOUT", &cfg.HTTPIdleTimeout, 120 * time.Second},
		{"FS_REQUEST_TIMEOUT", &cfg.RequestTimeout, 60 * time.Second},
		{"FS_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 10 * time.Second},
		{"FS_DEPHEALTH_CHECK_INTERVAL", &cfg.DephealthCheckInterval, 15 * time.Second},
	}
	for _, d := range durations {
		*d.dst, err = s.getDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	cfg.DephealthGroup = s.getDefault("FS_DEPHEALTH_GROUP", "fileshare")

	// FS_CORS_ALLOWED_ORIGINS — список через запятую, по умолчанию любой origin
	cfg.CORSAllowedOrigins = s.getList("FS_CORS_ALLOWED_ORIGINS", []string{"*"})

	return cfg, nil
}

// loadBlob — параметры blob-хранилища.
func (s source) loadBlob(cfg *Config) error {
	var err error

	cfg.BlobBackend = s.getDefault("FS_BLOB_BACKEND", "filesystem")
	switch cfg.BlobBackend {
	case "filesystem", "memory", "s3":
	default:
		return fmt.Errorf("FS_BLOB_BACKEND: недопустимое значение %q, допустимые: filesystem, memory, s3", cfg.BlobBackend)
	}

	cfg.BlobRoot = s.getDefault("FS_BLOB_ROOT", "./uploads")

	cfg.S3Bucket = s.get("FS_S3_BUCKET")
	cfg.S3Prefix = s.get("FS_S3_PREFIX")
	cfg.S3Region = s.getDefault("FS_S3_REGION", "us-east-1")
	cfg.S3Endpoint = s.get("FS_S3_ENDPOINT")
	cfg.S3AccessKey = s.get("FS_S3_ACCESS_KEY")
	cfg.S3SecretKey = s.get("FS_S3_SECRET_KEY")
	cfg.S3UsePathStyle, err = s.getBool("FS_S3_USE_PATH_STYLE", false)
	if err != nil {
		return fmt.Errorf("FS_S3_USE_PATH_STYLE: %w", err)
	}

	if cfg.BlobBackend == "s3" && cfg.S3Bucket == "" {
		return fmt.Errorf("FS_S3_BUCKET: обязателен при FS_BLOB_BACKEND=s3")
	}
	return nil
}

// loadDB — параметры хранилища записей.
func (s source) loadDB(cfg *Config) error {
	var err error

	cfg.DBDriver = s.getDefault("FS_DB_DRIVER", "sqlite")
	switch cfg.DBDriver {
	case "postgres":
		if cfg.DBHost, err = s.getRequired("FS_DB_HOST"); err != nil {
			return err
		}
		if cfg.DBName, err = s.getRequired("FS_DB_NAME"); err != nil {
			return err
		}
		if cfg.DBUser, err = s.getRequired("FS_DB_USER"); err != nil {
			return err
		}
		cfg.DBPassword = s.get("FS_DB_PASSWORD")
	case "sqlite", "memory":
	default:
		return fmt.Errorf("FS_DB_DRIVER: недопустимое значение %q, допустимые: postgres, sqlite, memory", cfg.DBDriver)
	}

	cfg.DBPort, err = s.getInt("FS_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("FS_DB_PORT: %w", err)
	}

	cfg.DBSSLMode = s.getDefault("FS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("FS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	maxConns, err := s.getInt("FS_DB_MAX_CONNS", 10)
	if err != nil {
		return fmt.Errorf("FS_DB_MAX_CONNS: %w", err)
	}
	if maxConns <= 0 {
		return fmt.Errorf("FS_DB_MAX_CONNS: значение должно быть положительным")
	}
	cfg.DBMaxConns = int32(maxConns) //nolint:gosec // значение проверено выше

	cfg.SQLitePath = s.getDefault("FS_SQLITE_PATH", "fileshare.db")
	return nil
}

// loadRateLimit — параметры ограничения частоты.
func (s source) loadRateLimit(cfg *Config) error {
	var err error

	cfg.RateLimitBackend = s.getDefault("FS_RATELIMIT_BACKEND", "memory")
	if cfg.RateLimitBackend != "memory" && cfg.RateLimitBackend != "redis" {
		return fmt.Errorf("FS_RATELIMIT_BACKEND: недопустимое значение %q, допустимые: memory, redis", cfg.RateLimitBackend)
	}

	if cfg.UploadLimit, err = s.getInt("FS_RATELIMIT_UPLOADS", 20); err != nil {
		return fmt.Errorf("FS_RATELIMIT_UPLOADS: %w", err)
	}
	if cfg.UploadWindow, err = s.getDuration("FS_RATELIMIT_UPLOAD_WINDOW", time.Hour); err != nil {
		return fmt.Errorf("FS_RATELIMIT_UPLOAD_WINDOW: %w", err)
	}
	if cfg.AuthLimit, err = s.getInt("FS_RATELIMIT_AUTH", 10); err != nil {
		return fmt.Errorf("FS_RATELIMIT_AUTH: %w", err)
	}
	if cfg.AuthWindow, err = s.getDuration("FS_RATELIMIT_AUTH_WINDOW", 15*time.Minute); err != nil {
		return fmt.Errorf("FS_RATELIMIT_AUTH_WINDOW: %w", err)
	}
	if cfg.RateLimitMaxClients, err = s.getInt("FS_RATELIMIT_MAX_CLIENTS", 10000); err != nil {
		return fmt.Errorf("FS_RATELIMIT_MAX_CLIENTS: %w", err)
	}
	if cfg.UploadLimit <= 0 || cfg.AuthLimit <= 0 || cfg.UploadWindow <= 0 || cfg.AuthWindow <= 0 {
		return fmt.Errorf("FS_RATELIMIT_*: лимиты и окна должны быть положительными")
	}

	cfg.RedisAddr = s.get("FS_REDIS_ADDR")
	cfg.RedisPassword = s.get("FS_REDIS_PASSWORD")
	if cfg.RedisDB, err = s.getInt("FS_REDIS_DB", 0); err != nil {
		return fmt.Errorf("FS_REDIS_DB: %w", err)
	}
	cfg.RedisPrefix = s.getDefault("FS_REDIS_PREFIX", "fileshare:rl:")

	if cfg.RateLimitBackend == "redis" && cfg.RedisAddr == "" {
		return fmt.Errorf("FS_REDIS_ADDR: обязателен при FS_RATELIMIT_BACKEND=redis")
	}
	return nil
}

// loadAuth — параметры JWT и административного доступа.
func (s source) loadAuth(cfg *Config) error {
	var err error

	cfg.JWKSURL = s.get("FS_JWKS_URL")
	cfg.JWKSCACert = s.get("FS_JWKS_CA_CERT")
	if cfg.JWKSTLSSkipVerify, err = s.getBool("FS_JWKS_TLS_SKIP_VERIFY", false); err != nil {
		return fmt.Errorf("FS_JWKS_TLS_SKIP_VERIFY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = s.getDuration("FS_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return fmt.Errorf("FS_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = s.getDuration("FS_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return fmt.Errorf("FS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = s.getDuration("FS_JWT_LEEWAY", 5*time.Second); err != nil {
		return fmt.Errorf("FS_JWT_LEEWAY: %w", err)
	}

	cfg.AdminToken = s.get("FS_ADMIN_TOKEN")
	cfg.AdminScope = s.getDefault("FS_ADMIN_SCOPE", "fileshare:admin")
	return nil
}

// loadMail — параметры отправки писем.
func (s source) loadMail(cfg *Config) error {
	var err error

	cfg.SMTPHost = s.get("FS_SMTP_HOST")
	if cfg.SMTPPort, err = s.getInt("FS_SMTP_PORT", 587); err != nil {
		return fmt.Errorf("FS_SMTP_PORT: %w", err)
	}
	cfg.SMTPUsername = s.get("FS_SMTP_USERNAME")
	cfg.SMTPPassword = s.get("FS_SMTP_PASSWORD")
	cfg.MailFrom = s.get("FS_MAIL_FROM")
	if cfg.MailRate, err = s.getInt("FS_MAIL_RATE", 60); err != nil {
		return fmt.Errorf("FS_MAIL_RATE: %w", err)
	}
	if cfg.MailRate < 0 {
		return fmt.Errorf("FS_MAIL_RATE: значение не может быть отрицательным")
	}

	if cfg.SMTPHost != "" && cfg.MailFrom == "" {
		return fmt.Errorf("FS_MAIL_FROM: обязателен при заданном FS_SMTP_HOST")
	}
	return nil
}

// PostgresDSN возвращает URL подключения к PostgreSQL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getRequired возвращает значение или ошибку, если оно не задано.
func (s source) getRequired(key string) (string, error) {
	val := s.get(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getDefault возвращает значение или значение по умолчанию.
func (s source) getDefault(key, defaultVal string) string {
	if val := s.get(key); val != "" {
		return val
	}
	return defaultVal
}

// getList разбирает список через запятую, пустые элементы отбрасываются.
func (s source) getList(key string, defaultVal []string) []string {
	var out []string
	for item := range strings.SplitSeq(s.get(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// getInt возвращает целочисленное значение или значение по умолчанию.
func (s source) getInt(key string, defaultVal int) (int, error) {
	val := s.get(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getInt64 возвращает int64 значение или значение по умолчанию.
func (s source) getInt64(key string, defaultVal int64) (int64, error) {
	val := s.get(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getBool возвращает булево значение или значение по умолчанию.
func (s source) getBool(key string, defaultVal bool) (bool, error) {
	val := s.get(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getDuration возвращает time.Duration или значение по умолчанию.
func (s source) getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := s.get(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvDefault читает только окружение: используется до загрузки TOML.
func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
