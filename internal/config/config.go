// Пакет config — загрузка и валидация конфигурации custody-service
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/gocustody/custody-service/internal/hasher"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды реестра.
const (
	LedgerBackendFile     = "file"
	LedgerBackendPostgres = "postgres"
)

// Config содержит все параметры конфигурации custody-service.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения байтов улик
	DataDir string
	// Путь к директории custody-документов (file-бэкенд реестра)
	LedgerDir string
	// Путь к директории WAL
	WALDir string
	// Бэкенд реестра: file или postgres
	LedgerBackend string
	// Логическая локация по умолчанию при приёме
	DefaultLocation string
	// Алгоритм fingerprint (md5, sha1, sha256, sha512)
	HashAlgorithm hasher.Algorithm
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Максимальный размер страницы выборки
	MaxPageSize int
	// Размер LRU-кэша проверок целостности
	IntegrityCacheSize int
	// TTL записи кэша проверок целостности
	IntegrityCacheTTL time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Параметры PostgreSQL (только для бэкенда postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// CS_PORT — порт HTTP-сервера (по умолчанию 8020)
	port, err := getEnvInt("CS_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("CS_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("CS_PORT: значение %d вне допустимого диапазона", port)
	}
	cfg.Port = port

	// CS_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("CS_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// CS_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("CS_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// CS_LEDGER_BACKEND — бэкенд реестра (по умолчанию file)
	cfg.LedgerBackend = getEnvDefault("CS_LEDGER_BACKEND", LedgerBackendFile)
	switch cfg.LedgerBackend {
	case LedgerBackendFile:
		// CS_LEDGER_DIR — обязательный для file-бэкенда
		cfg.LedgerDir, err = getEnvRequired("CS_LEDGER_DIR")
		if err != nil {
			return nil, err
		}
	case LedgerBackendPostgres:
		if err := loadDBConfig(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("CS_LEDGER_BACKEND: недопустимое значение %q, допустимые: file, postgres", cfg.LedgerBackend)
	}

	// CS_DEFAULT_LOCATION — локация приёма по умолчанию
	cfg.DefaultLocation = getEnvDefault("CS_DEFAULT_LOCATION", "intake")

	// CS_HASH_ALGORITHM — алгоритм fingerprint (по умолчанию sha256)
	alg, err := hasher.Parse(getEnvDefault("CS_HASH_ALGORITHM", string(hasher.Default)))
	if err != nil {
		return nil, fmt.Errorf("CS_HASH_ALGORITHM: %w", err)
	}
	cfg.HashAlgorithm = alg

	// CS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	maxFileSize, err := getEnvInt64("CS_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("CS_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("CS_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// CS_MAX_PAGE_SIZE — максимальный размер страницы (по умолчанию 1000)
	cfg.MaxPageSize, err = getEnvInt("CS_MAX_PAGE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("CS_MAX_PAGE_SIZE: %w", err)
	}
	if cfg.MaxPageSize <= 0 {
		return nil, fmt.Errorf("CS_MAX_PAGE_SIZE: значение должно быть положительным")
	}

	// CS_INTEGRITY_CACHE_SIZE — размер кэша проверок целостности (по умолчанию 1024)
	cfg.IntegrityCacheSize, err = getEnvInt("CS_INTEGRITY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("CS_INTEGRITY_CACHE_SIZE: %w", err)
	}

	// CS_INTEGRITY_CACHE_TTL — TTL кэша проверок целостности (по умолчанию 5m)
	cfg.IntegrityCacheTTL, err = getEnvDuration("CS_INTEGRITY_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_INTEGRITY_CACHE_TTL: %w", err)
	}

	// CS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CS_LOG_LEVEL: %w", err)
	}

	// CS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// CS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDBConfig загружает параметры PostgreSQL.
func loadDBConfig(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("CS_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("CS_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("CS_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("CS_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("CS_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("CS_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("CS_DB_SSLMODE", "disable")
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
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

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень логирования %q, допустимые: debug, info, warn, error", level)
	}
}
