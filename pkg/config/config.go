package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Academic   AcademicConfig
	Transfers  TransfersConfig
	StudentIDs StudentIDConfig
	Jobs       JobsConfig
	Documents  DocumentsConfig
	Mail       MailConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AcademicConfig is the fallback period used when general_settings is empty.
type AcademicConfig struct {
	SchoolYear string
	Semester   int
	CacheTTL   time.Duration
}

// TransfersConfig tunes section transfer endpoints.
type TransfersConfig struct {
	TargetsCacheTTL time.Duration
	BulkMaxItems    int
}

// StudentIDConfig holds the renumbering guard rails.
type StudentIDConfig struct {
	MinID                   int64
	MaxID                   int64
	EnrollmentWarnThreshold int
	TransactionWarnThresh   int
	RecentTransactionWindow time.Duration
	OptionalTables          []string
}

// QueueConfig describes one named background queue.
type QueueConfig struct {
	Workers    int
	MaxTries   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// JobsConfig groups the queues started by the API process.
type JobsConfig struct {
	Transfers   QueueConfig
	StudentIDs  QueueConfig
	Documents   QueueConfig
	ConflictTTL time.Duration
}

// DocumentsConfig controls generated document storage.
type DocumentsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// MailConfig configures outbound email.
type MailConfig struct {
	Enabled       bool
	SendgridKey   string
	FromName      string
	FromAddress   string
	SubjectPrefix string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Academic = AcademicConfig{
		SchoolYear: v.GetString("ACADEMIC_SCHOOL_YEAR"),
		Semester:   v.GetInt("ACADEMIC_SEMESTER"),
		CacheTTL:   parseDuration(v.GetString("ACADEMIC_SETTINGS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Transfers = TransfersConfig{
		TargetsCacheTTL: parseDuration(v.GetString("TRANSFERS_TARGETS_CACHE_TTL"), time.Minute),
		BulkMaxItems:    v.GetInt("TRANSFERS_BULK_MAX_ITEMS"),
	}

	cfg.StudentIDs = StudentIDConfig{
		MinID:                   v.GetInt64("STUDENT_ID_MIN"),
		MaxID:                   v.GetInt64("STUDENT_ID_MAX"),
		EnrollmentWarnThreshold: v.GetInt("STUDENT_ID_ENROLLMENT_WARN_THRESHOLD"),
		TransactionWarnThresh:   v.GetInt("STUDENT_ID_TRANSACTION_WARN_THRESHOLD"),
		RecentTransactionWindow: parseDuration(v.GetString("STUDENT_ID_RECENT_TRANSACTION_WINDOW"), 30*24*time.Hour),
		OptionalTables:          splitAndTrim(v.GetString("STUDENT_ID_OPTIONAL_TABLES")),
	}

	cfg.Jobs = JobsConfig{
		Transfers:   loadQueue(v, "TRANSFERS"),
		StudentIDs:  loadQueue(v, "STUDENT_IDS"),
		Documents:   loadQueue(v, "DOCUMENTS"),
		ConflictTTL: parseDuration(v.GetString("CONFLICT_REPORT_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Documents = DocumentsConfig{
		StorageDir:      v.GetString("DOCUMENTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 24*time.Hour),
	}

	cfg.Mail = MailConfig{
		Enabled:       v.GetBool("MAIL_ENABLED"),
		SendgridKey:   v.GetString("SENDGRID_API_KEY"),
		FromName:      v.GetString("MAIL_FROM_NAME"),
		FromAddress:   v.GetString("MAIL_FROM_ADDRESS"),
		SubjectPrefix: v.GetString("MAIL_SUBJECT_PREFIX"),
	}

	return cfg, nil
}

func loadQueue(v *viper.Viper, name string) QueueConfig {
	prefix := "JOBS_" + name + "_"
	return QueueConfig{
		Workers:    v.GetInt(prefix + "WORKERS"),
		MaxTries:   v.GetInt(prefix + "MAX_TRIES"),
		RetryDelay: parseDuration(v.GetString(prefix+"RETRY_DELAY"), 10*time.Second),
		Timeout:    parseDuration(v.GetString(prefix+"TIMEOUT"), 5*time.Minute),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_records")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "sma-records-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ACADEMIC_SCHOOL_YEAR", "2024 - 2025")
	v.SetDefault("ACADEMIC_SEMESTER", 1)
	v.SetDefault("ACADEMIC_SETTINGS_CACHE_TTL", "10m")

	v.SetDefault("TRANSFERS_TARGETS_CACHE_TTL", "1m")
	v.SetDefault("TRANSFERS_BULK_MAX_ITEMS", 500)

	v.SetDefault("STUDENT_ID_MIN", 100000)
	v.SetDefault("STUDENT_ID_MAX", 999999)
	v.SetDefault("STUDENT_ID_ENROLLMENT_WARN_THRESHOLD", 10)
	v.SetDefault("STUDENT_ID_TRANSACTION_WARN_THRESHOLD", 5)
	v.SetDefault("STUDENT_ID_RECENT_TRANSACTION_WINDOW", "720h")
	v.SetDefault("STUDENT_ID_OPTIONAL_TABLES", "student_contacts,student_parents_info,student_education_info,student_personal_info,document_locations,student_current_address")

	for _, name := range []string{"TRANSFERS", "STUDENT_IDS", "DOCUMENTS"} {
		prefix := "JOBS_" + name + "_"
		v.SetDefault(prefix+"WORKERS", 1)
		v.SetDefault(prefix+"MAX_TRIES", 3)
		v.SetDefault(prefix+"RETRY_DELAY", "10s")
		v.SetDefault(prefix+"TIMEOUT", "5m")
	}
	v.SetDefault("JOBS_STUDENT_IDS_MAX_TRIES", 2)
	v.SetDefault("JOBS_DOCUMENTS_TIMEOUT", "2m")
	v.SetDefault("CONFLICT_REPORT_CACHE_TTL", "5m")

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./documents")
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "24h")

	v.SetDefault("MAIL_ENABLED", false)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_NAME", "Registrar")
	v.SetDefault("MAIL_FROM_ADDRESS", "registrar@localhost")
	v.SetDefault("MAIL_SUBJECT_PREFIX", "[Registrar] ")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
