package config

import (
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

type AppConfig struct {
	APIPort           string `env:"PORT" envDefault:"12333"`
	BaseURL           string `env:"MAILSWEEP_BASE_URL" envDefault:"https://mailsweep.app"`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"mailsweep_session"`
	SessionTTLHours   int    `env:"SESSION_TTL_HOURS" envDefault:"24"`

	FreeMonthlyQuota int `env:"FREE_MONTHLY_QUOTA" envDefault:"100"`
	SweepWorkers     int `env:"SWEEP_WORKERS" envDefault:"5"`
	ScanPageSize     int `env:"SCAN_PAGE_SIZE" envDefault:"100"`
	ScanMaxResults   int `env:"SCAN_MAX_RESULTS" envDefault:"500"`
	BackupQueueSize  int `env:"BACKUP_QUEUE_SIZE" envDefault:"64"`

	ProviderTimeoutSeconds int `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"30"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILSWEEP_POSTGRES_HOST,required"`
	Port            string `env:"MAILSWEEP_POSTGRES_PORT,required"`
	User            string `env:"MAILSWEEP_POSTGRES_USER,required"`
	DBName          string `env:"MAILSWEEP_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILSWEEP_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILSWEEP_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"MAILSWEEP_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"MAILSWEEP_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"MAILSWEEP_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILSWEEP_POSTGRES_SSL_MODE" envDefault:"require"`
}

type GoogleOAuthConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
}

type MicrosoftOAuthConfig struct {
	ClientID     string `env:"MICROSOFT_CLIENT_ID"`
	ClientSecret string `env:"MICROSOFT_CLIENT_SECRET"`
}

type YahooImapConfig struct {
	Host string `env:"YAHOO_IMAP_HOST" envDefault:"imap.mail.yahoo.com"`
	Port int    `env:"YAHOO_IMAP_PORT" envDefault:"993"`
}

type CryptoConfig struct {
	// 32-byte key, base64 encoded. Credentials never touch disk unencrypted.
	EncryptionKey string `env:"CREDENTIAL_ENCRYPTION_KEY,required"`
}

type CronConfig struct {
	QuotaResetSchedule  string `env:"CRON_SCHEDULE_QUOTA_RESET" envDefault:"0 5 0 * * *"`
	PurgeExpirySchedule string `env:"CRON_SCHEDULE_PURGE_EXPIRY" envDefault:"0 15 0 * * *"`
}

type Config struct {
	AppConfig            *AppConfig
	Logger               *logger.Config
	Tracing              *tracing.JaegerConfig
	DatabaseConfig       *DatabaseConfig
	GoogleOAuthConfig    *GoogleOAuthConfig
	MicrosoftOAuthConfig *MicrosoftOAuthConfig
	YahooImapConfig      *YahooImapConfig
	CryptoConfig         *CryptoConfig
	CronConfig           *CronConfig
}
