package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	BaseURL     string
	PostgresURL string

	SessionSecret       []byte
	SessionCookieSecure bool

	KafkaBrokers []string

	PagSeguroEmail   string
	PagSeguroToken   string
	PagSeguroSandbox bool

	OTLPEndpoint string

	SMTPAddress  string
	SMTPHost     string
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	MigrationsPath string
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win.
func Load() (*Config, error) {
	return LoadFile(".env")
}

func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "8080"),
		BaseURL:             strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		PostgresURL:         os.Getenv("POSTGRES_URL"),
		SessionSecret:       []byte(os.Getenv("SESSION_SECRET")),
		SessionCookieSecure: getEnvBool("SESSION_COOKIE_SECURE", false),
		PagSeguroEmail:      os.Getenv("PAGSEGURO_EMAIL"),
		PagSeguroToken:      os.Getenv("PAGSEGURO_TOKEN"),
		PagSeguroSandbox:    getEnvBool("PAGSEGURO_SANDBOX", true),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SMTPAddress:         os.Getenv("SMTP_ADDRESS"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		MailFrom:            getEnvOrDefault("MAIL_FROM", "no-reply@localhost"),
		MigrationsPath:      getEnvOrDefault("MIGRATIONS_PATH", "file://migrations"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg, nil
}

func (c *Config) RequireDatabase() error {
	if c.PostgresURL == "" {
		return errors.New("POSTGRES_URL environment variable is required")
	}
	return nil
}

func (c *Config) RequireSession() error {
	if len(c.SessionSecret) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 bytes")
	}
	return nil
}

func (c *Config) RequireKafka() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS environment variable is required")
	}
	return nil
}

func (c *Config) PagSeguroEnabled() bool {
	return c.PagSeguroEmail != "" && c.PagSeguroToken != ""
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTPAddress != ""
}

func getEnvOrDefault(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}
