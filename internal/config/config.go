package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	logx "cassa/internal/log"
	"cassa/internal/members"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Group
	Members string

	// Backend selection
	DataBackend   string
	DataDirectory string

	// Database
	SQLiteDBPath string

	// AMQP (optional, events are disabled when AMQPURL is empty)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleExpensesSheet      string
	GoogleFundSheet          string
	GoogleMembersSheet       string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Worker
	AuditInterval time.Duration

	// Caching
	SettlementCacheTTL time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		Members: getEnv("MEMBERS", ""),

		DataBackend:   getEnv("DATA_BACKEND", "memory"),
		DataDirectory: getEnv("DATA_DIR", "data"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/cassa.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "cassa"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "cassa_ledger_events"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleExpensesSheet:      getEnv("GOOGLE_EXPENSES_SHEET", "Expenses"),
		GoogleFundSheet:          getEnv("GOOGLE_FUND_SHEET", "FundTransactions"),
		GoogleMembersSheet:       getEnv("GOOGLE_MEMBERS_SHEET", "FundMembers"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		AuditInterval:      getEnvDuration("AUDIT_INTERVAL", 5*time.Minute),
		SettlementCacheTTL: getEnvDuration("SETTLEMENT_CACHE_TTL", time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.Members) == "" {
		errors = append(errors, "MEMBERS is required, e.g. MEMBERS=\"G:Giang,T:Tuan,Q:Quang\"")
	} else if _, err := members.Parse(c.Members); err != nil {
		errors = append(errors, fmt.Sprintf("invalid MEMBERS: %v", err))
	}

	// Validate data backend
	validBackends := []string{"memory", "sheets", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate Google Sheets configuration if backend is sheets
	if c.DataBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleExpensesSheet == "" || c.GoogleFundSheet == "" || c.GoogleMembersSheet == "" {
			errors = append(errors, "Google sheet names cannot be empty when using sheets backend")
		} else if c.GoogleExpensesSheet == c.GoogleFundSheet || c.GoogleFundSheet == c.GoogleMembersSheet || c.GoogleExpensesSheet == c.GoogleMembersSheet {
			errors = append(errors, "Google sheet names must be distinct")
		}

		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets backend")
		}
		if !hasJSON && hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Validate worker configuration
	if c.AuditInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid audit interval %v: must be at least 1 second", c.AuditInterval))
	} else if c.AuditInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid audit interval %v: must be at most 24 hours", c.AuditInterval))
	}

	if c.SettlementCacheTTL < 0 || c.SettlementCacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid settlement cache TTL %v: must be between 0 and 24 hours", c.SettlementCacheTTL))
	}

	if c.RateLimitPerMinute < 1 || c.RateLimitPerMinute > 10000 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be between 1 and 10000 requests per minute", c.RateLimitPerMinute))
	}

	if _, err := logx.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Directory builds the member directory. Call after Validate.
func (c *Config) Directory() (*members.Static, error) {
	return members.Parse(c.Members)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
