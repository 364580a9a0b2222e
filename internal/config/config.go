package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port   string
	DBPath string

	BankAPIURL      string
	BankTokenURL    string
	BankClientID    string
	BankClientKey   string
	StatementURL    string
	AccountsAPIURL  string
	PrioritiesURL   string
	DefaultBankCode string

	MerchantName string
	MerchantCity string

	ReconIntervalHours int
}

// Load reads an optional .env file and assembles the configuration from the
// environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] no .env file, using environment variables only")
	}

	return &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "psp.db"),

		BankAPIURL:      getEnv("BANK_API_URL", "http://localhost:9090"),
		BankTokenURL:    getEnv("BANK_TOKEN_URL", "http://localhost:9090/oauth/token"),
		BankClientID:    getEnv("BANK_CLIENT_ID", ""),
		BankClientKey:   getEnv("BANK_CLIENT_SECRET", ""),
		StatementURL:    getEnv("BANK_STATEMENT_URL", "http://localhost:9090"),
		AccountsAPIURL:  getEnv("ACCOUNTS_API_URL", "http://localhost:9091"),
		PrioritiesURL:   getEnv("PRIORITIES_API_URL", "http://localhost:9091"),
		DefaultBankCode: getEnv("DEFAULT_BANK_CODE", "341"),

		MerchantName: getEnv("MERCHANT_NAME", "PAGOLIVRE"),
		MerchantCity: getEnv("MERCHANT_CITY", "SAO PAULO"),

		ReconIntervalHours: getEnvInt("RECON_INTERVAL_HOURS", 24),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
