package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:            &AppConfig{},
		Logger:               &logger.Config{},
		Tracing:              &tracing.JaegerConfig{},
		DatabaseConfig:       &DatabaseConfig{},
		GoogleOAuthConfig:    &GoogleOAuthConfig{},
		MicrosoftOAuthConfig: &MicrosoftOAuthConfig{},
		YahooImapConfig:      &YahooImapConfig{},
		CryptoConfig:         &CryptoConfig{},
		CronConfig:           &CronConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailsweep config: %v", err)
	}

	return config, nil
}
