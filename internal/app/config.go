package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/utils"
)

// FatalConfigError is a misconfiguration that must stop the process before
// any remote call is attempted.
type FatalConfigError struct {
	Field  string
	Reason string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config gathers the environment settings shared by the API and the worker.
type Config struct {
	Env string

	Port string

	BDNSBaseURL string
	BDNSSize    int
	BDNSTimeout time.Duration

	SyncBatchSize  int
	SyncMaxPages   int
	WorkerLimit    int
	TriggerToken   string
	AllowedOrigins string
}

func Load(log *logger.Logger) Config {
	return Config{
		Env:            strings.ToLower(utils.GetEnv("APP_ENV", "development", log)),
		Port:           utils.GetEnv("PORT", "8080", log),
		BDNSBaseURL:    utils.GetEnv("BDNS_BASE_URL", "https://www.infosubvenciones.es/bdnstrans/GE/es/api/v2.1", log),
		BDNSSize:       utils.GetEnvAsInt("BDNS_PAGE_SIZE", 200, log),
		BDNSTimeout:    time.Duration(utils.GetEnvAsInt("BDNS_TIMEOUT_SECONDS", 30, log)) * time.Second,
		SyncBatchSize:  utils.GetEnvAsInt("SYNC_BATCH_SIZE", 20, log),
		SyncMaxPages:   utils.GetEnvAsInt("SYNC_MAX_PAGES", 0, log),
		WorkerLimit:    utils.GetEnvAsInt("SYNC_WORKER_LIMIT", 4, log),
		TriggerToken:   utils.GetEnv("SYNC_TRIGGER_TOKEN", "", log),
		AllowedOrigins: utils.GetEnv("CORS_ALLOW_ORIGINS", "", log),
	}
}

// Validate runs before anything talks to the network.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BDNSBaseURL) == "" {
		return &FatalConfigError{Field: "BDNS_BASE_URL", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(c.BDNSBaseURL, "http://") && !strings.HasPrefix(c.BDNSBaseURL, "https://") {
		return &FatalConfigError{Field: "BDNS_BASE_URL", Reason: "must be an http(s) URL"}
	}
	if c.Env == "production" && strings.TrimSpace(c.TriggerToken) == "" {
		return &FatalConfigError{Field: "SYNC_TRIGGER_TOKEN", Reason: "required in production"}
	}
	if c.BDNSSize < 1 {
		return &FatalConfigError{Field: "BDNS_PAGE_SIZE", Reason: "must be positive"}
	}
	return nil
}
