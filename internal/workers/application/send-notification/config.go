package sendnotification

import (
	"time"

	"consulting-crm/internal/common/config"
)

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	Timeout      time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	timeout := 30 * time.Second
	if w := config.GetWorkerConfig(cfg, TaskType); w.Timeout > 0 {
		timeout = config.GetDuration(w.Timeout)
	}
	return &Config{
		EmailEnabled: cfg.Notifications.Email.Enabled,
		SMSEnabled:   cfg.Notifications.SMS.Enabled,
		Timeout:      timeout,
	}
}
