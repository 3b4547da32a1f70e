package applytransition

import (
	"time"

	"consulting-crm/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	timeout := 10 * time.Second
	if w := config.GetWorkerConfig(cfg, TaskType); w.Timeout > 0 {
		timeout = config.GetDuration(w.Timeout)
	}
	return &Config{Timeout: timeout}
}
