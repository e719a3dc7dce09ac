package microauth

import (
	"time"

	"github.com/panyam/microauth/config"
)

// ConfigProvider reads dotted keys ("session.timeout") from the host
// configuration. Implementations return def when the key is absent.
type ConfigProvider interface {
	Get(key string, def any) any
}

func configString(cfg ConfigProvider, key, def string) string {
	return config.AsString(cfg.Get(key, def), def)
}

func configBool(cfg ConfigProvider, key string, def bool) bool {
	return config.AsBool(cfg.Get(key, def), def)
}

func configInt(cfg ConfigProvider, key string, def int64) int64 {
	return config.AsInt64(cfg.Get(key, def), def)
}

// configSeconds reads an integer number of seconds as a duration.
func configSeconds(cfg ConfigProvider, key string, def int64) time.Duration {
	return time.Duration(configInt(cfg, key, def)) * time.Second
}

func configStrings(cfg ConfigProvider, key string, def []string) []string {
	return config.AsStrings(cfg.Get(key, def), def)
}
