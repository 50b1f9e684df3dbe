package main

import (
	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.ProxyConfig {
	logger.Info("starting filterproxy",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	logger.Info("configuration loaded",
		observability.Int("port", cfg.Port),
		observability.String("target", cfg.TargetAddress()),
		observability.Bool("ssl", cfg.SSLEnabled()),
		observability.String("forward_proxy", cfg.ForwardProxyURL()),
		observability.Bool("cache", cfg.Cache.Enabled),
		observability.Int("workers", cfg.Workers.Size),
		observability.Int("filter_rules", len(cfg.Filters)),
	)

	return cfg
}

// reconfigureLogger applies the log section of the configuration unless
// the command line already chose level and format. The bootstrap logger
// is returned when nothing changes or the new one cannot be built.
func reconfigureLogger(flags cliFlags, cfg *config.ProxyConfig, logger observability.Logger) observability.Logger {
	if cfg == nil {
		return logger
	}

	logCfg := observability.DefaultLogConfig()
	logCfg.Level = firstNonEmpty(flags.logLevel, cfg.Log.Level, logCfg.Level)
	logCfg.Format = firstNonEmpty(flags.logFormat, cfg.Log.Format, logCfg.Format)

	if flags.logLevel == logCfg.Level && flags.logFormat == logCfg.Format {
		return logger
	}

	configured, err := observability.NewLogger(logCfg)
	if err != nil {
		logger.Warn("cannot apply log configuration, keeping defaults", observability.Error(err))
		return logger
	}
	_ = logger.Sync()
	return configured
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
