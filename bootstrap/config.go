package bootstrap

import (
	"fmt"
	"os"

	"securiwatch/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output at the
// given level.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zapLevel)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration from the optional config
// file path plus environment variables.
func InitConfig(configPath string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if configPath == "" {
		sugar.Info("No config file given, using defaults and env vars")
	}

	sugar.Infow("Config loaded",
		"data_dir", cfg.DataPaths.DataDir,
		"sqlite_path", cfg.DataPaths.SQLitePath,
		"api_port", cfg.API.Port,
		"workers", cfg.Engine.Workers,
		"correlation_window_hours", cfg.Engine.CorrelationWindowHours)

	return cfg, nil
}

// EnsureDataDirectories creates the base data directory if missing.
func EnsureDataDirectories(cfg *config.Config, sugar *zap.SugaredLogger) error {
	if err := os.MkdirAll(cfg.DataPaths.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.DataPaths.DataDir, err)
	}
	sugar.Infow("Data directory ready", "path", cfg.DataPaths.DataDir)
	return nil
}
