// internal/config/env.go

package config

import (
	"fmt"
	"os"
	"strconv"

	"meshmon/internal/logger"

	"github.com/joho/godotenv"
)

// Bootstrap holds the handful of process-level settings read from the
// environment before the JSON config file is available.
type Bootstrap struct {
	ConfigPath string
	LogLevel   logger.Level
	LogMode    logger.Mode
	LogFile    string
	UseColors  bool
}

func LoadBootstrap() Bootstrap {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	return Bootstrap{
		ConfigPath: getEnv("MESHMON_CONFIG", "config/app_config.json"),
		LogLevel:   logger.ParseLevel(getEnv("MESHMON_LOG_LEVEL", "info")),
		LogMode:    logger.ParseMode(getEnv("MESHMON_LOG_MODE", "normal")),
		LogFile:    getEnv("MESHMON_LOG_FILE", ""),
		UseColors:  getEnvAsBool("MESHMON_LOG_COLORS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
