package main

import (
	"os"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	pgutil "github.com/code-payments/tokenitis-server/pkg/database/postgres"
	"github.com/code-payments/tokenitis-server/pkg/metrics"
)

type config struct {
	LogLevel string `mapstructure:"log_level"`

	AppName            string `mapstructure:"app_name"`
	NewRelicLicenseKey string `mapstructure:"new_relic_license_key"`

	DbHost               string `mapstructure:"db_host"`
	DbPort               int    `mapstructure:"db_port"`
	DbUser               string `mapstructure:"db_user"`
	DbPassword           string `mapstructure:"db_password"`
	DbName               string `mapstructure:"db_name"`
	DbMaxOpenConnections int    `mapstructure:"db_max_open_connections"`
	DbMaxIdleConnections int    `mapstructure:"db_max_idle_connections"`
}

var defaultConfig = config{
	LogLevel: "warn",
	AppName:  "tokenitis-inspect",

	DbHost: "localhost",
	DbPort: 5432,
	DbName: "tokenitis",

	DbMaxOpenConnections: 2,
	DbMaxIdleConnections: 1,
}

func init() {
	_ = viper.BindEnv("log_level", "LOG_LEVEL")

	_ = viper.BindEnv("app_name", "APP_NAME")
	_ = viper.BindEnv("new_relic_license_key", "NEW_RELIC_LICENSE_KEY")

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_port", "DB_PORT")
	_ = viper.BindEnv("db_user", "DB_USER")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("db_name", "DB_NAME")
	_ = viper.BindEnv("db_max_open_connections", "DB_MAX_OPEN_CONNECTIONS")
	_ = viper.BindEnv("db_max_idle_connections", "DB_MAX_IDLE_CONNECTIONS")
}

// loadConfig reads the optional config file at path, with environment
// variables taking precedence.
func loadConfig(path string) (*config, error) {
	if _, err := os.Stat(path); err == nil {
		viper.SetConfigFile(path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	err := viper.ReadInConfig()
	_, isConfigNotFound := err.(viper.ConfigFileNotFoundError)
	if err != nil && !isConfigNotFound {
		return nil, err
	}

	conf := defaultConfig
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *config) dbConfig() *pgutil.Config {
	return &pgutil.Config{
		User:               c.DbUser,
		Host:               c.DbHost,
		Password:           c.DbPassword,
		Port:               c.DbPort,
		DbName:             c.DbName,
		MaxOpenConnections: c.DbMaxOpenConnections,
		MaxIdleConnections: c.DbMaxIdleConnections,
	}
}

func configureLogger(conf *config, metricsProvider *newrelic.Application) {
	if metricsProvider != nil {
		logrus.SetFormatter(metrics.NewCustomNewRelicLogFormatter(metricsProvider, &logrus.JSONFormatter{}))
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(strings.ToLower(conf.LogLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", conf.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}

	// Stdout is reserved for command output
	logrus.SetOutput(os.Stderr)
}
