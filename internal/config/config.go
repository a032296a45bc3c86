// Package config loads the engine configuration from an optional YAML file
// and the environment. Environment variables always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvServicePort    = "SERVICE_PORT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
	EnvMQTTHost       = "MQTT_BROKER_HOST"
	EnvMQTTPort       = "MQTT_BROKER_PORT"
	EnvMQTTTLS        = "MQTT_USE_TLS"
	EnvMQTTUsername   = "MQTT_USERNAME"
	EnvMQTTPassword   = "MQTT_PASSWORD"
	EnvMaxDevices     = "MAX_DEVICES_PER_INSTANCE"
	EnvModelPath      = "DEVICE_MODEL_PATH"
	EnvInfluxURL      = "INFLUXDB_URL"
	EnvInfluxToken    = "INFLUXDB_TOKEN"
	EnvInfluxOrg      = "INFLUXDB_ORG"
	EnvInfluxBucket   = "INFLUXDB_BUCKET"
	EnvPersistModels  = "PERSIST_MODELS"
	EnvConfigFile     = "FLEETSIM_CONFIG"
)

// Config holds the engine settings.
type Config struct {
	ServicePort int    `yaml:"servicePort"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`

	MQTTBrokerHost string `yaml:"mqttBrokerHost"`
	MQTTBrokerPort int    `yaml:"mqttBrokerPort"`
	MQTTUseTLS     bool   `yaml:"mqttUseTls"`
	MQTTUsername   string `yaml:"mqttUsername"`
	MQTTPassword   string `yaml:"mqttPassword"`

	MaxDevicesPerInstance int    `yaml:"maxDevicesPerInstance"`
	DeviceModelPath       string `yaml:"deviceModelPath"`
	PersistModels         bool   `yaml:"persistModels"`

	InfluxURL    string `yaml:"influxUrl"`
	InfluxToken  string `yaml:"influxToken"`
	InfluxOrg    string `yaml:"influxOrg"`
	InfluxBucket string `yaml:"influxBucket"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ServicePort:           8080,
		LogLevel:              "info",
		LogFormat:             "text",
		MQTTBrokerHost:        "localhost",
		MQTTBrokerPort:        1883,
		MaxDevicesPerInstance: 10000,
		DeviceModelPath:       "/app/device-models",
		InfluxOrg:             "fleetsim",
		InfluxBucket:          "telemetry",
	}
}

// Load builds the effective configuration: defaults, then the YAML file (if
// given), then a .env file (if present), then the environment.
func Load(configFile string) (Config, error) {
	cfg := Default()

	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	// .env is a developer convenience; a missing file is not an error.
	_ = godotenv.Load()

	loadEnv(&cfg)
	return cfg, nil
}

// loadEnv applies environment variables over the current values. Values
// that fail to parse are skipped.
func loadEnv(cfg *Config) {
	setString(EnvLogLevel, &cfg.LogLevel)
	setString(EnvLogFormat, &cfg.LogFormat)
	setString(EnvMQTTHost, &cfg.MQTTBrokerHost)
	setString(EnvMQTTUsername, &cfg.MQTTUsername)
	setString(EnvMQTTPassword, &cfg.MQTTPassword)
	setString(EnvModelPath, &cfg.DeviceModelPath)
	setString(EnvInfluxURL, &cfg.InfluxURL)
	setString(EnvInfluxToken, &cfg.InfluxToken)
	setString(EnvInfluxOrg, &cfg.InfluxOrg)
	setString(EnvInfluxBucket, &cfg.InfluxBucket)

	setInt(EnvServicePort, &cfg.ServicePort)
	setInt(EnvMQTTPort, &cfg.MQTTBrokerPort)
	setInt(EnvMaxDevices, &cfg.MaxDevicesPerInstance)

	setBool(EnvMQTTTLS, &cfg.MQTTUseTLS)
	setBool(EnvPersistModels, &cfg.PersistModels)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1" || v == "yes"
	}
}
