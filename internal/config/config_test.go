package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServicePort)
	assert.Equal(t, 10000, cfg.MaxDevicesPerInstance)
	assert.Equal(t, "/app/device-models", cfg.DeviceModelPath)
	assert.Equal(t, "localhost", cfg.MQTTBrokerHost)
	assert.Equal(t, 1883, cfg.MQTTBrokerPort)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMaxDevices, "2")
	t.Setenv(EnvMQTTHost, "broker.test")
	t.Setenv(EnvMQTTTLS, "true")
	t.Setenv(EnvServicePort, "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxDevicesPerInstance)
	assert.Equal(t, "broker.test", cfg.MQTTBrokerHost)
	assert.True(t, cfg.MQTTUseTLS)
	assert.Equal(t, 9090, cfg.ServicePort)
}

func TestLoad_InvalidEnvValueSkipped(t *testing.T) {
	t.Setenv(EnvMaxDevices, "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.MaxDevicesPerInstance)
}

func TestLoad_YAMLFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"servicePort: 7070\nmqttBrokerHost: file.broker\nmaxDevicesPerInstance: 50\n",
	), 0o644))

	t.Setenv(EnvMQTTHost, "env.broker")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File overrides defaults; environment overrides the file.
	assert.Equal(t, 7070, cfg.ServicePort)
	assert.Equal(t, 50, cfg.MaxDevicesPerInstance)
	assert.Equal(t, "env.broker", cfg.MQTTBrokerHost)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load("/nope/missing.yaml")
	assert.Error(t, err)
}
