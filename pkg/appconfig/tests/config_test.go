package config_test

import (
	"testing"

	config "github.com/4chain-ag/go-overlay-services/pkg/appconfig"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLoad_ShouldApplyAllDefaults_WhenNoConfigFileExists(t *testing.T) {
	// Given
	loader := config.NewLoader("GASP")

	// When
	actual, err := loader.Load()
	expected := config.Defaults()
	expected.AdminBearerToken = actual.AdminBearerToken

	// Then
	require.NoError(t, err)
	require.Equal(t, expected, actual)

	_, err = uuid.Parse(actual.AdminBearerToken)
	require.NoError(t, err, "admin token should be a valid UUID")
}

func TestLoad_ShouldOverrideDefaults_WhenConfigFileProvidesValues(t *testing.T) {
	// Given
	loader := config.NewLoader("GASP")
	require.NoError(t, loader.SetConfigFilePath("testdata/config.yaml"))

	// When
	actual, err := loader.Load()

	expected := &config.Config{
		AppName:            "CustomApp",
		Port:               9999,
		Addr:               "127.0.0.1",
		ServerHeader:       "CustomHeader",
		AdminBearerToken:   "secret-token",
		Topic:              "tm_custom",
		PeerURL:            "http://peer.example:8080/gasp",
		Version:            2,
		Unidirectional:     true,
		SinceDefault:       100,
		Concurrency:        4,
		NetworkConcurrency: 2,
		MaxNodesPerGraph:   500,
		LogLevel:           "debug",
	}

	// Then
	require.NoError(t, err)
	require.Equal(t, expected, &actual)
}

func TestSetConfigFilePath_ShouldReturnError_WhenUnsupportedExtension(t *testing.T) {
	// Given
	loader := config.NewLoader("GASP")

	// When
	err := loader.SetConfigFilePath("config.txt")

	// Then
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported config file extension")
}

func TestValidate_ShouldRejectNonUUIDAdminBearerToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.AdminBearerToken = "not-a-uuid"
	require.Error(t, cfg.Validate())
}

func TestValidate_ShouldRejectUnsupportedLogLevel(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "trace"
	require.Error(t, cfg.Validate())
}

func TestValidate_ShouldAcceptDefaults(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())
}
