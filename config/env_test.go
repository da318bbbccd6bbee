package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubstituteEnvVarsUsesEnvValue(t *testing.T) {
	t.Setenv("GATEWAY_TEST_VAR", "resolved")
	require.Equal(t, "resolved", SubstituteEnvVars("${GATEWAY_TEST_VAR}"))
}

func TestSubstituteEnvVarsFallsBackToDefault(t *testing.T) {
	require.NoError(t, os.Unsetenv("GATEWAY_TEST_VAR_UNSET"))
	require.Equal(t, "fallback", SubstituteEnvVars("${GATEWAY_TEST_VAR_UNSET:fallback}"))
}

func TestSubstituteEnvVarsInConfigResolvesIPPoolCIDR(t *testing.T) {
	t.Setenv("GATEWAY_TEST_CIDR", "10.5.0.0/24")
	cfg := &Config{IPPool: IPPoolConfig{CIDR: "${GATEWAY_TEST_CIDR}"}}
	SubstituteEnvVarsInConfig(cfg)
	require.Equal(t, "10.5.0.0/24", cfg.IPPool.CIDR)
}

func TestGetEnvironmentDefaultsToDevelopment(t *testing.T) {
	require.NoError(t, os.Unsetenv("GATEWAY_ENV"))
	require.NoError(t, os.Unsetenv("ENVIRONMENT"))
	require.Equal(t, "development", GetEnvironment())
}

func TestGetEnvironmentPrefersGatewayEnv(t *testing.T) {
	t.Setenv("GATEWAY_ENV", "Production")
	require.Equal(t, "production", GetEnvironment())
	require.True(t, IsProduction())
}
