// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// 验证控制面默认值
	assert.Equal(t, "http://127.0.0.1:50325", cfg.Control.BaseURL)
	assert.Equal(t, 1200*time.Millisecond, cfg.Control.MinInterval)
	assert.Equal(t, 40, cfg.Control.MaxPerMinute)
	assert.Equal(t, 15, cfg.Control.ProfileCap)
	assert.Equal(t, 3, cfg.Control.MaxRetries)
	assert.False(t, cfg.Control.Headless)

	// 验证平铺默认值
	assert.Equal(t, 1920, cfg.Tiler.ScreenWidth)
	assert.Equal(t, 3, cfg.Tiler.Columns)
	assert.Equal(t, 2, cfg.Tiler.Rows)

	// 验证知识库默认值
	assert.Equal(t, "memory", cfg.KB.EphemeralBackend)
	assert.Equal(t, "surveyflow.db", cfg.KB.SQLitePath)

	// 验证 Agent 默认值
	assert.Equal(t, 500, cfg.Agent.MaxSteps)
	assert.Equal(t, 15, cfg.Agent.MaxConsecutiveFailures)
	assert.Equal(t, 20*time.Minute, cfg.Agent.SessionTimeout)

	// 验证流水线默认值
	assert.Equal(t, 3, cfg.Pipeline.BatchSize)
	assert.False(t, cfg.Pipeline.RequireConfirm)
	assert.Equal(t, 3, cfg.Pipeline.ScoutCount)
	assert.Equal(t, 6, cfg.Pipeline.MainCount)

	// 验证日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 40, cfg.Control.MaxPerMinute)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
control:
  base_url: http://10.0.0.5:50325
  max_per_minute: 20
  min_interval: 2s
proxy:
  templates:
    - gw.example.net:8000:user-a:pass-a
    - gw.example.net:8000:user-b:pass-b
pipeline:
  batch_size: 5
  require_confirm: true
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// YAML 覆盖的值
	assert.Equal(t, "http://10.0.0.5:50325", cfg.Control.BaseURL)
	assert.Equal(t, 20, cfg.Control.MaxPerMinute)
	assert.Equal(t, 2*time.Second, cfg.Control.MinInterval)
	assert.Len(t, cfg.Proxy.Templates, 2)
	assert.Equal(t, 5, cfg.Pipeline.BatchSize)
	assert.True(t, cfg.Pipeline.RequireConfirm)

	// 未覆盖的值保持默认
	assert.Equal(t, 15, cfg.Control.ProfileCap)
	assert.Equal(t, 500, cfg.Agent.MaxSteps)
}

func TestLoader_FileNotExistIsIgnored(t *testing.T) {
	// 文件不存在时静默回退到默认值
	cfg, err := NewLoader().WithConfigPath("/nonexistent/surveyflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Control.MaxPerMinute)
}

func TestLoader_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("control: [not a map"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

// --- 环境变量覆盖测试 ---

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("SURVEYFLOW_CONTROL_MAX_PER_MINUTE", "10")
	t.Setenv("SURVEYFLOW_CONTROL_HEADLESS", "true")
	t.Setenv("SURVEYFLOW_AGENT_SESSION_TIMEOUT", "5m")
	t.Setenv("SURVEYFLOW_PROXY_TEMPLATES", "gw1:8000:u:p, gw2:8000:u:p")
	t.Setenv("SURVEYFLOW_LOG_LEVEL", "debug")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Control.MaxPerMinute)
	assert.True(t, cfg.Control.Headless)
	assert.Equal(t, 5*time.Minute, cfg.Agent.SessionTimeout)
	assert.Equal(t, []string{"gw1:8000:u:p", "gw2:8000:u:p"}, cfg.Proxy.Templates)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("control:\n  max_per_minute: 20\n"), 0644))

	t.Setenv("SURVEYFLOW_CONTROL_MAX_PER_MINUTE", "8")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// 环境变量优先于 YAML
	assert.Equal(t, 8, cfg.Control.MaxPerMinute)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("SF_CONTROL_PROFILE_CAP", "7")

	cfg, err := NewLoader().WithEnvPrefix("SF").Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Control.ProfileCap)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("SURVEYFLOW_CONTROL_MAX_PER_MINUTE", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SURVEYFLOW_CONTROL_MAX_PER_MINUTE")
}

// --- 验证器测试 ---

func TestLoader_WithValidator(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(c *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestLoader_ValidatorFailure(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return assert.AnError
	}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

// --- Validate 测试 ---

func TestValidate_DefaultsNeedProxyTemplates(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy.templates must not be empty")
}

func TestValidate_FullConfigPasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Templates = []string{"gw.example.net:8000:user:pass"}
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Control.MinInterval = 0
	cfg.Control.ProfileCap = 0
	cfg.Tiler.Rows = 0
	cfg.Agent.MaxSteps = 0
	cfg.Pipeline.BatchSize = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control.min_interval must be positive")
	assert.Contains(t, err.Error(), "control.profile_cap must be positive")
	assert.Contains(t, err.Error(), "tiler grid must be positive")
	assert.Contains(t, err.Error(), "agent.max_steps must be positive")
	assert.Contains(t, err.Error(), "pipeline.batch_size must be positive")
}
