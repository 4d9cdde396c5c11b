package surveyflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/surveyflow/agent"
	"github.com/BaSui01/surveyflow/config"
)

type noopEngine struct{}

func (noopEngine) Run(context.Context, agent.RunInput) (*agent.RunOutput, error) {
	return &agent.RunOutput{FinalResult: "submitted"}, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Proxy.Templates = []string{"proxy.example:8000:user-%d:pass"}
	cfg.KB.SQLitePath = "" // no persistent layer in this test
	return cfg
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.Templates = nil
	_, err := New(cfg, WithEngine(noopEngine{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy.templates")
}

func TestNewWiresSystem(t *testing.T) {
	system, err := New(testConfig(), WithEngine(noopEngine{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = system.Close() })

	assert.NotNil(t, system.Controller)
	assert.NotNil(t, system.Lifecycle)
	assert.NotNil(t, system.KB)
	assert.NotNil(t, system.Directory)
	assert.NotNil(t, system.Logger)
}
