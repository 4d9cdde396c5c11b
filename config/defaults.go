package config

import "time"

// DefaultConfig 返回带合理默认值的完整配置
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			BaseURL:      "http://127.0.0.1:50325",
			MinInterval:  1200 * time.Millisecond,
			MaxPerMinute: 40,
			ProfileCap:   15,
			MaxRetries:   3,
			Timeout:      30 * time.Second,
			Headless:     false,
			IPTab:        0,
			EchoURL:      "https://api.ipify.org?format=json",
		},
		Proxy: ProxyConfig{
			Templates: nil, // 必须由运行方提供
		},
		Tiler: TilerConfig{
			ScreenWidth:  1920,
			ScreenHeight: 1080,
			Columns:      3,
			Rows:         2,
		},
		Persona: PersonaConfig{
			Timeout: 10 * time.Second,
		},
		KB: KBConfig{
			EphemeralBackend: "memory",
			SQLitePath:       "surveyflow.db",
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  60 * time.Second,
		},
		Agent: AgentConfig{
			MaxSteps:               500,
			MaxConsecutiveFailures: 15,
			SessionTimeout:         20 * time.Minute,
		},
		Pipeline: PipelineConfig{
			BatchSize:      3,
			RequireConfirm: false,
			ScoutCount:     3,
			MainCount:      6,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
