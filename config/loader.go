// =============================================================================
// 📦 Surveyflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SURVEYFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 surveyflow 的完整配置结构
type Config struct {
	// Control 指纹浏览器控制面配置
	Control ControlConfig `yaml:"control" env:"CONTROL"`

	// Proxy 住宅代理凭据模板
	Proxy ProxyConfig `yaml:"proxy" env:"PROXY"`

	// Tiler 窗口平铺配置
	Tiler TilerConfig `yaml:"tiler" env:"TILER"`

	// Persona 人设服务配置
	Persona PersonaConfig `yaml:"persona" env:"PERSONA"`

	// KB 知识库配置
	KB KBConfig `yaml:"kb" env:"KB"`

	// LLM 视觉大模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Agent 浏览器代理运行边界
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Pipeline 三阶段流水线配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ControlConfig 指纹浏览器控制面配置
type ControlConfig struct {
	// 控制面基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// serial_number，随每个请求发送
	SerialNumber string `yaml:"serial_number" env:"SERIAL_NUMBER"`
	// 相邻请求最小间隔
	MinInterval time.Duration `yaml:"min_interval" env:"MIN_INTERVAL"`
	// 每 60 秒滚动窗口的请求上限
	MaxPerMinute int `yaml:"max_per_minute" env:"MAX_PER_MINUTE"`
	// 控制面 profile 数量硬上限
	ProfileCap int `yaml:"profile_cap" env:"PROFILE_CAP"`
	// 限流重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 是否无头启动浏览器
	Headless bool `yaml:"headless" env:"HEADLESS"`
	// ip_tab 启动参数（advisory，透传给控制面）
	IPTab int `yaml:"ip_tab" env:"IP_TAB"`
	// 出口 IP 探测端点（经代理访问）
	EchoURL string `yaml:"echo_url" env:"ECHO_URL"`
}

// ProxyConfig 住宅代理配置
type ProxyConfig struct {
	// 凭据模板列表，格式 host:port:user:password
	Templates []string `yaml:"templates" env:"TEMPLATES"`
}

// TilerConfig 窗口平铺配置
type TilerConfig struct {
	ScreenWidth  int `yaml:"screen_width" env:"SCREEN_WIDTH"`
	ScreenHeight int `yaml:"screen_height" env:"SCREEN_HEIGHT"`
	Columns      int `yaml:"columns" env:"COLUMNS"`
	Rows         int `yaml:"rows" env:"ROWS"`
}

// PersonaConfig 人设服务配置
type PersonaConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// KBConfig 知识库配置
type KBConfig struct {
	// 临时库后端: memory | redis
	EphemeralBackend string `yaml:"ephemeral_backend" env:"EPHEMERAL_BACKEND"`
	// Redis 地址（后端为 redis 时生效）
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	// Redis 密码
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	// 持久库 SQLite 路径
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// LLMConfig 视觉大模型配置
type LLMConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Model    string        `yaml:"model" env:"MODEL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// AgentConfig 浏览器代理运行边界
type AgentConfig struct {
	// 单次运行最大步数
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// 连续失败预算
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" env:"MAX_CONSECUTIVE_FAILURES"`
	// 单会话墙钟超时
	SessionTimeout time.Duration `yaml:"session_timeout" env:"SESSION_TIMEOUT"`
}

// PipelineConfig 三阶段流水线配置
type PipelineConfig struct {
	// 同时运行的会话批大小上限
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// Analyze 之后是否等待外部确认再进入 Main
	RequireConfirm bool `yaml:"require_confirm" env:"REQUIRE_CONFIRM"`
	// 默认侦察数量
	ScoutCount int `yaml:"scout_count" env:"SCOUT_COUNT"`
	// 默认主力数量
	MainCount int `yaml:"main_count" env:"MAIN_COUNT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 日志格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SURVEYFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Control.MinInterval <= 0 {
		errs = append(errs, "control.min_interval must be positive")
	}
	if c.Control.MaxPerMinute <= 0 {
		errs = append(errs, "control.max_per_minute must be positive")
	}
	if c.Control.ProfileCap <= 0 {
		errs = append(errs, "control.profile_cap must be positive")
	}
	if len(c.Proxy.Templates) == 0 {
		errs = append(errs, "proxy.templates must not be empty")
	}
	if c.Tiler.Columns <= 0 || c.Tiler.Rows <= 0 {
		errs = append(errs, "tiler grid must be positive")
	}
	if c.Agent.MaxSteps <= 0 {
		errs = append(errs, "agent.max_steps must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, "pipeline.batch_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
