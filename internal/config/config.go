package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "CortexMCP/internal/errors"
	"CortexMCP/pkg/logger"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	agentRunPath   = "/api/v2/cortex/agent:run"
	statementsPath = "/api/v2/statements"

	defaultToolDefinitions = "toolDefinitions.json"
)

// Config 描述了服务在启动阶段需要加载的核心配置。
type Config struct {
	Snowflake SnowflakeConfig `json:"snowflake" yaml:"snowflake"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// SnowflakeConfig 包含账号地址、访问令牌与两个 REST 接口。
type SnowflakeConfig struct {
	AccountURL    string `json:"account_url" yaml:"account_url"`
	Token         string `json:"token" yaml:"token"`
	TokenType     string `json:"token_type" yaml:"token_type"`
	AgentEndpoint string `json:"agent_endpoint" yaml:"agent_endpoint"`
	SQLEndpoint   string `json:"sql_endpoint" yaml:"sql_endpoint"`
}

// AgentConfig 控制请求体与查询行为。
type AgentConfig struct {
	Model           string `json:"model" yaml:"model"`
	ToolDefinitions string `json:"tool_definitions" yaml:"tool_definitions"`
	// QueryTimeoutSeconds 为 0 表示不限制。
	QueryTimeoutSeconds int `json:"query_timeout_seconds" yaml:"query_timeout_seconds"`
}

// ServerConfig 控制传输方式与监听地址。
type ServerConfig struct {
	Transport string `json:"transport" yaml:"transport"`
	Address   string `json:"address" yaml:"address"`
	// MetricsAddress 仅在 stdio 模式下使用，为空则不暴露指标。
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
	// APITokens 非空时 HTTP 传输要求 Bearer 认证。
	APITokens []string `json:"api_tokens" yaml:"api_tokens"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string   `json:"level" yaml:"level"`
	Format      string   `json:"format" yaml:"format"`
	OutputPaths []string `json:"output_paths" yaml:"output_paths"`
	AuditPath   string   `json:"audit_path" yaml:"audit_path"`
}

// LookupFunc 与 os.LookupEnv 签名一致。
type LookupFunc func(key string) (string, bool)

// Load 读取可选的配置文件，再用环境变量覆盖，最后补齐默认值。
// path 为空时只使用环境变量。
func Load(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var cfg Config
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(content, &cfg)
		default:
			err = json.Unmarshal(content, &cfg)
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置失败")
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// resolvePaths 把配置文件中的相对路径解释为相对于配置文件所在目录。
func (c *Config) resolvePaths(baseDir string) {
	if p := c.Agent.ToolDefinitions; p != "" && !filepath.IsAbs(p) {
		c.Agent.ToolDefinitions = filepath.Join(baseDir, p)
	}
	if p := c.Logging.AuditPath; p != "" && !filepath.IsAbs(p) {
		c.Logging.AuditPath = filepath.Join(baseDir, p)
	}
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set(&c.Snowflake.Token, "SNOWFLAKE_PAT")
	set(&c.Snowflake.AccountURL, "SNOWFLAKE_ACCOUNT_URL")
	set(&c.Snowflake.AgentEndpoint, "AGENT_ENDPOINT")
	set(&c.Snowflake.SQLEndpoint, "REST_SQL_ENDPOINT")
	set(&c.Agent.Model, "MODEL")
	set(&c.Agent.ToolDefinitions, "CORTEX_TOOL_DEFINITIONS")
	set(&c.Server.Transport, "CORTEX_TRANSPORT")
	set(&c.Server.Address, "CORTEX_HTTP_ADDR")
	set(&c.Server.MetricsAddress, "CORTEX_METRICS_ADDR")
	set(&c.Logging.Level, "CORTEX_LOG_LEVEL")
	set(&c.Logging.Format, "CORTEX_LOG_FORMAT")
	set(&c.Logging.AuditPath, "CORTEX_AUDIT_LOG")

	if v, ok := lookup("CORTEX_HTTP_TOKENS"); ok && strings.TrimSpace(v) != "" {
		c.Server.APITokens = strings.Split(v, ",")
	}

	if v, ok := lookup("CORTEX_QUERY_TIMEOUT_SECONDS"); ok && strings.TrimSpace(v) != "" {
		seconds, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || seconds < 0 {
			return xerrors.New(xerrors.CodeConfiguration,
				fmt.Sprintf("CORTEX_QUERY_TIMEOUT_SECONDS 必须是非负整数: %q", v))
		}
		c.Agent.QueryTimeoutSeconds = seconds
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	account := strings.TrimRight(strings.TrimSpace(c.Snowflake.AccountURL), "/")
	if c.Snowflake.AgentEndpoint == "" && account != "" {
		c.Snowflake.AgentEndpoint = account + agentRunPath
	}
	if c.Snowflake.SQLEndpoint == "" && account != "" {
		c.Snowflake.SQLEndpoint = account + statementsPath
	}

	if c.Agent.ToolDefinitions == "" {
		c.Agent.ToolDefinitions = defaultToolDefinitions
	}

	c.Server.Transport = strings.ToLower(strings.TrimSpace(c.Server.Transport))
	if c.Server.Transport == "" {
		c.Server.Transport = TransportStdio
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate 检查启动所必需的配置，缺失时返回致命的配置错误。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Snowflake.Token) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "Set SNOWFLAKE_PAT environment variable")
	}
	if strings.TrimSpace(c.Snowflake.AccountURL) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "Set SNOWFLAKE_ACCOUNT_URL environment variable")
	}
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("不支持的传输方式 %q，可选 stdio 或 http", c.Server.Transport))
	}
	if c.Agent.QueryTimeoutSeconds < 0 {
		return xerrors.New(xerrors.CodeConfiguration, "query_timeout_seconds 不能为负数")
	}
	return nil
}

// LoggerConfig 转换为 pkg/logger 的配置。
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Logging.Level,
		Format:      c.Logging.Format,
		OutputPaths: c.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: c.Logging.AuditPath != "",
			Path:    c.Logging.AuditPath,
		},
	}
}
