package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"CortexMCP/internal/agent"
	"CortexMCP/internal/api"
	"CortexMCP/internal/auth"
	"CortexMCP/internal/config"
	"CortexMCP/internal/cortex"
	"CortexMCP/internal/mcpserver"
	"CortexMCP/internal/observability/metrics"
	"CortexMCP/internal/tooldef"
	"CortexMCP/pkg/logger"
)

// app 汇总一次进程生命周期内只创建一次的组件。
type app struct {
	cfg   *config.Config
	agent *agent.Agent
	mcp   *server.MCPServer
}

// bootstrap 加载配置并组装组件。工具定义在启动时先读取一次，
// 文件缺失或格式错误以 CONFIGURATION 错误退出；之后每次查询仍会重新读取。
func bootstrap(ctx context.Context, configPath string, lookup config.LookupFunc) (*app, error) {
	cfg, err := config.Load(configPath, lookup)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	client, err := cortex.NewClient(cortex.Config{
		AgentEndpoint: cfg.Snowflake.AgentEndpoint,
		SQLEndpoint:   cfg.Snowflake.SQLEndpoint,
		Token:         cfg.Snowflake.Token,
		TokenType:     cfg.Snowflake.TokenType,
	})
	if err != nil {
		return nil, err
	}

	loader := tooldef.NewFileLoader(cfg.Agent.ToolDefinitions).WithLookup(tooldef.LookupFunc(lookup))
	defs, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	ag := agent.New(client, loader,
		agent.WithModel(cfg.Agent.Model),
		agent.WithTimeout(time.Duration(cfg.Agent.QueryTimeoutSeconds)*time.Second),
	)

	logger.Named("bootstrap").Info("cortex agent mcp server initialised",
		slog.String("version", version),
		slog.String("agent_endpoint", cfg.Snowflake.AgentEndpoint),
		slog.String("tool_definitions", cfg.Agent.ToolDefinitions),
		slog.Int("tools", len(defs)))

	return &app{cfg: cfg, agent: ag, mcp: mcpserver.New(ag, version)}, nil
}

func newRootCommand(lookup config.LookupFunc) *cobra.Command {
	defaultConfig, _ := lookup("CORTEX_MCP_CONFIG")
	var configPath string

	root := &cobra.Command{
		Use:           "cortexmcpd",
		Short:         "MCP server that runs queries through Snowflake Cortex Agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Optional JSON or YAML config file (env CORTEX_MCP_CONFIG)")

	serve := newServeCommand(&configPath, lookup)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newQueryCommand(&configPath, lookup), newVersionCommand())
	return root
}

func newServeCommand(configPath *string, lookup config.LookupFunc) *cobra.Command {
	var transport, addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run_cortex_agents tool over stdio or HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, lookup)
			if err != nil {
				return err
			}
			if transport != "" {
				a.cfg.Server.Transport = strings.ToLower(transport)
			}
			if addr != "" {
				a.cfg.Server.Address = addr
			}
			if metricsAddr != "" {
				a.cfg.Server.MetricsAddress = metricsAddr
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "Transport to serve: stdio or http (default from config, stdio)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for the http transport")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose /metrics on this address when serving stdio")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := logger.Named("serve")
	var err error
	switch a.cfg.Server.Transport {
	case config.TransportHTTP:
		err = api.NewServer(a.cfg.Server.Address, a.mcp, a.agent).
			WithAuth(auth.NewStatic(a.cfg.Server.APITokens)).
			Start(ctx)
	case config.TransportStdio:
		if a.cfg.Server.MetricsAddress != "" {
			go func() {
				if err := metrics.StartServer(ctx, a.cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("metrics server stopped", slog.Any("error", err))
				}
			}()
		}
		log.Info("stdio transport ready")
		err = mcpserver.ServeStdio(ctx, a.mcp, os.Stdin, os.Stdout)
	default:
		return fmt.Errorf("不支持的传输方式 %q", a.cfg.Server.Transport)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newQueryCommand(configPath *string, lookup config.LookupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "query <text>",
		Short: "Run a single query and print the JSON result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, lookup)
			if err != nil {
				return err
			}
			result, err := a.agent.Execute(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mcpserver.ServerName, version)
			return err
		},
	}
}
