// Package main is the entry point for the Playground MCP server.
//
// The Playground server implements a configurable Model Context Protocol (MCP)
// server that runs JavaScript, TypeScript and Vue snippets in an embedded
// engine. The server supports both stdio and HTTP transports and can also
// expose the playground as an HTTP JSON API with Prometheus metrics.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/playground/api"
	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/examples"
	"github.com/isdmx/playground/logger"
	"github.com/isdmx/playground/mcpserver"
	"github.com/isdmx/playground/playground"
	"github.com/isdmx/playground/sandbox"
)

func newRegistry() (prometheus.Registerer, prometheus.Gatherer) {
	registry := prometheus.NewRegistry()
	return registry, registry
}

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Metrics registry shared by the executor and the API
			newRegistry,
			sandbox.NewMetrics,

			// Host console and component-aware executor
			sandbox.NewConsole,
			sandbox.NewComponentExecutorFromConfig,
			func(exec *sandbox.ComponentExecutor) sandbox.SandboxExecutor { return exec },

			// Example catalog and playground session
			examples.NewFromConfig,
			playground.NewFromConfig,

			// MCP Server
			mcpserver.New,

			// HTTP JSON API
			api.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
			func(lc fx.Lifecycle, cfg *config.Config, server *api.Server) {
				if !cfg.API.Enabled {
					return
				}
				lc.Append(fx.Hook{
					OnStart: server.Start,
					OnStop:  server.Stop,
				})
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
