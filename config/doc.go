// Package config provides application configuration management.
//
// The config package loads the playground configuration from a YAML file
// with viper, applies defaults and PLAYGROUND_* environment overrides, and
// validates the result. It covers the MCP transport, the HTTP API, logging,
// executor limits and the playground session.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Execution timeout: %s\n", cfg.GetTimeout())
package config
