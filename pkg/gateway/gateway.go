// Package gateway is the public API for embedding the bridge.
package gateway

import (
	"github.com/tjfontaine/messages-bridge/internal/runtime"
)

// Gateway serves the Messages API. See internal/runtime.Gateway.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(gateway.WithFileConfig("config.yaml"))
//	if err != nil { ... }
//	err = gw.Run(ctx)
var New = runtime.New

// Configuration options
var (
	WithFileConfig = runtime.WithFileConfig
	WithStore      = runtime.WithStore
	WithHTTPClient = runtime.WithHTTPClient
	WithListener   = runtime.WithListener
	WithLogger     = runtime.WithLogger
)
