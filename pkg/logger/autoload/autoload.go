// Package autoload configures the global logger from LOG_* environment
// variables as an import side effect.
package autoload

import (
	configx "github.com/pjordan/steward/pkg/config"
	logx "github.com/pjordan/steward/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
