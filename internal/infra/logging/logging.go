// Package logging holds the process-wide zap logger. Handlers that run
// outside a request cycle (webhook reconciliation, the email scheduler)
// log through it; request handlers mostly answer with response bodies.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var L = zap.NewNop()

// Init builds the production logger. Call once from main before anything
// that logs starts running.
func Init() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	L = logger
}
