package main

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/rtcadserve/internal/observability"
)

func main() {
	logger, err := observability.InitLoggerWithLevel(zapcore.WarnLevel, "rtcctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := New(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
