package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"support-agent/handler"
	"support-agent/internal/app"
	"support-agent/internal/config"
	logx "support-agent/pkg/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to load config")
	}
	logx.Init(logx.LoggerOpts{Environment: logx.ParseEnvironment(cfg.Environment)})

	// ---- Components ----
	a, err := app.Build(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build service")
	}

	// a warm container keeps its conversations between invocations
	go a.Sweep(ctx)

	h, err := handler.NewHandler(a.Engine)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create handler")
	}

	lambda.Start(h.Handle)
}
