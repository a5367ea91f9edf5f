package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/config"
	"answer-ocr/api/internal/handle"
	"answer-ocr/api/internal/httpserver"
	"answer-ocr/api/internal/logging"
	"answer-ocr/api/internal/pipeline"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn(".env not loaded")
	}
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	rec, err := pipeline.Build(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("build recognizer")
	}

	mux := http.NewServeMux()
	handle.New(rec).Routes(mux)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := httpserver.Run(ctx, httpserver.New(":"+cfg.Port, mux)); err != nil {
		logrus.WithError(err).Fatal("http server")
	}
}
