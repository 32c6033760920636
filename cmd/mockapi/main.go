// cmd/mockapi/main.go
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/killerwiki/internal/auth"
	"github.com/briangreenhill/killerwiki/internal/config"
	"github.com/briangreenhill/killerwiki/internal/http/routes"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.LoadMockAPI()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	s := routes.New(routes.ServerOptions{
		Tokens: auth.NewTokens([]byte(cfg.JWTSecret), cfg.TokenTTL),
		Logger: &logger,
		Seed:   true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info().Str("port", cfg.Port).Msg("starting mock api")
	logger.Fatal().Err(srv.ListenAndServe()).Msg("server stopped")
}
