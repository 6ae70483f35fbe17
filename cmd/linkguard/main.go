// Command linkguard runs the channel link protection bot.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"

	"github.com/m3rciful/linkguard/core/bootstrap"
	"github.com/m3rciful/linkguard/core/cmd"
	coreconfig "github.com/m3rciful/linkguard/core/config"
	"github.com/m3rciful/linkguard/internal/bot"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	err := cmd.Run(cmd.Options{
		DefaultConfigPath: "config.yaml",
		Bootstrap: func(ctx context.Context, cfg *coreconfig.Config) (cmd.TelegramApp, func() error, error) {
			res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
			if err != nil {
				return nil, nil, err
			}
			app, err := bot.New(cfg, res.Store)
			if err != nil {
				_ = res.Close()
				return nil, nil, err
			}
			return app, res.Close, nil
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}
