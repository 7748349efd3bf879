package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalita/healthassist/config"
	srv "github.com/vitalita/healthassist/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "healthassist"}

	var cfgPath string
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			s, err := srv.New(cfg)
			if err != nil {
				return err
			}

			errs := make(chan error, 1)
			go func() { errs <- s.Start() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errs:
				return err
			case <-sig:
				log.Println("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return s.Shutdown(ctx)
			}
		},
	}
	serve.Flags().StringVar(&cfgPath, "config", "", "path to config file")
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	root.AddCommand(serve)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
