package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aozora-works/kousei-engine/internal/app"
	"github.com/aozora-works/kousei-engine/internal/config"
	"github.com/aozora-works/kousei-engine/internal/server"
)

var Cmd = &cobra.Command{
	Use:   "run",
	Short: "Start the kousei engine server",
	RunE:  runApp,
}

func init() {
	flags := Cmd.Flags()

	flags.Int("port", config.DefaultPort, "Port to run the server on")
	flags.String("host", config.DefaultHost, "Host to run the server on")
	flags.String("environment", "dev", "Environment configuration")
	flags.String("llama-server-bin", "", "Path to the llama-server executable")
	flags.Int("max-queue-depth", config.DefaultMaxQueueDepth, "Max queued inference requests")
	flags.Bool("prefetch", false, "Download recommended models on startup")

	viper.BindPFlags(flags)

	bindEnvs()
}

func bindEnvs() {
	// Example: KOUSEI_PORT
	viper.BindEnv("port")
	viper.BindEnv("host")
	viper.BindEnv("environment")
	viper.BindEnv("llama_server_bin")
	viper.BindEnv("llama_server_port")
	viper.BindEnv("max_queue_depth")
	viper.BindEnv("prefetch")
}

func runApp(_ *cobra.Command, _ []string) error {
	application, err := createNewApp()
	if err != nil {
		return err
	}
	defer application.Close()

	srv, err := server.NewServer(application.Config())
	if err != nil {
		return err
	}
	srv.SetupRoutes(application)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	if viper.GetBool("prefetch") {
		go func() {
			if err := application.Engine().PrefetchRecommended(application.Context()); err != nil {
				application.Logger.Warn("prefetch failed", zap.Error(err))
			}
		}()
	}

	signalc := make(chan os.Signal, 1)
	signal.Notify(signalc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-signalc:
		application.Logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	}
}

func createNewApp() (*app.App, error) {
	return app.NewApp(config.GetConfig(), app.WithMQ(), app.WithEngine())
}
