package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trendsched/internal/app"
)

var stopTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		if err := a.Start(context.Background()); err != nil {
			stop(a, app.StopFatalError)
			return err
		}

		var sig os.Signal
		select {
		case sig = <-sigs:
		case <-a.Done():
		}
		reason := stopReason(sig, a.Err())
		stop(a, reason)
		if reason == app.StopFatalError {
			return a.Err()
		}
		return nil
	},
}

// stopReason names why serve is exiting: a signal, a fatal supervisor
// error, or the app context ending on its own.
func stopReason(sig os.Signal, fatal error) app.StopReason {
	switch {
	case sig == syscall.SIGTERM:
		return app.StopSIGTERM
	case sig != nil:
		return app.StopSIGINT
	case fatal != nil:
		return app.StopFatalError
	default:
		return app.StopAppStop
	}
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(ctx, reason)
}

func init() {
	serveCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 20*time.Second, "upper bound for graceful shutdown")
}
