package main

// @title           Settle API
// @version         1.0
// @description     Checkout, verification and webhook reconciliation for digital file purchases.

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8888
// @BasePath  /

// @securityDefinitions.basic  BasicAuth

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/fatflowers/settle/internal/app"
)

func main() {
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	a := fx.New(
		app.Module,
		fx.WithLogger(func(l *zap.SugaredLogger) fxevent.Logger {
			fl := &fxevent.ZapLogger{Logger: l.Desugar().Named("fx")}
			fl.UseLogLevel(zap.DebugLevel)
			return fl
		}),
	)
	startCtx, cancelStart := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancelStart()
	if err := a.Start(startCtx); err != nil {
		// the app logger may not exist yet
		zap.NewExample().Sugar().Errorw("app_start_failed", "error", err)
		exitCode = 1
		return
	}

	// SIGINT/SIGTERM, or a listener failure reported through fx.Shutdowner
	sig := <-a.Wait()
	exitCode = sig.ExitCode

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil {
		zap.NewExample().Sugar().Errorw("app_stop_failed", "error", err)
		exitCode = 1
	}
}
