// Command sigtrader sizes trading signals received over a webhook for every configured user
// and, when enabled, places the resulting market orders.
//
// Usage:
//
//	sigtrader -config config.yaml                       all workers in one process
//	sigtrader -config config.yaml -role market          market data worker only
//	sigtrader -config config.yaml -role user -user bob  one user worker
//	sigtrader -config config.yaml -role ingress         webhook server only
//	sigtrader -setup                                    interactive config wizard
//
// API keys may be set in the environment as SIGTRADER_<USER>_API_KEY and SIGTRADER_<USER>_API_SECRET.
// Roles other than all share state through redis, configured with REDIS_ADDR and friends.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/sigtrader/config"
	"github.com/vadiminshakov/sigtrader/internal/app"
	"github.com/vadiminshakov/sigtrader/internal/setup"
)

func main() {
	conf, flags, err := config.Get(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Run(ctx, conf)
	stop()

	os.Exit(code)
}
