// Command authctl administers users, groups and grants in the PostgreSQL
// store used by the API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"regdesk.org/internal/auth"
	"regdesk.org/internal/store/pg"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{open: openPostgres}
	err := newRootCmd(c).ExecuteContext(ctx)
	_ = c.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openPostgres(dsn string) (auth.AdminStore, func() error, error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("missing DSN: provide via --dsn or REGDESK_PG_DSN")
	}
	store, err := pg.Open(dsn, pg.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return store, store.Close, nil
}
