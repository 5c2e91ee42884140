package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// Embedded zone data so --timezone works on hosts without tzdata.
	_ "time/tzdata"

	"golang-rent-ledger-service/cmd/rentledger/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	os.Exit(cmd.NewCLIErrorHandler().HandleError(err))
}
