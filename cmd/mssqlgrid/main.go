package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("mssqlgrid failed", "error", err)
		os.Exit(1)
	}
}
