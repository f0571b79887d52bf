package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetquery/internal/cli"
	"github.com/JonMunkholm/sheetquery/internal/core"
)

func main() {
	// Unlike the server, existing env vars win over .env
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		if core.IsUserFacing(err) {
			fmt.Fprintf(os.Stderr, "error: %s\n  detail: %v\n", core.FormatUserError(err), err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
