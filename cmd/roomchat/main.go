// Command roomchat serves the room chat realtime gateway.
package main

import (
	"log/slog"
	"os"

	"roomchat/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		slog.Error("roomchat.exit", "err", err)
		os.Exit(1)
	}
}
