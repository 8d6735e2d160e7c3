package main

import (
	"log/slog"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found", "error", err)
	}
	Execute()
}
