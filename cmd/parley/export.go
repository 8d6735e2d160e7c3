package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
)

type sessionExport struct {
	Session    *session.Session  `json:"session"`
	Messages   []session.Message `json:"messages"`
	ExportedAt time.Time         `json:"exportedAt"`
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session transcript and its extracted fields to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("%s.json", sessionID)
		}

		repo, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		ctx := cmd.Context()
		sess, err := repo.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess == nil {
			return fmt.Errorf("session %s not found", sessionID)
		}

		messages, err := repo.ListMessages(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}

		payload := sessionExport{
			Session:    sess,
			Messages:   messages,
			ExportedAt: time.Now().UTC(),
		}

		b, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encode export: %w", err)
		}

		if err := atomic.WriteFile(out, bytes.NewReader(b)); err != nil {
			return fmt.Errorf("write export: %w", err)
		}

		fmt.Printf("Exported session %s to %s (%d messages)\n", sessionID, out, len(messages))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("out", "", "output path (default <session-id>.json)")
}
