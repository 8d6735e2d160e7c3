package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/google/shlex"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/completion"
	"github.com/parleyhq/parley/internal/extract"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/schema"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/validate"
)

var (
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run an interactive data-collection session in the terminal",
	Long:  `Starts a local session against a schema file and collects fields conversationally. Type /help for commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaPath, _ := cmd.Flags().GetString("schema")
		if schemaPath == "" {
			return fmt.Errorf("--schema is required")
		}

		sc, err := schema.LoadFile(schemaPath)
		if err != nil {
			return fmt.Errorf("load schema: %w", err)
		}

		repo, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		ctx := cmd.Context()
		if err := repo.PutSchema(ctx, sc); err != nil {
			return fmt.Errorf("store schema: %w", err)
		}

		router, err := model.NewRouter(cfg.Models)
		if err != nil {
			return fmt.Errorf("init model router: %w", err)
		}

		llm := extract.NewLLMExtractor(router, cfg.Extraction.Model)
		coordinator := extract.NewCoordinator(llm, extract.NewPatternExtractor(), cfg.Extraction)
		engine := validate.NewEngine(repo)
		tracker := completion.NewTracker(engine)
		bus := session.NewBus(16)
		defer bus.Close()
		machine := session.NewMachine(repo, coordinator, engine, tracker, bus)

		sess, err := machine.Start(ctx, sc.ID)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}

		repl := &chatREPL{
			machine: machine,
			repo:    repo,
			router:  router,
			tracker: tracker,
			schema:  sc,
			sessID:  sess.ID,
			reader:  bufio.NewReader(os.Stdin),
		}
		return repl.run(ctx)
	},
}

type chatREPL struct {
	machine *session.Machine
	repo    *store.SQLiteStore
	router  model.Router
	tracker *completion.Tracker
	schema  *schema.Schema
	sessID  string
	reader  *bufio.Reader
}

func (r *chatREPL) run(ctx context.Context) error {
	fmt.Println(statusStyle.Render(fmt.Sprintf("Session %s over schema %q. Type /help for commands.", r.sessID, r.schema.Name)))
	r.askNext(ctx)

	for {
		fmt.Print(promptStyle.Render("> "))
		text, err := r.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			quit, err := r.command(ctx, text)
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		sess, err := r.machine.ApplyVisitorMessage(ctx, r.sessID, ulid.Make().String(), text)
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			continue
		}

		fmt.Println(statusStyle.Render(fmt.Sprintf("progress: %d/%d required fields", sess.CompletedCount, sess.RequiredCount)))
		if sess.Status == session.StatusCompleted {
			fmt.Println(agentStyle.Render("All done, thanks! Everything I needed is collected."))
			r.printFields(sess)
			return nil
		}

		r.askNext(ctx)
	}
}

func (r *chatREPL) command(ctx context.Context, text string) (bool, error) {
	parts, err := shlex.Split(text)
	if err != nil {
		return false, fmt.Errorf("parse command: %w", err)
	}

	switch parts[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Println(statusStyle.Render("/status  show session progress\n/fields  show extracted fields\n/close   complete the session manually\n/exit    quit"))
		return false, nil
	case "/status":
		sess, err := r.repo.GetSession(ctx, r.sessID)
		if err != nil || sess == nil {
			return false, fmt.Errorf("session unavailable")
		}
		fmt.Println(statusStyle.Render(fmt.Sprintf("status=%s completed=%d/%d", sess.Status, sess.CompletedCount, sess.RequiredCount)))
		return false, nil
	case "/fields":
		sess, err := r.repo.GetSession(ctx, r.sessID)
		if err != nil || sess == nil {
			return false, fmt.Errorf("session unavailable")
		}
		r.printFields(sess)
		return false, nil
	case "/close":
		sess, err := r.machine.Close(ctx, r.sessID)
		if err != nil {
			return false, err
		}
		fmt.Println(statusStyle.Render(fmt.Sprintf("session %s closed", sess.ID)))
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s", parts[0])
	}
}

func (r *chatREPL) printFields(sess *session.Session) {
	for id, fv := range sess.ExtractedFields {
		fmt.Println(statusStyle.Render(fmt.Sprintf("  %s = %q (confidence %d, %s)", id, fv.Value, fv.Confidence, fv.Source)))
	}
}

// askNext generates and prints the agent's next question, recording it on the
// transcript so extraction sees the full conversation.
func (r *chatREPL) askNext(ctx context.Context) {
	sess, err := r.repo.GetSession(ctx, r.sessID)
	if err != nil || sess == nil {
		return
	}

	next := r.tracker.NextRequiredField(ctx, r.schema.ID, sess.FieldSnapshot(), r.schema)
	if next == nil {
		return
	}

	messages, err := r.repo.ListMessages(ctx, r.sessID)
	if err != nil {
		return
	}

	req := contract.CompletionRequest{
		System: fmt.Sprintf("You are a friendly assistant collecting information. Ask the visitor for exactly one thing: %s. Keep it to a single short question.", next.Label),
		Messages: append(session.ToContractMessages(messages), contract.Message{
			Role:    "user",
			Content: fmt.Sprintf("(ask me for: %s)", next.Label),
		}),
	}

	resp, err := r.router.Route(ctx, cfg.Models.Default, req)
	if err != nil {
		// Model unavailable: fall back to a plain templated question.
		fmt.Println(agentStyle.Render(fmt.Sprintf("Could you share your %s?", strings.ToLower(next.Label))))
		r.machine.AppendAgentMessage(ctx, r.sessID, fmt.Sprintf("Could you share your %s?", strings.ToLower(next.Label)))
		return
	}

	fmt.Println(agentStyle.Render(resp.Content))
	r.machine.AppendAgentMessage(ctx, r.sessID, resp.Content)
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("schema", "", "path to a schema YAML file")
}
