package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/checkpoint"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/provider/anthropic"
	"github.com/strandlabs/strand/internal/provider/openai"
	"github.com/strandlabs/strand/internal/session"
	"github.com/strandlabs/strand/internal/system"
	"github.com/strandlabs/strand/internal/thread"

	// Built-in tools register themselves.
	_ "github.com/strandlabs/strand/internal/tool"
)

var version = "0.1.0"

func init() {
	// Load .env if present; missing files are fine.
	_ = godotenv.Load()

	// Logging is enabled via STRAND_DEBUG=1.
	_ = log.Init()

	provider.Register("anthropic", func(model string) provider.ModelClient {
		return anthropic.New(model)
	})
	provider.Register("openai", func(model string) provider.ModelClient {
		return openai.New(model)
	})
}

func main() {
	defer log.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "strand [message]",
	Short: "Strand - AI coding agent for the terminal",
	Long: `Strand is an AI coding agent for the terminal: a conversation
thread with tools, repository checkpoints, and token accounting.

Non-interactive mode:
  strand "your message"       Send one message and print the reply`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.NewLoader().Load()
		if err != nil {
			return err
		}

		th, backend, err := newThread(settings)
		if err != nil {
			return err
		}

		store, err := session.NewStore()
		if err != nil {
			return err
		}
		if resumeFlag {
			rec, err := store.Latest()
			if err != nil {
				return err
			}
			rec.Restore(th)
		}

		events := th.Subscribe()
		if len(args) > 0 {
			return runOnce(th, backend, store, events, strings.Join(args, " "))
		}
		return runREPL(th, backend, store, events)
	},
}

var resumeFlag bool

func init() {
	rootCmd.Flags().BoolVarP(&resumeFlag, "resume", "r", false, "Resume the most recent session")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("strand version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// newThread wires the engine from the effective settings and the current
// directory. The checkpoint backend is returned too, so turn setup can take
// repository snapshots; it is nil outside a git worktree.
func newThread(settings *config.Settings) (*thread.Thread, thread.CheckpointBackend, error) {
	model := settings.Model
	if model == "" {
		model = defaultModel(settings.Provider)
	}
	client, err := provider.New(settings.Provider, model)
	if err != nil {
		return nil, nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}

	opts := thread.Options{
		Model:    client,
		Settings: settings,
		Activity: activity.NewRecorder(),
		Cwd:      cwd,
		SystemPrompt: (&system.Builder{
			Provider: settings.Provider,
			Model:    model,
			Cwd:      cwd,
		}).Prompt,
	}
	if backend, err := checkpoint.NewGitBackend(cwd); err == nil {
		opts.Backend = backend
	}

	return thread.New(opts), opts.Backend, nil
}

func defaultModel(providerName string) string {
	switch providerName {
	case "openai":
		return "gpt-4o"
	default:
		return "claude-sonnet-4-20250514"
	}
}

// takeSnapshot captures repository state for the next user message's
// checkpoint. Snapshot failures degrade to no checkpoint, never a failed turn.
func takeSnapshot(backend thread.CheckpointBackend) thread.Snapshot {
	if backend == nil {
		return nil
	}
	snap, err := backend.Snapshot(context.Background())
	if err != nil {
		return nil
	}
	return snap
}

// runOnce sends a single message and prints the streamed reply.
func runOnce(th *thread.Thread, backend thread.CheckpointBackend, store *session.Store, events <-chan thread.Event, text string) error {
	th.InsertUserMessage(text, nil, takeSnapshot(backend))
	th.Send(context.Background())
	err := consumeTurn(th, events, bufio.NewScanner(os.Stdin))
	if saveErr := store.Save(session.Snapshot(th)); saveErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: session not saved: %v\n", saveErr)
	}
	return err
}

// runREPL reads messages from stdin until EOF or "exit".
func runREPL(th *thread.Thread, backend thread.CheckpointBackend, store *session.Store, events <-chan thread.Event) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if arg, ok := strings.CutPrefix(line, "restore "); ok {
			restoreCheckpoint(th, arg)
			continue
		}

		th.InsertUserMessage(line, nil, takeSnapshot(backend))
		th.Send(context.Background())
		if err := consumeTurn(th, events, scanner); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if err := store.Save(session.Snapshot(th)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: session not saved: %v\n", err)
		}

		if title := th.Summary(); title != "" {
			usage := th.Usage()
			fmt.Printf("\n[%s | %d/%d tokens]\n", title, usage.Total, usage.Max)
		}
	}
}

// restoreCheckpoint rolls the repository and thread back to the checkpoint
// committed for a message id.
func restoreCheckpoint(th *thread.Thread, arg string) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Usage: restore <message-id>")
		return
	}
	cp, ok := th.CheckpointFor(message.ID(id))
	if !ok {
		fmt.Fprintf(os.Stderr, "No checkpoint for message %d\n", id)
		return
	}
	if err := th.RestoreCheckpoint(context.Background(), cp); err != nil {
		fmt.Fprintf(os.Stderr, "Restore failed: %v\n", err)
		return
	}
	fmt.Printf("Restored to message %d\n", id)
}

// consumeTurn renders events until the turn stops, prompting on tool
// confirmations.
func consumeTurn(th *thread.Thread, events <-chan thread.Event, scanner *bufio.Scanner) error {
	for ev := range events {
		switch e := ev.(type) {
		case thread.StreamedText:
			fmt.Print(e.Chunk)
		case thread.ToolConfirmationNeeded:
			for _, id := range e.IDs {
				st, ok := th.ToolUseStatus(id)
				if !ok {
					continue
				}
				fmt.Printf("\nRun tool %s with input %s? [y/N] ", st.Name, st.Input)
				if scanner.Scan() && strings.HasPrefix(strings.ToLower(strings.TrimSpace(scanner.Text())), "y") {
					th.ConfirmToolUse(context.Background(), id, nil)
				} else {
					th.Deny(id, nil)
				}
			}
			// Denying every pending tool settles the turn without a
			// resubmission, so no Stopped event will arrive.
			if !th.IsGenerating() {
				fmt.Println()
				return nil
			}
		case thread.ToolFinished:
			if st, ok := th.ToolUseStatus(e.ID); ok {
				fmt.Printf("\n[%s finished, error=%v]\n", st.Name, st.State == thread.ToolUseErrored)
			}
		case thread.ShowError:
			fmt.Fprintf(os.Stderr, "\n%v\n", e.Err)
		case thread.Stopped:
			fmt.Println()
			return e.Err
		}
	}
	return nil
}
