package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/grahama1970/granger-hub/internal/config"
	"github.com/grahama1970/granger-hub/internal/db"
	"github.com/grahama1970/granger-hub/internal/hub"
	"github.com/grahama1970/granger-hub/internal/registry"
	"github.com/grahama1970/granger-hub/internal/store"
	"github.com/grahama1970/granger-hub/pkg/types"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a hub project in the current directory",
		Long: `Initialize a hub project in the current directory.

Creates a .hub directory with a SQLite database for conversations and
messages. All other commands look for this directory in the current
directory or any parent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			hubDir := filepath.Join(dir, ".hub")
			if _, err := os.Stat(hubDir); err == nil {
				return fmt.Errorf("already initialized in %s", hubDir)
			}

			if err := os.MkdirAll(hubDir, 0755); err != nil {
				return fmt.Errorf("creating .hub directory: %w", err)
			}

			dbPath := filepath.Join(hubDir, "hub.db")
			database, err := db.Open(dbPath)
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer database.Close()

			if err := database.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}

			fmt.Printf("🛰️  Initialized hub in %s\n", hubDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  hub create ModuleA ModuleB --message \"hello\"")
			fmt.Println("  hub send <conversation-id> ModuleB ModuleA \"hello back\"")
			fmt.Println("  hub conversations")
			return nil
		},
	}
}

// openManager builds a manager over the project database with echo handlers
// for the named modules. CLI invocations have no long-running module
// processes, so receivers acknowledge by echoing the payload back.
func openManager(database *db.Store, modules ...string) (*hub.Manager, func(), error) {
	if err := database.InitSchema(); err != nil {
		return nil, nil, fmt.Errorf("initializing schema: %w", err)
	}

	reg := registry.New()
	for _, name := range modules {
		reg.RegisterFunc(name, func(_ context.Context, content json.RawMessage) (json.RawMessage, error) {
			return content, nil
		})
	}

	level := cfg.LogLevel
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, level)

	m := hub.NewManager(store.NewSQLiteStore(database), reg, hub.Config{
		ConversationTimeout: cfg.ConversationTimeout,
		MonitorInterval:     cfg.MonitorInterval,
		Logger:              logger,
	})

	cleanup := func() {
		m.Close()
		closeLog()
	}
	return m, cleanup, nil
}

func createCmd() *cobra.Command {
	var (
		topic   string
		message string
		msgType string
	)

	command := &cobra.Command{
		Use:   "create <initiator> <target>",
		Short: "Open a conversation between two modules",
		Long: `Open a conversation between two modules.

The initial message counts as turn 1. The conversation stays active until
it is completed, ended, or times out after ` + "`HUB_CONVERSATION_TIMEOUT`" + ` of
inactivity (default 5m).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := requireProject()
			if err != nil {
				return err
			}
			defer database.Close()

			initiator, target := args[0], args[1]
			m, cleanup, err := openManager(database, initiator, target)
			if err != nil {
				return err
			}
			defer cleanup()

			var opts *hub.CreateOptions
			if topic != "" || msgType != "" {
				opts = &hub.CreateOptions{Topic: topic, Type: msgType}
			}

			conv, err := m.CreateConversation(cmd.Context(), initiator, target, message, opts)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Created conversation %s\n", conv.ID)
			fmt.Printf("   Participants: %s\n", strings.Join(conv.Participants, " ↔ "))
			if conv.Topic != "" {
				fmt.Printf("   Topic:        %s\n", conv.Topic)
			}
			fmt.Printf("   Turn count:   %d\n", conv.TurnCount)
			return nil
		},
	}

	command.Flags().StringVarP(&topic, "topic", "t", "", "Conversation topic")
	command.Flags().StringVarP(&message, "message", "m", "", "Initial message content")
	command.Flags().StringVar(&msgType, "type", "", "Initial message type")
	return command
}

func sendCmd() *cobra.Command {
	var (
		turn    int
		msgType string
	)

	command := &cobra.Command{
		Use:   "send <conversation-id> <source> <target> [content]",
		Short: "Route a message within an existing conversation",
		Long: `Route a message within an existing conversation.

Turns must arrive strictly in order. By default the next expected turn
number is used; pass --turn to claim a specific one (out-of-order turns
are rejected).`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := requireProject()
			if err != nil {
				return err
			}
			defer database.Close()

			conversationID, source, target := args[0], args[1], args[2]
			content := ""
			if len(args) == 4 {
				content = args[3]
			}

			m, cleanup, err := openManager(database, source, target)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if _, err := m.Restore(ctx); err != nil {
				return fmt.Errorf("restoring conversations: %w", err)
			}

			if turn == 0 {
				state, err := m.GetConversationState(ctx, conversationID)
				if err != nil {
					return err
				}
				if state == nil {
					return fmt.Errorf("unknown conversation %s", conversationID)
				}
				turn = state.TurnCount + 1
			}

			msg, err := hub.NewMessage(conversationID, turn, source, target, msgType, content)
			if err != nil {
				return err
			}

			result, err := m.RouteMessage(ctx, msg)
			if err != nil {
				return err
			}
			if result == nil {
				return fmt.Errorf("unknown conversation %s", conversationID)
			}

			fmt.Printf("📨 Turn %d routed to %s (%s)\n", turn, result.RoutedTo, result.Status)
			if len(result.Response) > 0 {
				fmt.Printf("   Response: %s\n", result.Response)
			}
			return nil
		},
	}

	command.Flags().IntVar(&turn, "turn", 0, "Turn number to claim (default: next expected)")
	command.Flags().StringVar(&msgType, "type", "", "Message type")
	return command
}

func historyCmd() *cobra.Command {
	var jsonOutput bool

	command := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show the full message history of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := requireProject()
			if err != nil {
				return err
			}
			defer database.Close()

			m, cleanup, err := openManager(database)
			if err != nil {
				return err
			}
			defer cleanup()

			messages, err := m.GetConversationHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				for _, msg := range messages {
					if err := enc.Encode(msg); err != nil {
						return err
					}
				}
				return nil
			}

			if len(messages) == 0 {
				fmt.Println("No messages found")
				return nil
			}

			fmt.Printf("\n💬 Conversation %s (%d turns)\n", args[0], len(messages))
			fmt.Println("════════════════════════════════════════")
			for _, msg := range messages {
				ts := time.Unix(msg.Timestamp, 0).Format("15:04:05")
				fmt.Printf("\n[%d] %s  %s → %s\n", msg.TurnNumber, ts, msg.Source, msg.Target)
				if len(msg.Content) > 0 {
					fmt.Printf("    %s\n", msg.Content)
				}
			}
			return nil
		},
	}

	command.Flags().BoolVar(&jsonOutput, "json", false, "Emit messages as JSONL")
	return command
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <conversation-id>",
		Short: "Show a conversation's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := requireProject()
			if err != nil {
				return err
			}
			defer database.Close()

			m, cleanup, err := openManager(database)
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := m.GetConversationState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if state == nil {
				return fmt.Errorf("unknown conversation %s", args[0])
			}

			out, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func conversationsCmd() *cobra.Command {
	var (
		statusFilter string
		module       string
		recent       int
		watchMode    bool
	)

	command := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := requireProject()
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}
			st := store.NewSQLiteStore(database)
			ctx := cmd.Context()

			if watchMode {
				return runWatchMode(ctx, st)
			}

			var conversations []*types.Conversation
			switch {
			case module != "":
				conversations, err = st.GetConversationsByParticipant(ctx, module)
			case recent > 0:
				conversations, err = st.GetRecentConversations(ctx, recent)
			default:
				conversations, err = st.ListConversations(ctx, types.ConversationStatus(statusFilter))
			}
			if err != nil {
				return err
			}

			if len(conversations) == 0 {
				fmt.Println("No conversations found")
				return nil
			}

			fmt.Printf("\n🛰️  Conversations (%d)\n", len(conversations))
			fmt.Println("════════════════════════════════════════")
			for _, conv := range conversations {
				if statusFilter != "" && string(conv.Status) != statusFilter {
					continue
				}
				printConversation(conv)
			}
			return nil
		},
	}

	command.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by status (active, completed, failed, timeout)")
	command.Flags().StringVarP(&module, "module", "m", "", "Filter by participating module")
	command.Flags().IntVarP(&recent, "recent", "r", 0, "Show the N most recent conversations")
	command.Flags().BoolVarP(&watchMode, "watch", "w", false, "Watch mode - live updates")
	return command
}

func printConversation(conv *types.Conversation) {
	statusIcon := map[types.ConversationStatus]string{
		types.ConversationStatusActive:    "🔄",
		types.ConversationStatusCompleted: "✅",
		types.ConversationStatusFailed:    "❌",
		types.ConversationStatusTimeout:   "⏰",
	}
	icon := statusIcon[conv.Status]
	if icon == "" {
		icon = "❔"
	}

	fmt.Printf("\n%s %s [%s]\n", icon, conv.ID, conv.Status)
	fmt.Printf("  Participants: %s\n", strings.Join(conv.Participants, " ↔ "))
	if conv.Topic != "" {
		fmt.Printf("  Topic:        %s\n", conv.Topic)
	}
	fmt.Printf("  Turns:        %d\n", conv.TurnCount)
	fmt.Printf("  Last message: %s\n", time.Unix(conv.LastMessageAt, 0).Format("2006-01-02 15:04:05"))
}

// runWatchMode continuously refreshes the conversation counts
func runWatchMode(ctx context.Context, st store.Store) error {
	// Clear screen on start
	fmt.Print("\033[H\033[2J")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last map[types.ConversationStatus]int

	for {
		select {
		case <-sigChan:
			fmt.Println("\n\n👋 Watch mode stopped")
			return nil

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			conversations, err := st.ListConversations(ctx, "")
			if err != nil {
				fmt.Printf("\nError listing conversations: %v\n", err)
				return err
			}

			counts := map[types.ConversationStatus]int{}
			for _, conv := range conversations {
				counts[conv.Status]++
			}

			if last == nil || countsChanged(last, counts) {
				fmt.Print("\033[H\033[2J")
				fmt.Printf("🛰️  Hub Conversations (watch mode - %s)\n", time.Now().Format("15:04:05"))
				fmt.Println("════════════════════════════════════════")
				fmt.Printf("\nTotal:     %d\n", len(conversations))
				fmt.Printf("Active:    %d\n", counts[types.ConversationStatusActive])
				fmt.Printf("Completed: %d\n", counts[types.ConversationStatusCompleted])
				fmt.Printf("Failed:    %d\n", counts[types.ConversationStatusFailed])
				fmt.Printf("Timed out: %d\n", counts[types.ConversationStatusTimeout])
				fmt.Println("\nPress Ctrl+C to exit")
				last = counts
			}
		}
	}
}

func countsChanged(old, new map[types.ConversationStatus]int) bool {
	if len(old) != len(new) {
		return true
	}
	for status, count := range new {
		if old[status] != count {
			return true
		}
	}
	return false
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <conversation-id>",
		Short: "Mark a conversation as successfully completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return endConversation(cmd.Context(), args[0], "")
		},
	}
}

func endCmd() *cobra.Command {
	var reason string

	command := &cobra.Command{
		Use:   "end <conversation-id>",
		Short: "End a conversation with an explicit reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				reason = "ended by operator"
			}
			return endConversation(cmd.Context(), args[0], reason)
		},
	}

	command.Flags().StringVarP(&reason, "reason", "r", "", "Reason for ending the conversation")
	return command
}

func endConversation(ctx context.Context, conversationID, reason string) error {
	_, database, err := requireProject()
	if err != nil {
		return err
	}
	defer database.Close()

	m, cleanup, err := openManager(database)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := m.Restore(ctx); err != nil {
		return fmt.Errorf("restoring conversations: %w", err)
	}

	if reason == "" {
		if err := m.CompleteConversation(ctx, conversationID); err != nil {
			return err
		}
		fmt.Printf("✅ Completed conversation %s\n", conversationID)
		return nil
	}

	if err := m.EndConversation(ctx, conversationID, reason); err != nil {
		return err
	}
	fmt.Printf("🛑 Ended conversation %s (%s)\n", conversationID, reason)
	return nil
}

func analyticsCmd() *cobra.Command {
	var jsonOutput bool

	command := &cobra.Command{
		Use:   "analytics",
		Short: "Show aggregate conversation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := requireProject()
			if err != nil {
				return err
			}
			defer database.Close()

			m, cleanup, err := openManager(database)
			if err != nil {
				return err
			}
			defer cleanup()

			analytics, err := m.GetConversationAnalytics(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(analytics, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Println("\n📊 Conversation Analytics")
			fmt.Println("═════════════════════════")
			fmt.Printf("\nTotal conversations: %d\n", analytics.TotalConversations)
			for _, status := range []types.ConversationStatus{
				types.ConversationStatusActive,
				types.ConversationStatusCompleted,
				types.ConversationStatusFailed,
				types.ConversationStatusTimeout,
			} {
				if count := analytics.ByStatus[status]; count > 0 {
					fmt.Printf("  %-10s %d\n", status, count)
				}
			}
			fmt.Printf("\nAverage turns:    %.1f\n", analytics.AvgTurnCount)
			fmt.Printf("Average duration: %.1fs\n", analytics.AvgDurationSeconds)

			if len(analytics.ModuleActivity) > 0 {
				fmt.Println("\nModule activity:")
				for name, activity := range analytics.ModuleActivity {
					fmt.Printf("  %-20s initiated %d, participated %d\n",
						name, activity.Initiated, activity.Participated)
				}
			}
			return nil
		},
	}

	command.Flags().BoolVar(&jsonOutput, "json", false, "Emit analytics as JSON")
	return command
}
