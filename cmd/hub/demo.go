// Command to demonstrate a full conversation lifecycle end to end
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grahama1970/granger-hub/internal/events"
	"github.com/grahama1970/granger-hub/internal/hub"
	"github.com/grahama1970/granger-hub/internal/registry"
	"github.com/grahama1970/granger-hub/internal/store"
	"github.com/spf13/cobra"
)

// demoCmd returns a command that runs a scripted multi-turn exchange
func demoCmd() *cobra.Command {
	var (
		turns       int
		jsonEvents  bool
		showTimeout bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted conversation between two built-in modules",
		Long: `Run a scripted conversation between two built-in modules.

Two in-process modules ("coordinator" and "worker") exchange a fixed number
of turns while lifecycle events stream to the terminal. Everything runs
against an in-memory store, so no hub project is required.

Use --show-timeout to let the conversation go idle instead of completing it,
demonstrating the timeout monitor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bus := events.NewBus()
			defer bus.Close()

			reg := registry.New()
			reg.RegisterFunc("coordinator", func(_ context.Context, content json.RawMessage) (json.RawMessage, error) {
				return json.Marshal(map[string]string{"ack": "coordinator received " + string(content)})
			})
			reg.RegisterFunc("worker", func(_ context.Context, content json.RawMessage) (json.RawMessage, error) {
				return json.Marshal(map[string]string{"ack": "worker received " + string(content)})
			})

			timeout := cfg.ConversationTimeout
			interval := cfg.MonitorInterval
			if showTimeout {
				// Short threshold so the demo finishes quickly
				timeout = 2 * time.Second
				interval = 200 * time.Millisecond
			}

			m := hub.NewManager(store.NewMemoryStore(), reg, hub.Config{
				ConversationTimeout: timeout,
				MonitorInterval:     interval,
				Bus:                 bus,
			})
			defer m.Close()

			// Stream events in the background
			eventCh := bus.Subscribe("demo")
			done := make(chan struct{})
			go func() {
				defer close(done)
				for event := range eventCh {
					printEvent(event, jsonEvents)
				}
			}()

			fmt.Println("\n🛰️  Starting conversation demo")
			fmt.Println("═════════════════════════════")
			fmt.Printf("Turns:   %d\n", turns)
			if showTimeout {
				fmt.Printf("Mode:    idle (waits for the timeout monitor)\n")
			} else {
				fmt.Printf("Mode:    complete\n")
			}
			fmt.Println()

			conv, err := m.CreateConversation(ctx, "coordinator", "worker",
				"plan the work", &hub.CreateOptions{Topic: "demo exchange"})
			if err != nil {
				return err
			}

			source, target := "coordinator", "worker"
			for turn := 2; turn <= turns; turn++ {
				msg, err := hub.NewMessage(conv.ID, turn, source, target,
					"", fmt.Sprintf("turn %d payload", turn))
				if err != nil {
					return err
				}

				result, err := m.RouteMessage(ctx, msg)
				if err != nil {
					return fmt.Errorf("routing turn %d: %w", turn, err)
				}
				fmt.Printf("   ↳ %s answered: %s\n", result.RoutedTo, result.Response)

				source, target = target, source
				time.Sleep(100 * time.Millisecond)
			}

			if showTimeout {
				fmt.Printf("\n⏳ Going idle; the monitor should fire within %s...\n", timeout+interval)
				deadline := time.After(timeout + 5*time.Second)
				for {
					state, err := m.GetConversationState(ctx, conv.ID)
					if err != nil {
						return err
					}
					if state.Status.Terminal() {
						break
					}
					select {
					case <-deadline:
						return fmt.Errorf("timeout monitor did not fire")
					case <-time.After(interval):
					}
				}
			} else if err := m.CompleteConversation(ctx, conv.ID); err != nil {
				return err
			}

			// Drain remaining events before printing the summary. The bus
			// owns channel shutdown: Close closes every subscriber channel,
			// which ends the printer goroutine.
			bus.Close()
			<-done

			state, err := m.GetConversationState(ctx, conv.ID)
			if err != nil {
				return err
			}

			fmt.Println("\n✅ Demo complete!")
			fmt.Printf("   Conversation: %s\n", state.ID)
			fmt.Printf("   Final status: %s\n", state.Status)
			fmt.Printf("   Turns taken:  %d\n", state.TurnCount)
			fmt.Printf("   Duration:     %s\n", state.Duration())
			return nil
		},
	}

	cmd.Flags().IntVarP(&turns, "turns", "n", 4, "Number of turns to exchange")
	cmd.Flags().BoolVar(&jsonEvents, "json", false, "Emit events as JSONL")
	cmd.Flags().BoolVar(&showTimeout, "show-timeout", false, "Let the conversation idle out instead of completing")
	return cmd
}

func printEvent(event *events.Event, asJSON bool) {
	if asJSON {
		if out, err := events.FormatEvent(event); err == nil {
			fmt.Println(string(out))
		}
		return
	}

	icon := map[events.EventType]string{
		events.EventConversationCreated:   "🆕",
		events.EventMessageRouted:         "📨",
		events.EventConversationCompleted: "✅",
		events.EventConversationEnded:     "🛑",
		events.EventConversationTimeout:   "⏰",
	}[event.Type]
	if icon == "" {
		icon = "•"
	}

	fmt.Printf("%s %-24s %s\n", icon, event.Type, event.ConversationID)
}
