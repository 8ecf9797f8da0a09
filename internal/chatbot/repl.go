package chatbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"

	"ChatDesk/internal/config"
	"ChatDesk/internal/session"
)

// handleCommand handles slash commands. It reports whether the REPL should quit.
func (cb *ChatBot) handleCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		cb.Reset()
		fmt.Fprintln(cb.out, "Started a new conversation.")
		return false, nil

	case "/history":
		msgs := cb.Messages()
		if len(msgs) == 0 {
			fmt.Fprintln(cb.out, "(no messages yet)")
		}
		for _, msg := range msgs {
			fmt.Fprintf(cb.out, "%s: %s\n", speaker(msg.Role), msg.Content)
		}
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /new       - Start a new conversation")
		fmt.Fprintln(cb.out, "  /history   - Show the conversation so far")
		fmt.Fprintln(cb.out, "  /help      - Show this help message")
		fmt.Fprintln(cb.out, "  /quit      - Exit")
		return false, nil

	default:
		return false, errors.Errorf("unknown command: %s", parts[0])
	}
}

func speaker(r session.Role) string {
	if r == session.RoleAssistant {
		return "Bot"
	}
	return "You"
}

// submitLine submits one line typed at the prompt and explains rejections.
func (cb *ChatBot) submitLine(ctx context.Context, input string) {
	err := cb.Submit(ctx, input)
	switch {
	case err == nil, errors.Is(err, session.ErrInvalidInput):
	case errors.Is(err, ErrMissingCredential):
		fmt.Fprintf(cb.out, "Set %s to start chatting.\n", config.EnvAPIKey)
	case errors.Is(err, session.ErrAlreadyInFlight):
		fmt.Fprintln(cb.out, "Still waiting for the previous reply.")
	default:
		fmt.Fprintf(cb.out, "Error: %v\n", err)
		cb.logger.Error("submission failed", "error", err)
	}
}

// attachPrinter prints assistant turns as they are appended. Only the first
// call subscribes.
func (cb *ChatBot) attachPrinter() {
	cb.printer.Do(func() {
		cb.store.Subscribe(func(c session.Change) {
			if c.Kind == session.ChangeAppended && c.Message.Role == session.RoleAssistant {
				fmt.Fprintf(cb.out, "Bot: %s\n\n", c.Message.Content)
			}
		})
	})
}

// Run starts the interactive loop on the terminal until /quit or EOF.
func (cb *ChatBot) Run(ctx context.Context) error {
	cb.attachPrinter()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Fprintln(cb.out, "=== ChatDesk ===")
	fmt.Fprintf(cb.out, "Model: %s\n", cb.config.Model)
	if !cb.config.HasCredential() {
		fmt.Fprintf(cb.out, "Warning: %s is not set; messages will not be sent.\n", config.EnvAPIKey)
	}
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	for {
		input, err := line.Prompt("You: ")
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed stdin all end the session.
			if !errors.Is(err, liner.ErrPromptAborted) {
				cb.logger.Debug("prompt closed", "error", err)
			}
			fmt.Fprintln(cb.out)
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(input)
			if err != nil {
				fmt.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Warn("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		cb.SetDraft(input)
		cb.submitLine(ctx, cb.Draft())
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}
