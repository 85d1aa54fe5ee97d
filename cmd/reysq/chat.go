package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ent0n29/reysq/internal/app"
	"github.com/ent0n29/reysq/internal/companion"
	"github.com/ent0n29/reysq/internal/transport"
)

const consoleChannel = "console"

func newChatCommand(load configLoader) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the companion from the terminal",
		Long: strings.TrimSpace(`Run the full turn pipeline locally. Replies are printed instead of sent.
Type "/voice <file>" to send an audio file as a voice note, "exit" to quit.`),
		Example: "  reysq chat --user console:me",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			built, err := app.Build(cmd.Context(), cfg, setupLogger(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = built.Cleanup() }()

			bot := color.New(color.FgCyan)
			built.Router.Register(consoleChannel, transport.DelivererFunc(func(_ context.Context, reply transport.Reply) error {
				bot.Print("reysq> ")
				fmt.Println(reply.Text)
				if reply.Audio != nil {
					color.New(color.FgHiBlack).Printf("        [voice reply, %s, %d bytes]\n", reply.Audio.MIMEType, len(reply.Audio.Data))
				}
				return nil
			}))
			return runConsole(cmd.Context(), built, userID)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "console:local", "User id the conversation is stored under")
	return cmd
}

func runConsole(ctx context.Context, built *app.BuildResult, userID string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".reysq_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	notice := color.New(color.FgYellow)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		in := transport.Inbound{
			Channel:   consoleChannel,
			UserID:    userID,
			MessageID: uuid.NewString(),
			Kind:      transport.KindText,
			Text:      input,
		}
		if path, ok := strings.CutPrefix(input, "/voice "); ok {
			data, err := os.ReadFile(strings.TrimSpace(path))
			if err != nil {
				notice.Printf("cannot read %s: %v\n", path, err)
				continue
			}
			in.Kind, in.Text, in.Audio = transport.KindAudio, "", data
		}

		out := built.Processor.Handle(ctx, in)
		switch out.Status {
		case companion.StatusRejected:
			notice.Printf("(ignored: %s)\n", out.Reason)
		case companion.StatusUnavailable:
			notice.Printf("(unavailable: %v)\n", out.Err)
		case companion.StatusDegraded:
			notice.Printf("(degraded: %v)\n", out.Degraded)
		}
		if out.Compacted {
			notice.Println("(memory compacted)")
		}
	}
}
