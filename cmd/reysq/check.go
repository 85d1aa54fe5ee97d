package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ent0n29/reysq/internal/config"
)

func newConfigCommand(load configLoader, path *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print the resolved settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			red := color.New(color.FgRed)
			cfg, err := load()
			if err != nil {
				red.Print("✗ ")
				fmt.Println(err)
				return err
			}
			printConfig(cfg, *path)
			return nil
		},
	})
	return cmd
}

func printConfig(cfg config.Config, path string) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	row := func(label string, value any) {
		green.Print("  ▶ ")
		fmt.Printf("%-22s %v\n", label, value)
	}
	secret := func(label, value string) {
		green.Print("  ▶ ")
		fmt.Printf("%-22s ", label)
		if value == "" {
			yellow.Println("unset")
			return
		}
		gray.Println("set")
	}

	if path == "" {
		path = "(environment only)"
	}
	green.Println("✓ configuration is valid")
	row("config", path)
	row("bind", cfg.BindAddr)
	row("store", cfg.StoreMode())
	row("memory max turns", cfg.MemoryMaxTurns)
	row("compaction", fmt.Sprintf("%s keep=%d on-failure=%s", cfg.CompactionMode, cfg.CompactionKeepTurns, cfg.CompactionFailureMode))
	row("summary tokens", cfg.SummaryMaxTokens)
	row("reply tokens", cfg.ReplyMaxTokens)
	row("gate cooldown", cfg.GateCooldown)
	row("junk utterances", len(cfg.GateJunkUtterances))
	row("welcome", cfg.WelcomeEnabled)
	row("brain", fmt.Sprintf("%s %s", cfg.BrainMode, cfg.OpenAIModel))
	row("graph api", cfg.GraphAPIBaseURL+"/"+cfg.GraphAPIVersion)
	row("voice replies", cfg.VoiceReplies)
	secret("openai key", cfg.OpenAIAPIKey)
	secret("whatsapp token", cfg.WhatsAppToken)
	secret("meta app secret", cfg.MetaAppSecret)
	secret("meta verify token", cfg.MetaVerifyToken)
	secret("discord token", cfg.DiscordToken)
	secret("elevenlabs key", cfg.ElevenLabsAPIKey)
	secret("admin jwt secret", cfg.AdminJWTSecret)
}
