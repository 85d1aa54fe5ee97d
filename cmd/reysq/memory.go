package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/reysq/internal/memory"
)

func newMemoryCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect stored conversation records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "show <user-id>",
		Short:   "Print a user's conversation record as JSON",
		Args:    cobra.ExactArgs(1),
		Example: "  reysq memory show 393331234567",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := memory.NewStore(cmd.Context(), memory.StoreConfig{
				DatabaseURL: cfg.DatabaseURL,
				SQLitePath:  cfg.SQLitePath,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Load(cmd.Context(), args[0])
			if errors.Is(err, memory.ErrNotFound) {
				return fmt.Errorf("no conversation stored for %s in %s store", args[0], cfg.StoreMode())
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	})
	return cmd
}
