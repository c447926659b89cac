package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashureev/toolhub/internal/browser"
	"github.com/ashureev/toolhub/internal/interpret"
	"github.com/ashureev/toolhub/internal/toolset"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of every enabled tool-set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		sets := buildToolsets(cfg, browser.NewSimulated(), interpret.NewRules(), logger)
		return printTools(cmd.OutOrStdout(), sets, toolsJSON)
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(toolsCmd)
}

type toolsetListing struct {
	Name   string               `json:"name"`
	Prefix string               `json:"prefix"`
	Tools  []toolset.Descriptor `json:"tools"`
}

func printTools(w io.Writer, sets []mounted, asJSON bool) error {
	listing := make([]toolsetListing, 0, len(sets))
	for _, m := range sets {
		listing = append(listing, toolsetListing{
			Name:   m.toolset.Name,
			Prefix: m.prefix,
			Tools:  m.toolset.Registry.Describe(),
		})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	for _, l := range listing {
		fmt.Fprintf(w, "%s (%s)\n", l.Name, l.Prefix)
		for _, d := range l.Tools {
			fmt.Fprintf(w, "  %-26s %s\n", d.Name, d.Description)
		}
	}
	return nil
}
