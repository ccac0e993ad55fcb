package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmatias/aichat/internal/config"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured models",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

type modelListing struct {
	Key          string `json:"key"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Capabilities string `json:"capabilities"`
	Default      bool   `json:"default"`
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	listings := make([]modelListing, 0, len(cfg.Models))
	for _, key := range cfg.ModelKeys() {
		m := cfg.Models[key]
		id := m.ModelID
		if m.Provider == config.ProviderLocal {
			id = m.Model
		}
		listings = append(listings, modelListing{
			Key:          key,
			Provider:     string(m.Provider),
			Model:        id,
			Capabilities: capabilitySummary(m),
			Default:      key == cfg.App.DefaultModel,
		})
	}

	if modelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	for _, l := range listings {
		marker := " "
		if l.Default {
			marker = "*"
		}
		caps := l.Capabilities
		if caps == "" {
			caps = "text"
		}
		fmt.Printf("%s %-16s %-10s %-32s %s\n", marker, l.Key, l.Provider, l.Model, caps)
	}
	return nil
}

func capabilitySummary(m config.Model) string {
	var caps []string
	if m.SupportsImages {
		caps = append(caps, "images")
	}
	if m.SupportsDocuments {
		caps = append(caps, "documents")
	}
	if m.SupportsReasoning {
		caps = append(caps, "reasoning")
	}
	return strings.Join(caps, ",")
}
