package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmatias/aichat/internal/trace"
)

var rootCmd = &cobra.Command{
	Use:   "aichat",
	Short: "Stream chat exchanges against cloud and local models",
	Long: `aichat streams responses from an Anthropic model or a local
OpenAI-compatible server (Ollama, LM Studio, llama.cpp), separating model
reasoning from answer text and extracting documents the model marks for
download.

Examples:
  aichat chat "summarize the attached report" --doc report.pdf
  aichat chat --model qwen --show-reasoning "plan a schema migration"
  aichat models`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugRaw {
			if err := trace.Enable(traceFile); err != nil {
				return fmt.Errorf("failed to open trace file: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		trace.Close()
	},
}

var configPath string
var modelKey string
var debugRaw bool
var traceFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/aichat/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelKey, "model", "m", "", "Model key from the config (default from app.default_model)")
	rootCmd.PersistentFlags().BoolVar(&debugRaw, "debug-raw", false, "Record raw wire frames to the trace file")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace-file", "aichat-trace.jsonl", "Where --debug-raw writes frames")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
