package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmatias/aichat/internal/capture"
	"github.com/tmatias/aichat/internal/config"
	"github.com/tmatias/aichat/internal/llm"
	"github.com/tmatias/aichat/internal/session"
)

var chatImages []string
var chatDocs []string
var chatSystem string
var chatExportDir string
var chatShowReasoning bool
var chatMaxTokens int
var chatTemperature float64
var chatCaptureFile string

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a prompt and stream the response",
	Long: `Send a prompt to the selected model and stream the response to
stdout. The prompt is read from the arguments, or from stdin when piped.

Attachments the model cannot accept are stripped with a warning; the text
still goes through. When the response marks a document for download it is
saved to the export directory.

Examples:
  aichat chat "explain CRDTs in two paragraphs"
  aichat chat "what is in this picture" --image photo.png
  git diff | aichat chat "review this diff"`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringArrayVar(&chatImages, "image", nil, "Attach an image file (repeatable)")
	chatCmd.Flags().StringArrayVar(&chatDocs, "doc", nil, "Attach a document file (repeatable)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "System prompt")
	chatCmd.Flags().StringVar(&chatExportDir, "export-dir", "", "Override the document export directory")
	chatCmd.Flags().BoolVar(&chatShowReasoning, "show-reasoning", false, "Print model reasoning to stderr as it streams")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "Override the model's max_tokens")
	chatCmd.Flags().Float64Var(&chatTemperature, "temperature", 0, "Override the model's temperature")
	chatCmd.Flags().StringVar(&chatCaptureFile, "capture", "", "Write the response as a capture payload with provenance to this file")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	model, err := cfg.Model(modelKey)
	if err != nil {
		return err
	}
	provider, err := llm.NewProvider(model)
	if err != nil {
		return err
	}

	prompt, err := readPrompt(args)
	if err != nil {
		return err
	}

	messages, err := buildMessages(prompt)
	if err != nil {
		return err
	}

	ctrl := session.New(provider)

	// Ctrl-C cancels the exchange but keeps what already arrived on screen.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			ctrl.Cancel()
		}
	}()

	opts := session.Options{
		MaxTokens: chatMaxTokens,
		DebugRaw:  debugRaw,
	}
	// Only an explicitly passed --temperature overrides the model config;
	// the flag's zero value is a real setting, not "unset".
	if cmd.Flags().Changed("temperature") {
		opts.Temperature = &chatTemperature
	}

	events, warnings, err := ctrl.Start(context.Background(), messages, opts)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
	}

	for ev := range events {
		switch ev.Type {
		case llm.EventTextDelta:
			fmt.Print(ev.Text)
		case llm.EventReasoningDelta:
			if chatShowReasoning {
				fmt.Fprint(os.Stderr, ev.Text)
			}
		case llm.EventError:
			fmt.Println()
			if snap := ctrl.Snapshot(); snap.Content != "" {
				fmt.Fprintln(os.Stderr, "(partial response shown above)")
			}
			return ev.Err
		}
	}
	fmt.Println()

	if ctrl.State() == session.StateCancelled {
		fmt.Fprintln(os.Stderr, "cancelled")
		return nil
	}

	if doc := ctrl.Document(); doc != nil {
		dir := chatExportDir
		if dir == "" {
			dir = cfg.Documents.ExportDir
		}
		path, err := doc.Save(dir, cfg.Documents.IncludeMetadata)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "document saved: %s\n", path)
	}

	if chatCaptureFile != "" {
		payload, err := ctrl.BuildCapture(capture.Provenance{Model: model.Name})
		if err != nil {
			return err
		}
		if err := os.WriteFile(chatCaptureFile, []byte(payload.Markdown()), 0o644); err != nil {
			return fmt.Errorf("failed to write capture: %w", err)
		}
		fmt.Fprintf(os.Stderr, "capture written: %s\n", chatCaptureFile)
	}
	return nil
}

func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("no prompt given (pass it as arguments or pipe it on stdin)")
}

func buildMessages(prompt string) ([]llm.Message, error) {
	var messages []llm.Message
	if chatSystem != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Text: chatSystem})
	}

	user := llm.Message{Role: llm.RoleUser, Text: prompt}
	for _, path := range chatImages {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", path, err)
		}
		user.Images = append(user.Images, data)
	}
	for _, path := range chatDocs {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read document %s: %w", path, err)
		}
		user.Documents = append(user.Documents, llm.Document{
			Filename: filepath.Base(path),
			Data:     data,
		})
	}
	return append(messages, user), nil
}
