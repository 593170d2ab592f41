package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const appName = "husk"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".husk", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func main() {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Group-chat AI persona with relationship tracking and multi-backend failover",
		Long: strings.TrimSpace(`husk is a chat bot that lives in your group chats, keeps a
relationship score for everyone it talks to, and survives backend outages by
rotating credentials, models, and providers.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newImportCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.husk config and data directories",
		Example: "  husk onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  husk status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status()
		},
	}
}

func newImportCommand() *cobra.Command {
	var chatID string

	cmd := &cobra.Command{
		Use:   "import <result.json>",
		Short: "Import a Telegram Desktop chat export into the history log",
		Long:  "Convert an exported result.json into the bot's durable chat history so it remembers conversations that happened before it joined.",
		Example: strings.Join([]string{
			"  husk import ~/Downloads/result.json --chat -1001234567890",
		}, "\n"),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0], chatID)
		},
	}
	cmd.Flags().StringVarP(&chatID, "chat", "c", "", "Chat ID to import into (required)")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDirPath(), "chat_history"), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your DeepSeek API keys to", configPath)
	fmt.Println("     (providers.deepseek.api_keys takes a list; they rotate on quota errors)")
	fmt.Println("  2. Add your Telegram bot token to channels.telegram.token")
	fmt.Println("  3. Chat locally: husk chat")
	fmt.Println("  4. Run the bot: husk gateway")
	return nil
}

func status() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n\n", formatVersion())

	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗ (run: husk onboard)")
	}

	dataDir := cfg.DataDirPath()
	if _, err := os.Stat(dataDir); err == nil {
		fmt.Println("Data dir:", dataDir, "✓")
	} else {
		fmt.Println("Data dir:", dataDir, "not initialized")
	}

	deepseekReady := len(cfg.Providers.DeepSeek.APIKeys) > 0
	geminiReady := len(cfg.Providers.Gemini.APIKeys) > 0
	escapeReady := strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) != ""
	telegramReady := strings.TrimSpace(cfg.Channels.Telegram.Token) != ""
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

	fmt.Printf("DeepSeek keys: %s (%d)\n", mark(deepseekReady), len(cfg.Providers.DeepSeek.APIKeys))
	fmt.Printf("Gemini keys: %s (%d)\n", mark(geminiReady), len(cfg.Providers.Gemini.APIKeys))
	fmt.Println("Escape hatch (OpenRouter):", mark(escapeReady))
	fmt.Println("Telegram token:", mark(telegramReady))
	fmt.Println("Discord token:", mark(discordReady))
	fmt.Printf("Models in rotation: %d\n", len(cfg.Models))
	fmt.Println("Chat ready:", mark(deepseekReady || geminiReady))
	fmt.Println("Gateway ready:", mark((deepseekReady || geminiReady) && (telegramReady || discordReady)))
	return nil
}

func runImport(exportPath, chatID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(exportPath)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	history, err := store.NewHistoryStore(filepath.Join(cfg.DataDirPath(), "chat_history"), cfg.Storage.WindowSize)
	if err != nil {
		return err
	}

	report, err := store.ImportTelegramExport(f, history, chatID, cfg.Bot.Name)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d of %d messages into chat %s\n", report.Imported, report.Total, chatID)
	fmt.Printf("  user: %d, assistant: %d, skipped: %d\n", report.User, report.Assistant, report.Skipped)
	return nil
}
