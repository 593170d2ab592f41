package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/huskbot/husk/pkg/agent"
	"github.com/huskbot/husk/pkg/ai"
	"github.com/huskbot/husk/pkg/bus"
	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/gate"
	"github.com/huskbot/husk/pkg/karma"
	"github.com/huskbot/husk/pkg/providers"
	"github.com/huskbot/husk/pkg/store"
)

const cliChatID = "cli"

func newChatCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long:  "Run the full pipeline locally: karma, history, and backend rotation all apply, only the channel transport is skipped.",
		Example: strings.Join([]string{
			"  husk chat",
			"  husk chat -m \"what do you think of me?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loop, cleanup, err := buildChatLoop(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if message != "" {
				return oneShot(loop, message)
			}
			return interactiveChat(cfg, loop)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and exit")
	return cmd
}

// buildChatLoop wires the pipeline without channels or the health
// server. The returned cleanup flushes and closes the stores.
func buildChatLoop(cfg *config.Config) (*agent.Loop, func(), error) {
	backends, err := providers.Build(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building providers: %w", err)
	}
	service := ai.NewService(ai.New(backends), cfg.Bot.Name)

	dataDir := cfg.DataDirPath()
	flushEvery := time.Duration(cfg.Storage.FlushIntervalMS) * time.Millisecond

	profiles, err := store.NewProfileStore(filepath.Join(dataDir, "profiles.json"), cfg.Karma.Default, flushEvery)
	if err != nil {
		return nil, nil, err
	}
	history, err := store.NewHistoryStore(filepath.Join(dataDir, "chat_history"), cfg.Storage.WindowSize)
	if err != nil {
		profiles.Close()
		return nil, nil, err
	}
	meta, err := store.NewMetaStore(filepath.Join(dataDir, "meta.db"))
	if err != nil {
		profiles.Close()
		return nil, nil, err
	}
	if err := history.WarmWindow(cliChatID); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load chat history: %v\n", err)
	}

	msgBus := bus.NewMessageBus()

	loop := agent.NewLoop(cfg, msgBus, service,
		karma.NewEngine(cfg.Karma, profiles),
		gate.New(cfg.Bot, cfg.Gate, cfg.Karma),
		profiles, history, meta)

	cleanup := func() {
		profiles.Close()
		meta.Close()
		msgBus.Close()
	}
	return loop, cleanup, nil
}

func oneShot(loop *agent.Loop, message string) error {
	reply, err := loop.ProcessDirect(context.Background(), cliChatID, "local", localUserName(), message)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func interactiveChat(cfg *config.Config, loop *agent.Loop) error {
	fmt.Printf("Chatting with %s. Type 'exit' to quit.\n\n", cfg.Bot.Name)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".husk_chat_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return simpleInteractiveChat(cfg, loop)
	}
	defer rl.Close()

	sender := localUserName()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		}
		if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := loop.ProcessDirect(context.Background(), cliChatID, "local", sender, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("%s> %s\n", cfg.Bot.Name, reply)
	}

	fmt.Println("Bye!")
	return nil
}

// simpleInteractiveChat is the fallback for terminals readline cannot
// drive (some CI shells and pipes).
func simpleInteractiveChat(cfg *config.Config, loop *agent.Loop) error {
	scanner := bufio.NewScanner(os.Stdin)
	sender := localUserName()

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := loop.ProcessDirect(context.Background(), cliChatID, "local", sender, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("%s> %s\n", cfg.Bot.Name, reply)
	}

	fmt.Println("Bye!")
	return nil
}

func localUserName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "you"
}
