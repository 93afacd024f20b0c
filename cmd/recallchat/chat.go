package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"RecallChat/internal/chatbot"
	"RecallChat/internal/config"
)

func newChatCmd(v *viper.Viper) *cobra.Command {
	var (
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			repl := chatbot.NewREPL(a.bot, a.store, a.memory, userID,
				chatbot.WithModels(a.llm),
				chatbot.WithMCP(a.mcp),
				chatbot.WithSession(sessionID),
				chatbot.WithREPLLogger(a.logger))
			return repl.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "local", "User id to chat as.")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Resume an existing session by ID.")
	return cmd
}
