package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/quizpulse/quizpulse/internal/client"
	"github.com/spf13/cobra"
)

var (
	emitURL      string
	emitUserID   string
	emitUserName string

	emitCmd = &cobra.Command{
		Use:   "emit",
		Short: "Post a domain event to a running hub",
	}

	emitQuizCmd = &cobra.Command{
		Use:   "quiz <personality-type>",
		Short: "Report a completed quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := emitClient().PostQuizTaken(client.QuizTaken{
				PersonalityType: args[0],
				UserID:          emitUserID,
				UserName:        emitUserName,
			})
			if err != nil {
				return fmt.Errorf("emit quiz_taken: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "quiz_taken sent")
			return nil
		},
	}

	emitChallengeID string
	emitGuessCmd    = &cobra.Command{
		Use:   "guess <guessed> <actual>",
		Short: "Report a guess on a friend's personality",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			challenge := emitChallengeID
			if challenge == "" {
				challenge = uuid.NewString()
			}
			err := emitClient().PostGuessMade(client.GuessMade{
				ChallengeID: challenge,
				UserID:      emitUserID,
				UserName:    emitUserName,
				Guessed:     args[0],
				Actual:      args[1],
			})
			if err != nil {
				return fmt.Errorf("emit guess_made: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "guess_made sent (challenge %s)\n", challenge)
			return nil
		},
	}
)

func init() {
	emitCmd.PersistentFlags().StringVar(&emitURL, "url", "", "WebSocket URL of the hub; the HTTP base is derived from it (default from config)")
	emitCmd.PersistentFlags().StringVar(&emitUserID, "user", "", "User id")
	emitCmd.PersistentFlags().StringVar(&emitUserName, "name", "", "Display name")
	emitGuessCmd.Flags().StringVar(&emitChallengeID, "challenge", "", "Challenge id (random when empty)")

	emitCmd.AddCommand(emitQuizCmd, emitGuessCmd)
}

func emitClient() *client.HTTPClient {
	wsURL := cfg.Session.URL
	if emitURL != "" {
		wsURL = emitURL
	}
	return client.NewHTTPClient(deriveHTTPBase(wsURL))
}
