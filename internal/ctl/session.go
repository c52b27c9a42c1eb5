package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/rcowellai/recording-app-sub000/internal/httpapi"
	"github.com/rcowellai/recording-app-sub000/internal/sessionlink"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage recording sessions",
}

var (
	mintPromptID      string
	mintUserID        string
	mintStorytellerID string
	mintPromptText    string
	mintStoryteller   string
	mintCouple        string
	mintExpiresIn     time.Duration
	mintMaxDuration   int
)

var sessionMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Create a test session and print its recording link",
	RunE: func(cmd *cobra.Command, args []string) error {
		if databaseURL == "" {
			return fmt.Errorf("--database-url (or DATABASE_URL) is required")
		}
		for name, v := range map[string]string{
			"prompt-id": mintPromptID, "user-id": mintUserID, "storyteller-id": mintStorytellerID,
		} {
			if strings.Contains(v, "-") {
				return fmt.Errorf("--%s must not contain dashes: %q", name, v)
			}
		}

		pool, err := pgxpool.New(rootCtx, databaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		prefix := strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
		now := time.Now().UTC()
		sessionID := fmt.Sprintf("%s-%s-%s-%s-%d", prefix, mintPromptID, mintUserID, mintStorytellerID, now.Unix())

		_, err = pool.Exec(rootCtx, `
			INSERT INTO sessions (
				session_id, user_id, prompt_id, storyteller_id,
				prompt_text, storyteller_name, couple_names,
				max_duration_seconds, status, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
		`, sessionID, mintUserID, mintPromptID, mintStorytellerID,
			mintPromptText, mintStoryteller, mintCouple,
			mintMaxDuration, now.Add(mintExpiresIn))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		color.Green("✓ session minted")
		fmt.Printf("  id:   %s\n", sessionID)
		fmt.Printf("  link: %s/r/%s\n", baseURL, sessionID)
		return nil
	},
}

var sessionOpenCmd = &cobra.Command{
	Use:   "open <session-id>",
	Short: "Open a session's recording link in the default browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := sessionlink.Parse(args[0]); err != nil {
			return fmt.Errorf("not a valid session id: %w", err)
		}
		url := fmt.Sprintf("%s/r/%s", baseURL, args[0])
		color.Cyan("→ opening %s", url)
		return browser.OpenURL(url)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequestWithContext(rootCtx, http.MethodGet,
			fmt.Sprintf("%s/r/%s", baseURL, args[0]), nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch session: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var apiErr struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&apiErr)
			color.Red("✗ %s (%s)", apiErr.Message, apiErr.Code)
			return fmt.Errorf("session not available (HTTP %d)", resp.StatusCode)
		}

		var sess httpapi.SessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}

		color.Green("✓ %s", sess.SessionID)
		fmt.Printf("  status:       %s\n", colorStatus(sess.Status))
		fmt.Printf("  prompt:       %s\n", sess.PromptText)
		fmt.Printf("  storyteller:  %s\n", sess.StorytellerName)
		fmt.Printf("  couple:       %s\n", sess.CoupleNames)
		fmt.Printf("  max duration: %ds\n", sess.MaxDurationSeconds)
		fmt.Printf("  expires:      %s\n", sess.ExpiresAt.Format(time.RFC3339))
		if sess.LastChunkUploaded != nil {
			fmt.Printf("  progress:     %d%% (last chunk %d)\n", sess.UploadProgress, *sess.LastChunkUploaded)
		}
		return nil
	},
}

func colorStatus(status string) string {
	switch status {
	case "pending", "active":
		return color.CyanString(status)
	case "recording", "uploading", "processing":
		return color.YellowString(status)
	case "completed":
		return color.GreenString(status)
	default:
		return color.RedString(status)
	}
}

func init() {
	sessionMintCmd.Flags().StringVar(&mintPromptID, "prompt-id", "prompt1", "prompt identifier (no dashes)")
	sessionMintCmd.Flags().StringVar(&mintUserID, "user-id", "user1", "owning user identifier (no dashes)")
	sessionMintCmd.Flags().StringVar(&mintStorytellerID, "storyteller-id", "teller1", "storyteller identifier (no dashes)")
	sessionMintCmd.Flags().StringVar(&mintPromptText, "prompt-text", "Tell us a story", "prompt text shown to the storyteller")
	sessionMintCmd.Flags().StringVar(&mintStoryteller, "storyteller-name", "Alex", "storyteller display name")
	sessionMintCmd.Flags().StringVar(&mintCouple, "couple-names", "Sam & Riley", "couple display names")
	sessionMintCmd.Flags().DurationVar(&mintExpiresIn, "expires-in", 7*24*time.Hour, "session lifetime")
	sessionMintCmd.Flags().IntVar(&mintMaxDuration, "max-duration", 900, "maximum recording seconds")

	sessionCmd.AddCommand(sessionMintCmd)
	sessionCmd.AddCommand(sessionOpenCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}
