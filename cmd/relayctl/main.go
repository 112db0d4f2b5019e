// ABOUTME: Operator CLI for the relay: health, queue stats, dead letters, tokens
// ABOUTME: Talks to Redis and the gateway API using the shared config file

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/halcyon-health/relay/internal/auth"
	"github.com/halcyon-health/relay/internal/cli"
	"github.com/halcyon-health/relay/internal/config"
	"github.com/halcyon-health/relay/internal/deliver"
)

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "relayctl",
		Short:   "Operate a running relay deployment",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to relay.yaml (default: RELAY_CONFIG or XDG config dir)")

	root.AddCommand(healthCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(deadLettersCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(conversationsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = cli.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func redisQueue(cfg *config.Config) (*deliver.RedisQueue, *redis.Client, error) {
	if cfg.Redis.URL == "" {
		return nil, nil, fmt.Errorf("redis.url is not configured; queue inspection needs the shared queue")
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return deliver.NewRedisQueue(client), client, nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				color.Red("unhealthy: status %d", resp.StatusCode)
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}
			color.Green("healthy")
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show delivery queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			queue, client, err := redisQueue(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			stats, err := queue.Stats(ctx)
			if err != nil {
				return fmt.Errorf("reading queue stats: %w", err)
			}

			fmt.Printf("ready:    %d\n", stats.Ready)
			fmt.Printf("delayed:  %d\n", stats.Delayed)
			if stats.Dead > 0 {
				color.Red("dead:     %d", stats.Dead)
			} else {
				fmt.Printf("dead:     %d\n", stats.Dead)
			}
			return nil
		},
	}
}

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Inspect and requeue dead-lettered delivery jobs",
	}
	cmd.AddCommand(deadLettersListCmd())
	cmd.AddCommand(deadLettersRequeueCmd())
	return cmd
}

func deadLettersListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered delivery jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			queue, client, err := redisQueue(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			jobs, err := queue.DeadLetters(ctx, limit)
			if err != nil {
				return fmt.Errorf("reading dead letters: %w", err)
			}
			if len(jobs) == 0 {
				color.Green("no dead letters")
				return nil
			}

			for _, job := range jobs {
				color.Yellow("%s", job.ID)
				fmt.Printf("  platform:     %s\n", job.Platform)
				fmt.Printf("  conversation: %s\n", job.ConversationID)
				fmt.Printf("  attempts:     %d\n", job.Attempt+1)
				fmt.Printf("  enqueued_at:  %s\n", job.EnqueuedAt.Format(time.RFC3339))
				fmt.Printf("  last_error:   %s\n", job.LastError)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum jobs to list")
	return cmd
}

func deadLettersRequeueCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move dead-lettered jobs back onto the ready queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			queue, client, err := redisQueue(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			n, err := queue.RequeueDeadLetters(ctx, limit)
			if err != nil {
				return fmt.Errorf("requeuing dead letters: %w", err)
			}
			color.Green("requeued %d jobs", n)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum jobs to requeue")
	return cmd
}

func tokenCmd() *cobra.Command {
	var staffID, clinicID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a dashboard JWT for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			token, err := verifier.Generate(staffID, clinicID, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "staff member ID (required)")
	cmd.Flags().StringVar(&clinicID, "clinic", "", "clinic ID (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("staff")
	_ = cmd.MarkFlagRequired("clinic")
	return cmd
}

func conversationsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "conversations <clinic-id>",
		Short: "List a clinic's recent conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			clinicID := args[0]

			verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			token, err := verifier.Generate("relayctl", clinicID, 5*time.Minute)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			url := fmt.Sprintf("http://%s/api/clinics/%s/conversations?limit=%d", cfg.Server.HTTPAddr, clinicID, limit)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("listing conversations: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("listing conversations: status %d", resp.StatusCode)
			}

			var body struct {
				Conversations []struct {
					ID            string    `json:"id"`
					Status        string    `json:"status"`
					Escalated     bool      `json:"escalated"`
					Preview       string    `json:"preview"`
					UnreadCount   int       `json:"unread_count"`
					LastMessageAt time.Time `json:"last_message_at"`
				} `json:"conversations"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			if len(body.Conversations) == 0 {
				fmt.Println("no conversations")
				return nil
			}

			for _, c := range body.Conversations {
				if c.Escalated {
					color.Red("%s  [escalated]", c.ID)
				} else {
					color.Cyan("%s", c.ID)
				}
				fmt.Printf("  status:  %s  unread: %d  last: %s\n", c.Status, c.UnreadCount, c.LastMessageAt.Format(time.RFC3339))
				fmt.Printf("  preview: %s\n", c.Preview)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum conversations to list")
	return cmd
}
