package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func askCmd() *cobra.Command {
	var (
		providerName string
		chatID       string
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Generate one reply to a customer message",
		Long:  "Runs a single turn through the orchestrator, including tool calls and provider fallback, and prints the reply.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resp, err := a.orch.GenerateReplyWith(ctx, providerName, chatID, args[0], []domain.Message{})
			if err != nil {
				return err
			}
			if verbose {
				printJSON(resp)
				return nil
			}
			fmt.Println(resp.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "preferred provider (openai, zhipu, deepseek)")
	cmd.Flags().StringVar(&chatID, "chat", "cli", "conversation id used for memory")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the full response with provider, usage and tool calls")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured providers and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			type providerHealth struct {
				Name    string `json:"name"`
				Model   string `json:"model"`
				Tools   bool   `json:"tools"`
				Healthy bool   `json:"healthy"`
				Error   string `json:"error,omitempty"`
			}
			var health []providerHealth
			for _, p := range a.factory.Configured() {
				h := providerHealth{Name: p.Name(), Model: p.Model(), Tools: p.SupportsTools(), Healthy: true}
				if err := p.Healthy(ctx); err != nil {
					h.Healthy = false
					h.Error = err.Error()
				}
				health = append(health, h)
			}

			printJSON(map[string]any{
				"version":   version,
				"status":    a.orch.Status(),
				"providers": health,
				"tools":     a.tools.Names(),
			})
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			printJSON(config.Sanitize(cfg))
			mail, err := config.LoadMail(cfg.General.MailFile)
			if err != nil {
				return err
			}
			printJSON(config.SanitizeMail(mail))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. relay.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			printJSON(val)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config.json, the prompt template and mail settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := config.LoadPrompt(cfg.General.PromptFile); err != nil {
				return err
			}
			if _, err := config.LoadMail(cfg.General.MailFile); err != nil {
				return err
			}
			fmt.Printf("configuration valid (%d provider(s) configured)\n", len(cfg.ConfiguredProviders()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			logger.Info("config written", "path", path)
			return nil
		},
	})

	return cmd
}

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Appointment email tools",
	}

	var info domain.AppointmentInfo
	test := &cobra.Command{
		Use:   "test",
		Short: "Send the customer confirmation and therapist notification for an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			out := a.notifier.SendBoth(cmd.Context(), info)
			printJSON(out)
			if !out.OverallSuccess {
				return fmt.Errorf("%s", out.Message)
			}
			return nil
		},
	}
	test.Flags().StringVar(&info.CustomerName, "name", "", "customer name")
	test.Flags().StringVar(&info.CustomerPhone, "phone", "", "customer phone (the address is derived from it)")
	test.Flags().StringVar(&info.TherapistID, "therapist", "", "therapist id")
	test.Flags().StringVar(&info.AppointmentDate, "date", "", "appointment date (YYYY-MM-DD)")
	test.Flags().StringVar(&info.AppointmentTime, "time", "", "appointment time (HH:MM)")
	test.Flags().StringVar(&info.ServiceType, "service", "", "service type")
	test.Flags().StringVar(&info.Notes, "notes", "", "notes")
	_ = test.MarkFlagRequired("phone")
	_ = test.MarkFlagRequired("therapist")
	cmd.AddCommand(test)
	return cmd
}
