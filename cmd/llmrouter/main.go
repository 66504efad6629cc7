// Command llmrouter runs the model router: an OpenAI-compatible HTTP front
// that routes virtual-model requests onto configured upstream channels.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	llmrouter "github.com/ferro-labs/llm-router"
	"github.com/ferro-labs/llm-router/internal/callers"
	"github.com/ferro-labs/llm-router/internal/logging"
	"github.com/ferro-labs/llm-router/internal/version"
	"github.com/ferro-labs/llm-router/providers"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "llmrouter",
		Short:         "Route OpenAI-compatible requests across upstream model providers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c",
		os.Getenv("ROUTER_CONFIG"), "path to the config file (or $ROUTER_CONFIG)")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newValidateCmd(&cfgPath))
	root.AddCommand(newRouteCmd(&cfgPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "llmrouter %s\n", version.String())
		},
	})
	return root
}

func loadConfig(path string) (*llmrouter.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("no config file: pass --config or set ROUTER_CONFIG")
	}
	return llmrouter.LoadConfig(path)
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the router server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			log := logging.Logger

			keyStore, err := newKeyStore(cfg)
			if err != nil {
				return err
			}

			router, err := llmrouter.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			router.Start(ctx)

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           newHandler(router, cfg, keyStore),
				ReadHeaderTimeout: 10 * time.Second,
				// Write timeout must cover slow model streams.
				WriteTimeout: cfg.Server.RequestTimeout.D() + 30*time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				<-ctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("shutdown error", "error", err)
				}
			}()

			log.Info("llmrouter listening",
				"version", version.Short(), "addr", cfg.Server.Addr,
				"providers", len(cfg.Providers), "channels", len(cfg.Channels))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}
}

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without starting the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "config is valid")
			fmt.Fprintf(out, "  providers: %d\n", len(cfg.Providers))
			fmt.Fprintf(out, "  channels:  %d\n", len(cfg.Channels))
			fmt.Fprintf(out, "  strategy:  %s\n", cfg.Routing.DefaultStrategy)
			return nil
		},
	}
}

func newRouteCmd(cfgPath *string) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "route <model>",
		Short: "Show the routing decision for a virtual model without dispatching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			router, err := llmrouter.New(cfg, logging.Logger)
			if err != nil {
				return err
			}

			req := &providers.Request{
				Model:           args[0],
				Messages:        []providers.Message{{Role: providers.RoleUser, Content: "ping"}},
				RoutingStrategy: strategy,
			}
			result, err := router.Route(cmd.Context(), req)
			if err != nil {
				return err
			}

			type line struct {
				Rank    int     `json:"rank"`
				Channel string  `json:"channel"`
				Model   string  `json:"model"`
				Total   float64 `json:"total"`
				Bucket  int     `json:"bucket"`
			}
			lines := make([]line, 0, len(result.Candidates))
			for i, cand := range result.Candidates {
				l := line{Rank: i + 1, Channel: cand.Channel.ID, Model: cand.Model}
				if i < len(result.Scores) {
					l.Total = result.Scores[i].Total
					l.Bucket = result.Scores[i].Bucket
				}
				lines = append(lines, l)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"strategy":   result.Strategy,
				"candidates": lines,
			})
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "routing strategy name")
	return cmd
}

// newKeyStore builds the caller-key backend. An empty backend disables
// ingress auth.
func newKeyStore(cfg *llmrouter.Config) (callers.Store, error) {
	switch cfg.KeyStore.Backend {
	case "":
		return nil, nil
	case "memory":
		return callers.NewMemoryStore(), nil
	case "sqlite":
		s, err := callers.NewSQLiteStore(cfg.KeyStore.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := callers.NewPostgresStore(cfg.KeyStore.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown key_store backend %q", cfg.KeyStore.Backend)
	}
}
