package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	app "link-cloaker/internal/app/server"
	"link-cloaker/internal/config"
	"link-cloaker/internal/engine"
	"link-cloaker/internal/storage"
)

var (
	cfgFile string
	console bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "link-cloaker",
		Short:        "Campaign redirect service with bot, device, geo and origin filtering",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default configs/application.yaml)")
	rootCmd.PersistentFlags().BoolVar(&console, "console", false, "human readable log output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	config.SetupLogging(cfg.Server.LogLevel, console)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the redirect HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return app.Run(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, err := storage.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Msg("schema up to date")
			return nil
		},
	}
}

type inspectInput struct {
	Campaign      engine.Campaign
	Request       engine.Request
	ClickIDParams []string
}

type inspectReport struct {
	Outcome   engine.Outcome        `json:"outcome"`
	Target    string                `json:"target"`
	AccessLog engine.AccessLogEntry `json:"accessLog"`
}

// runInspect evaluates one synthetic request offline. Only the header-based
// geo signal is used; no lookup is made.
func runInspect(ctx context.Context, w io.Writer, in inspectInput) error {
	p := engine.NewPipeline(nil, in.ClickIDParams...)
	o := p.Evaluate(ctx, in.Campaign, in.Request)
	report := inspectReport{
		Outcome:   o,
		Target:    in.Campaign.Target(o.Decision.Blocked),
		AccessLog: engine.BuildAccessLog(in.Campaign, in.Request, o),
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func inspectCmd() *cobra.Command {
	var in inspectInput
	c := &in.Campaign
	r := &in.Request

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run the detection layers against a synthetic request and print the decision",
		Example: `  link-cloaker inspect --ua "curl/8.0"
  link-cloaker inspect --ua "$UA" --country US --block-countries US,DE
  link-cloaker inspect --ua "$UA" --url "https://go.example.com/r/x?fbclid=1" --origin-lock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.ID = "inspect"
			c.IsActive = true
			return runInspect(cmd.Context(), cmd.OutOrStdout(), in)
		},
	}

	f := cmd.Flags()
	f.StringVar(&r.UserAgent, "ua", "", "User-Agent header")
	f.StringVar(&r.URL, "url", "https://example.com/r/inspect", "full request URL")
	f.StringVar(&r.Referer, "referer", "", "Referer header")
	f.StringVar(&r.EdgeCountry, "country", "", "edge country header value")
	f.StringVar(&r.CDNCountry, "cdn-country", "", "CDN country header value")
	f.StringVar(&r.ForwardedFor, "forwarded-for", "", "X-Forwarded-For header")
	f.StringVar(&r.RemoteAddr, "remote-addr", "127.0.0.1:0", "socket peer address")
	f.BoolVar(&c.BlockBots, "block-bots", true, "campaign blocks bots")
	f.BoolVar(&c.BlockDesktop, "block-desktop", false, "campaign blocks desktop visitors")
	f.StringSliceVar(&c.BlockedCountries, "block-countries", nil, "blocked ISO country codes")
	f.BoolVar(&c.EnableOriginLock, "origin-lock", false, "require an ad click id or in-app browser")
	f.StringSliceVar(&in.ClickIDParams, "click-id", []string{"fbclid"}, "accepted click id query parameters")
	f.StringVar(&c.DestinationURL, "destination", "https://offer.example.com/", "destination URL")
	f.StringVar(&c.SafePageURL, "safe-page", "https://safe.example.com/", "safe page URL")
	return cmd
}
