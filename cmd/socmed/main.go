// Command socmed manages an Instagram saved-content archive: bootstrapping
// records from the API, enriching archive stubs, and extracting text from
// downloaded media.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/snapetech/socmed/internal/bootstrap"
	"github.com/snapetech/socmed/internal/config"
	"github.com/snapetech/socmed/internal/enricher"
	"github.com/snapetech/socmed/internal/extractor"
	"github.com/snapetech/socmed/internal/instagram"
	"github.com/snapetech/socmed/internal/metrics"
	"github.com/snapetech/socmed/internal/syncstate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	var dataDir string
	var verbose bool

	root := &cobra.Command{
		Use:           "socmed",
		Short:         "Instagram saved-content archive pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnvFile(".env")
			if dataDir != "" {
				os.Setenv(config.EnvDataDir, dataDir)
			}
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "archive root (overrides "+config.EnvDataDir+")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(enrichCmd(), extractCmd(), bootstrapCmd(), syncStatusCmd())
	return root
}

// loadConfig resolves config, prepares the directory layout and starts the
// optional metrics listener.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	metrics.Serve(cfg.MetricsAddr)
	return cfg, nil
}

func secondsFlag(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func enrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fill pending archive records from the API",
	}

	var (
		limit     int
		delay     float64
		saveEvery int
		noMedia   bool
		coll      string
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Run enrichment with media download",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return enricher.New(cfg).Run(cmd.Context(), enricher.Options{
				Limit:         limit,
				Delay:         secondsFlag(delay),
				SaveEvery:     saveEvery,
				DownloadMedia: !noMedia,
				Collection:    coll,
			})
		},
	}
	run.Flags().IntVar(&limit, "limit", 0, "max posts to process (0 = all)")
	run.Flags().Float64Var(&delay, "delay", 3.0, "seconds between requests")
	run.Flags().IntVar(&saveEvery, "save-every", 25, "save progress every N posts")
	run.Flags().BoolVar(&noMedia, "no-media", false, "skip media download (metadata only)")
	run.Flags().StringVar(&coll, "collection", "", "only enrich posts in this collection (substring match)")

	var dmLimit int
	downloadMedia := &cobra.Command{
		Use:   "download-media",
		Short: "Download media for already-enriched posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return enricher.New(cfg).RunMediaDownload(cmd.Context(), dmLimit)
		},
	}
	downloadMedia.Flags().IntVar(&dmLimit, "limit", 0, "max posts to process (0 = all)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show enrichment statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := enricher.New(cfg).Stats()
			if err != nil {
				return err
			}
			fmt.Print(s)
			return nil
		},
	}

	cmd.AddCommand(run, downloadMedia, stats, enrichTestCmd())
	return cmd
}

// enrichTestCmd checks authentication against both API endpoints.
func enrichTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test authentication against both API endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cookies, err := instagram.LoadCookies(cfg.CookiesPath, cfg.FirefoxProfileDir)
			if err != nil {
				return err
			}
			session, err := instagram.NewSession(cookies)
			if err != nil {
				return err
			}
			fmt.Printf("Authenticated as user %s\n", session.UserID())

			gql := session.FetchGraphQL(cmd.Context(), instagram.TestShortcode)
			if gql.Status == instagram.StatusOK {
				fmt.Printf("  GraphQL: OK (@%s)\n", gql.Username)
			} else {
				fmt.Printf("  GraphQL: %s %s\n", gql.Status, gql.Message)
			}
			rest := session.FetchREST(cmd.Context(), instagram.TestShortcode)
			if rest.Status == instagram.StatusOK {
				fmt.Printf("  REST:    OK (@%s)\n", rest.Username)
			} else {
				fmt.Printf("  REST:    %s %s\n", rest.Status, rest.Message)
			}
			if gql.Status != instagram.StatusOK && rest.Status != instagram.StatusOK {
				return fmt.Errorf("both endpoints failed")
			}
			return nil
		},
	}
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract text from downloaded media (Whisper + OCR)",
	}

	var (
		coll        string
		limit       int
		saveEvery   int
		skipWhisper bool
		skipOCR     bool
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return extractor.New(cfg).Run(cmd.Context(), extractor.Options{
				Collection:  coll,
				Limit:       limit,
				SaveEvery:   saveEvery,
				SkipWhisper: skipWhisper,
				SkipOCR:     skipOCR,
			})
		},
	}
	run.Flags().StringVar(&coll, "collection", "", "only extract from this collection (substring match)")
	run.Flags().IntVar(&limit, "limit", 0, "max posts to process (0 = all)")
	run.Flags().IntVar(&saveEvery, "save-every", 10, "save progress every N posts")
	run.Flags().BoolVar(&skipWhisper, "skip-whisper", false, "skip audio transcription (OCR only)")
	run.Flags().BoolVar(&skipOCR, "skip-ocr", false, "skip OCR (audio transcription only)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show extraction statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ex := extractor.New(cfg)
			s, err := ex.Stats()
			if err != nil {
				return err
			}
			fmt.Print(s)

			breakdown, err := ex.CollectionBreakdown()
			if err != nil {
				return err
			}
			if len(breakdown) > 0 {
				fmt.Println("\nBy collection (top 15):")
				for i, c := range breakdown {
					if i == 15 {
						break
					}
					fmt.Printf("  %s: %d/%d extracted, %d pending\n",
						c.Name, c.Extracted, c.Total, c.Pending)
				}
			}
			return nil
		},
	}

	var postID, sampleColl string
	sample := &cobra.Command{
		Use:   "sample",
		Short: "Show extraction results for a post",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := extractor.New(cfg).Sample(postID, sampleColl)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	sample.Flags().StringVar(&postID, "post-id", "", "specific post shortcode")
	sample.Flags().StringVar(&sampleColl, "collection", "", "show a sample from this collection")

	cmd.AddCommand(run, stats, sample)
	return cmd
}

func bootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Sync saved posts straight from the API",
	}

	var (
		limit   int
		delay   float64
		noMedia bool
		coll    string
	)
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Sync saved posts into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return bootstrap.New(cfg).RunSync(cmd.Context(), bootstrap.SyncOptions{
				Limit:         limit,
				Delay:         secondsFlag(delay),
				DownloadMedia: !noMedia,
				Collection:    coll,
			})
		},
	}
	sync.Flags().IntVar(&limit, "limit", 0, "max posts to fetch (0 = all)")
	sync.Flags().Float64Var(&delay, "delay", 2.0, "seconds between page requests")
	sync.Flags().BoolVar(&noMedia, "no-media", false, "skip media download")
	sync.Flags().StringVar(&coll, "collection", "", "only sync posts in this collection (substring match)")

	collections := &cobra.Command{
		Use:   "collections",
		Short: "List saved collections from the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := bootstrap.New(cfg).CollectionSummary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Compare API collections against the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := bootstrap.New(cfg).SyncDelta(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.AddCommand(sync, collections, stats)
	return cmd
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-status",
		Short: "Show sync cursor status for all pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := syncstate.NewTracker(cfg.SyncStatePath).Summary()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}
