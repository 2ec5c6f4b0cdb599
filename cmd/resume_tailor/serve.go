package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/jonathan/resume-tailor/internal/config"
	"github.com/jonathan/resume-tailor/internal/events"
	"github.com/jonathan/resume-tailor/internal/fetch"
	"github.com/jonathan/resume-tailor/internal/server"
	"github.com/jonathan/resume-tailor/internal/storage"
)

var (
	servePort       int
	serveUseBrowser bool
	serveVerbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wizard API server",
	Long:  `Start an HTTP server exposing wizard sessions and the parse, tailor and export endpoints the wizard steps call.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, fmt.Sprintf("Port to listen on (default %d, or PORT)", config.DefaultPort))
	serveCmd.Flags().BoolVar(&serveUseBrowser, "use-browser", false, "Render thin job postings in headless Chrome")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Verbose fetch logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	cfg.UseBrowser = cfg.UseBrowser || serveUseBrowser
	cfg.Verbose = cfg.Verbose || serveVerbose

	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	if jwtCfg.Ephemeral {
		log.Println("[serve] JWT_SECRET not set; session tokens will not survive a restart")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	client, lc, err := newLLMClient(ctx, cfg)
	if err != nil {
		store.Close()
		return err
	}

	fetchCfg := fetch.DefaultCachedFetcherConfig()
	fetchCfg.Verbose = cfg.Verbose
	if cfg.UseBrowser {
		fetchCfg.Renderer = fetch.NewChromeRenderer(cfg.Verbose)
	}

	srvCfg := server.Config{
		Port:       cfg.Port,
		CORSOrigin: cfg.CORSOrigin,
		UseBrowser: cfg.UseBrowser,
		Store:      store,
		LLM:        client,
		Provider:   lc.Provider,
		JWT:        jwtCfg,
		Fetcher:    fetch.NewCachedFetcher(fetchCfg),
		ParseRoot:  cfg.ParseRoot,
	}
	if cfg.ParseRoot == "" {
		log.Println("[serve] PARSE_ROOT not set; /parse-local is disabled")
	}

	storageCfg := storage.ConfigFromEnv()
	if cfg.ExportBucket != "" {
		storageCfg.Bucket = cfg.ExportBucket
	}
	if storageCfg.Enabled() {
		uploader, err := storage.New(ctx, storageCfg)
		if err != nil {
			log.Printf("[serve] export storage disabled: %v", err)
		} else {
			srvCfg.Uploader = uploader
		}
	}

	if cfg.AMQPURL != "" {
		publisher, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("[serve] event publishing disabled: %v", err)
		} else {
			srvCfg.Publisher = publisher
		}
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
