package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-audio/scribe/api"
	"github.com/scribe-audio/scribe/clients"
	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/downloader"
	"github.com/scribe-audio/scribe/pipeline"
	"github.com/scribe-audio/scribe/pprof"
	"github.com/scribe-audio/scribe/push"
	"github.com/scribe-audio/scribe/store"
	"github.com/scribe-audio/scribe/summarize"
	"github.com/scribe-audio/scribe/tagconfig"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("scribe-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	config.AddrFlag(fs, &cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind for the public Scribe API")
	config.AddrFlag(fs, &cli.HTTPInternalAddress, "http-internal-addr", "127.0.0.1:7979", "Address to bind for internal probes and metrics")
	pprofAddr := fs.String("pprof-addr", "127.0.0.1:6061", "Pprof listen address")

	// storage
	fs.StringVar(&cli.DataDir, "data-dir", "./data", "Directory for the database, transcription artifacts and cached audio")
	fs.StringVar(&cli.ConfigDir, "config-dir", "./config", "Directory for tag configs and secrets")

	// transcriber
	fs.StringVar(&cli.TranscriberURL, "transcriber-url", config.DefaultTranscriberURL, "Base URL of the ASR service")
	fs.DurationVar(&cli.TranscribeTimeout, "transcribe-timeout", time.Hour, "Max time to wait for one ASR job")
	fs.DurationVar(&cli.TranscribePollInterval, "transcribe-poll-interval", 5*time.Second, "ASR job status poll interval")

	// summaries
	fs.StringVar(&cli.DefaultLLMEndpoint, "llm-endpoint", config.DefaultLLMEndpoint, "Chat completions endpoint seeded into the default tag config")
	fs.StringVar(&cli.DefaultLLMModel, "llm-model", "gpt-4o-mini", "Model seeded into the default tag config")
	fs.StringVar(&cli.DefaultLLMKeyRef, "llm-key-ref", "openai", "Secret name the default tag config resolves its API key from")
	fs.DurationVar(&cli.LLMTimeout, "llm-timeout", summarize.DefaultTimeout, "Max time for one LLM summary call")

	// audio handling
	fs.Int64Var(&cli.MaxAudioSizeMB, "max-audio-size-mb", 500, "Reject audio files larger than this many megabytes")
	fs.DurationVar(&cli.DownloadTimeout, "download-timeout", 30*time.Minute, "Max time for one audio download including transcoding")
	fs.IntVar(&cli.AudioCacheDays, "audio-cache-days", 1, "Days downloaded audio stays cached before cleanup")

	// background maintenance
	fs.DurationVar(&cli.CleanupInterval, "cleanup-interval", 6*time.Hour, "How often the cleanup pass runs")
	fs.IntVar(&cli.FailedRetentionDays, "failed-retention-days", 7, "Days failed records are kept before removal")

	fs.IntVar(&cli.MaxInFlightJobs, "max-inflight-jobs", 8, "Maximum number of transcription jobs queued or running at once")
	parallelJobs := fs.Int("parallel-transcribe-jobs", pipeline.DefaultWorkers, "Number of pipeline workers running jobs in parallel")

	_ = fs.String("config", "", "config file (optional)")

	// .env keeps local runs convenient, deployments set the environment directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		glog.Warningf("error loading .env file: %v", err)
	}

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("SCRIBE"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("scribe-api version: %s\n", config.Version)
		return
	}

	db, err := store.New(filepath.Join(cli.DataDir, "scribe.db"))
	if err != nil {
		glog.Fatalf("error opening database: %v", err)
	}
	defer db.Close()

	artifacts := store.NewArtifactStore(filepath.Join(cli.DataDir, "transcriptions"))
	audioCache := filepath.Join(cli.DataDir, "cache", "audio")

	tagConfigs := tagconfig.NewStore(cli.ConfigDir, tagconfig.TagConfig{
		APIEndpoint:  cli.DefaultLLMEndpoint,
		Model:        cli.DefaultLLMModel,
		SystemPrompt: config.DefaultSystemPrompt,
		APIKeyRef:    cli.DefaultLLMKeyRef,
	})

	transcriber := clients.NewTranscriberClient(cli.TranscriberURL, cli.TranscribePollInterval, cli.TranscribeTimeout)
	if err := transcriber.Healthcheck(context.Background()); err != nil {
		glog.Warningf("ASR service healthcheck failed, submissions will fail until it is reachable: %v", err)
	}

	hub := push.NewHub(db)

	engine, err := pipeline.NewCoordinator(pipeline.CoordinatorOpts{
		Store:         db,
		Artifacts:     artifacts,
		Downloader:    downloader.New(audioCache, cli.MaxAudioSizeBytes(), cli.DownloadTimeout),
		Transcriber:   transcriber,
		ShowNotes:     clients.NewShowNotesClient(),
		Broadcaster:   hub,
		Workers:       *parallelJobs,
		QueueDepth:    cli.MaxInFlightJobs,
		AudioCacheTTL: time.Duration(cli.AudioCacheDays) * 24 * time.Hour,
	})
	if err != nil {
		glog.Fatalf("error creating pipeline coordinator: %v", err)
	}

	summarizer := summarize.New(db, tagConfigs)
	summarizer.SetTimeout(cli.LLMTimeout)

	cleaner := pipeline.NewCleaner(db, cli.CleanupInterval, time.Duration(cli.FailedRetentionDays)*24*time.Hour)

	// Root context; cancelling it prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return hub.Run(ctx)
	})

	group.Go(func() error {
		return engine.Start(ctx)
	})

	group.Go(func() error {
		return cleaner.Start(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli.HTTPAddress, api.RouterOpts{
			Engine:      engine,
			Store:       db,
			Artifacts:   artifacts,
			Summarizer:  summarizer,
			TagConfigs:  tagConfigs,
			Hub:         hub,
			MaxInFlight: cli.MaxInFlightJobs,
		})
	})

	group.Go(func() error {
		return api.ListenAndServeInternal(ctx, cli.HTTPInternalAddress)
	})

	group.Go(func() error {
		return pprof.ListenAndServe(ctx, *pprofAddr)
	})

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
