package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-audio/scribe/api"
	"github.com/scribe-audio/scribe/clients"
	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/mail"
	"github.com/scribe-audio/scribe/mailworker"
	"github.com/scribe-audio/scribe/pprof"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("scribe-mailworker", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	config.AddrFlag(fs, &cli.HTTPInternalAddress, "http-internal-addr", "127.0.0.1:7978", "Address to bind for internal probes and metrics")
	pprofAddr := fs.String("pprof-addr", "127.0.0.1:6062", "Pprof listen address")

	fs.StringVar(&cli.FrontendURL, "frontend-url", "http://127.0.0.1:8989", "Base URL of the Scribe API")
	fs.DurationVar(&cli.TranscribeTimeout, "transcribe-timeout", time.Hour, "Max time to wait for one submitted transcription")

	// IMAP
	fs.StringVar(&cli.IMAPHost, "imap-host", "", "IMAP server hostname")
	fs.IntVar(&cli.IMAPPort, "imap-port", 993, "IMAP server port, 993 uses implicit TLS, anything else STARTTLS")
	fs.StringVar(&cli.IMAPUsername, "imap-username", "", "IMAP login")
	fs.StringVar(&cli.IMAPPassword, "imap-password", "", "IMAP password")

	// SMTP
	fs.StringVar(&cli.SMTPHost, "smtp-host", "", "SMTP server hostname")
	fs.IntVar(&cli.SMTPPort, "smtp-port", 587, "SMTP server port, 465 uses implicit TLS")
	fs.StringVar(&cli.SMTPUsername, "smtp-username", "", "SMTP login")
	fs.StringVar(&cli.SMTPPassword, "smtp-password", "", "SMTP password")
	fs.StringVar(&cli.SMTPFrom, "smtp-from", "", "From address on outbound mail")

	fs.DurationVar(&cli.MailTimeout, "mail-timeout", 30*time.Second, "Per-operation IMAP and SMTP timeout")
	fs.DurationVar(&cli.PollInterval, "poll-interval", 5*time.Minute, "How often to poll the watched folders")
	fs.IntVar(&cli.MailConcurrency, "mail-concurrency", 3, "Messages processed in parallel per poll cycle")

	// folders
	config.CommaSliceFlag(fs, &cli.InboxFolders, "inbox-folders", []string{"INBOX"}, "Folders polled for submission emails")
	fs.StringVar(&cli.DoneFolder, "done-folder", "ScribeDone", "Folder processed submissions move to")
	fs.StringVar(&cli.ErrorFolder, "error-folder", "ScribeError", "Folder failed submissions move to")
	fs.StringVar(&cli.EpisodeSourcesFolder, "episode-sources-folder", "", "Newsletter folder, empty disables the episode-sources pipeline")
	fs.StringVar(&cli.EpisodeSourcesDoneFolder, "episode-sources-done-folder", "ScribeDigestDone", "Folder processed newsletters move to")
	fs.StringVar(&cli.EpisodeSourcesErrFolder, "episode-sources-err-folder", "ScribeDigestError", "Folder failed newsletters move to")

	// result routing
	fs.StringVar(&cli.DefaultTag, "default-tag", "podcast", "Tag for messages whose subject names no known tag")
	fs.StringVar(&cli.DefaultResultAddress, "default-result-address", "", "Where results go when the tag config has no destinations")
	fs.StringVar(&cli.EpisodeSourcesReturn, "episode-sources-return", "", "Where newsletter results go")

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
		fmt.Printf("scribe-mailworker version: %s\n", config.Version)
		return
	}

	if cli.IMAPHost == "" || cli.SMTPHost == "" {
		glog.Fatal("imap-host and smtp-host are required")
	}
	if cli.SMTPFrom == "" || cli.DefaultResultAddress == "" {
		glog.Fatal("smtp-from and default-result-address are required")
	}
	if cli.EpisodeSourcesFolder != "" && cli.EpisodeSourcesReturn == "" {
		glog.Fatal("episode-sources-return is required when episode-sources-folder is set")
	}

	frontend := clients.NewFrontendClient(cli.FrontendURL, cli.TranscribeTimeout)
	sender, err := mail.NewSender(mail.SMTPOpts{
		Host:     cli.SMTPHost,
		Port:     cli.SMTPPort,
		Username: cli.SMTPUsername,
		Password: cli.SMTPPassword,
		From:     cli.SMTPFrom,
		Timeout:  cli.MailTimeout,
	})
	if err != nil {
		glog.Fatalf("error building smtp sender: %v", err)
	}

	worker := mailworker.NewWorker(&cli, frontend, sender)

	// Root context; cancelling it prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return worker.Start(ctx)
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
