package config

import (
	"flag"
	"fmt"
	"net"
	"strings"
	"time"
)

type Cli struct {
	HTTPAddress         string
	HTTPInternalAddress string

	DataDir   string
	ConfigDir string

	TranscriberURL         string
	TranscribeTimeout      time.Duration
	TranscribePollInterval time.Duration

	DefaultLLMEndpoint string
	DefaultLLMModel    string
	DefaultLLMKeyRef   string
	LLMTimeout         time.Duration

	MaxAudioSizeMB  int64
	DownloadTimeout time.Duration
	AudioCacheDays  int

	CleanupInterval     time.Duration
	FailedRetentionDays int

	MaxInFlightJobs int

	// Mail worker settings. Unused by the frontend binary.
	FrontendURL     string
	IMAPHost        string
	IMAPPort        int
	IMAPUsername    string
	IMAPPassword    string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	MailTimeout     time.Duration
	PollInterval    time.Duration
	MailConcurrency int

	InboxFolders             []string
	DoneFolder               string
	ErrorFolder              string
	EpisodeSourcesFolder     string
	EpisodeSourcesDoneFolder string
	EpisodeSourcesErrFolder  string

	DefaultTag           string
	DefaultResultAddress string
	EpisodeSourcesReturn string
}

// MaxAudioSizeBytes returns the audio size cap in bytes.
func (cli *Cli) MaxAudioSizeBytes() int64 {
	return cli.MaxAudioSizeMB * 1024 * 1024
}

// AddrFlag registers a listen-address flag, validated as host:port.
func AddrFlag(fs *flag.FlagSet, dest *string, name, value, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("invalid address %q: %w", s, err)
		}
		*dest = s
		return nil
	})
}

// CommaSliceFlag registers a flag holding a comma-separated list of strings.
// An empty input yields an empty slice, not [""].
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		split := strings.Split(s, ",")
		out := make([]string, 0, len(split))
		for _, v := range split {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dest = out
		return nil
	})
}
