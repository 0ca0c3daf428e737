package sources

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

type SourceType string

const (
	TypeYouTube       SourceType = "youtube"
	TypeApplePodcasts SourceType = "apple_podcasts"
	TypePodcastAddict SourceType = "podcast_addict"
	TypeDirectAudio   SourceType = "direct_audio"
)

// YouTube URL forms we can extract a video ID from. The form matters to the
// mail worker: embeds are transcribable but not accepted as episode sources.
const (
	FormWatch  = "watch"
	FormEmbed  = "embed"
	FormLive   = "live"
	FormShorts = "shorts"
)

// Source is the parsed, classified form of a submitted URL. ID is the
// canonical identifier and is a pure function of URL.
type Source struct {
	Type SourceType
	ID   string
	URL  string

	// Discriminant payload, populated per Type
	VideoID   string // youtube
	Form      string // youtube only: watch, embed, live or shorts
	EpisodeID string // apple_podcasts and podcast_addict
	Hash      string // direct_audio
}

var (
	youtubeIDRegex     = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	appleEpisodeRegex  = regexp.MustCompile(`/id([0-9]+)`)
	podcastAddictRegex = regexp.MustCompile(`(?i)^/[^/]+/episode/([0-9]+)`)
)

// Parse classifies a URL and derives its canonical ID. Two calls with the
// same URL always produce the same ID. Classification never fails for URLs
// with a scheme and host: anything that is not a known platform URL is
// treated as direct audio.
func Parse(rawURL string) (Source, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Source{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Source{}, fmt.Errorf("invalid URL %q: missing scheme or host", rawURL)
	}

	host := strings.ToLower(u.Hostname())

	if isYouTubeHost(host) {
		videoID, form, err := youtubeVideoID(u, host)
		if err != nil {
			return Source{}, err
		}
		return Source{
			Type:    TypeYouTube,
			ID:      fmt.Sprintf("youtube_%s", videoID),
			URL:     rawURL,
			VideoID: videoID,
			Form:    form,
		}, nil
	}

	if host == "podcasts.apple.com" {
		episodeID, err := appleEpisodeID(u)
		if err != nil {
			return Source{}, err
		}
		return Source{
			Type:      TypeApplePodcasts,
			ID:        fmt.Sprintf("apple_podcasts_%s", episodeID),
			URL:       rawURL,
			EpisodeID: episodeID,
		}, nil
	}

	if host == "podcastaddict.com" || host == "www.podcastaddict.com" {
		if m := podcastAddictRegex.FindStringSubmatch(u.Path); m != nil {
			return Source{
				Type:      TypePodcastAddict,
				ID:        fmt.Sprintf("podcast_addict_%s", m[1]),
				URL:       rawURL,
				EpisodeID: m[1],
			}, nil
		}
		// no episode number in the path, fall through to direct audio
	}

	// The hash is computed over the raw URL string before any normalization
	sum := md5.Sum([]byte(rawURL))
	hash := hex.EncodeToString(sum[:])[:12]
	return Source{
		Type: TypeDirectAudio,
		ID:   fmt.Sprintf("direct_audio_%s", hash),
		URL:  rawURL,
		Hash: hash,
	}, nil
}

func isYouTubeHost(host string) bool {
	return host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")
}

func youtubeVideoID(u *url.URL, host string) (string, string, error) {
	var candidate, form string

	segments := splitPath(u.Path)
	switch {
	case host == "youtu.be":
		if len(segments) > 0 {
			candidate = segments[0]
		}
		form = FormWatch
	case len(segments) > 0 && segments[0] == "watch":
		candidate = u.Query().Get("v")
		form = FormWatch
	case len(segments) > 1 && segments[0] == "embed":
		candidate = segments[1]
		form = FormEmbed
	case len(segments) > 1 && segments[0] == "live":
		candidate = segments[1]
		form = FormLive
	case len(segments) > 1 && segments[0] == "shorts":
		candidate = segments[1]
		form = FormShorts
	}

	if !youtubeIDRegex.MatchString(candidate) {
		return "", "", fmt.Errorf("invalid YouTube URL %q: no 11-character video ID", u.String())
	}
	return candidate, form, nil
}

func appleEpisodeID(u *url.URL) (string, error) {
	// the i query parameter identifies the episode; the /id<N> path segment
	// only identifies the show and is the fallback
	if episode := u.Query().Get("i"); isDigits(episode) {
		return episode, nil
	}
	if m := appleEpisodeRegex.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("invalid Apple Podcasts URL %q: no numeric episode ID", u.String())
}

func splitPath(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Audio file extensions accepted as direct-audio submissions by the mail
// worker. HTTP submissions accept any URL; this set only gates mail.
var directAudioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
	".ogg":  true,
	".flac": true,
	".aac":  true,
}

// IsTranscribable reports whether the mail worker should submit a URL:
// platform URLs always qualify, direct audio only with a known extension.
func IsTranscribable(rawURL string) bool {
	src, err := Parse(rawURL)
	if err != nil {
		return false
	}
	if src.Type != TypeDirectAudio {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return directAudioExtensions[strings.ToLower(path.Ext(u.Path))]
}

// IsEpisodeSource reports whether a URL qualifies for the episode-sources
// pipeline: Apple Podcasts, or YouTube in watch, live or shorts form. Direct
// audio, Podcast Addict and YouTube embeds do not qualify.
func IsEpisodeSource(rawURL string) bool {
	src, err := Parse(rawURL)
	if err != nil {
		return false
	}
	switch src.Type {
	case TypeApplePodcasts:
		return true
	case TypeYouTube:
		return src.Form != FormEmbed
	default:
		return false
	}
}
