package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pquerna/cachecontrol/cacheobject"

	"github.com/scribe-audio/scribe/log"
)

const (
	itunesLookupURL = "https://itunes.apple.com/lookup"
	lookupTimeout   = 30 * time.Second
	defaultNotesTTL = time.Hour
	maxNotesTTL     = 24 * time.Hour
)

// ShowNotesClient fetches episode descriptions from the iTunes lookup API.
// Results are cached in-process, honoring the response's max-age.
type ShowNotesClient struct {
	httpClient *retryablehttp.Client
	cache      *gocache.Cache
	lookupURL  string
}

type itunesLookupResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		Description      string `json:"description"`
		ShortDescription string `json:"shortDescription"`
	} `json:"results"`
}

func NewShowNotesClient() *ShowNotesClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	client.Logger = log.NewRetryableHTTPLogger()

	return &ShowNotesClient{
		httpClient: client,
		cache:      gocache.New(defaultNotesTTL, 10*time.Minute),
		lookupURL:  itunesLookupURL,
	}
}

// EpisodeNotes returns the creator-provided description for an Apple
// Podcasts episode, or "" when the episode has none.
func (c *ShowNotesClient) EpisodeNotes(ctx context.Context, requestID, episodeID string) (string, error) {
	if cached, ok := c.cache.Get(episodeID); ok {
		return cached.(string), nil
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	lookup := c.lookupURL + "?id=" + url.QueryEscape(episodeID) + "&entity=podcastEpisode"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, lookup, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error looking up episode %s: %w", episodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("episode lookup returned %d", resp.StatusCode)
	}

	var payload itunesLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("error parsing episode lookup response: %w", err)
	}

	notes := ""
	for _, result := range payload.Results {
		if result.Description != "" {
			notes = strings.TrimSpace(result.Description)
			break
		}
		if result.ShortDescription != "" {
			notes = strings.TrimSpace(result.ShortDescription)
		}
	}

	c.cache.Set(episodeID, notes, notesTTL(resp))
	log.Log(requestID, "fetched episode show notes", "episode_id", episodeID, "bytes", len(notes))
	return notes, nil
}

// notesTTL derives a cache lifetime from the response's Cache-Control.
func notesTTL(resp *http.Response) time.Duration {
	cc, err := cacheobject.ParseResponseCacheControl(resp.Header.Get("Cache-Control"))
	if err != nil || cc.MaxAge <= 0 {
		return defaultNotesTTL
	}
	ttl := time.Duration(cc.MaxAge) * time.Second
	if ttl > maxNotesTTL {
		return maxNotesTTL
	}
	return ttl
}
