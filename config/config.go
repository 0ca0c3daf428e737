package config

import (
	"math/rand"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Prefixes for generated entity identifiers
const SummaryIDPrefix = "sum_"
const EpisodeSourceIDPrefix = "es_"

const DefaultTranscriberURL = "http://127.0.0.1:8000"

var DefaultLLMEndpoint = "https://api.openai.com/v1/chat/completions"

// System prompt seeded into the default tag config on first read
const DefaultSystemPrompt = "You are a helpful assistant that summarizes podcast and video transcripts. " +
	"Provide a concise summary of the key points, followed by notable quotes or takeaways."

// Global variable, but easier than passing a logger around throughout the system
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

func init() {
	Logger = log.With(Logger, "ts", log.DefaultTimestampUTC)
}

var r = rand.New(rand.NewSource(time.Now().UnixNano()))

func RandomTrailer(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = charset[r.Intn(len(charset))]
	}
	return string(res)
}

// SummaryID generates a fresh Summary identifier.
func SummaryID() string {
	return SummaryIDPrefix + uuid.NewString()
}

// EpisodeSourceID generates a fresh EpisodeSource identifier.
func EpisodeSourceID() string {
	return EpisodeSourceIDPrefix + uuid.NewString()
}
