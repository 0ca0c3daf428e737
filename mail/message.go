package mail

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	gomail "github.com/wneessen/go-mail"

	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/store"
)

// HTMLPromptSuffix is appended to the summarizer system prompt when a mail
// flow requests a summary, so the model output can be embedded into the HTML
// section as-is.
const HTMLPromptSuffix = "Format your response using valid HTML elements (headings, paragraphs, lists, tables, etc.). Do not include <html>, <head>, or <body> tags - only the inner content."

const noURLsBody = `Hi,

Your message did not contain any URLs Scribe can transcribe.

Supported sources:
  - YouTube videos
  - Apple Podcasts episodes
  - Podcast Addict episode links
  - Direct audio file links (mp3, m4a, wav, ogg, flac, aac)

Send a new message with one supported link and Scribe will reply with the
transcript and a summary.
`

// Content carries everything a result email is built from. Subject and
// LeadLine are set by the newsletter pipeline, regular results leave them
// empty.
type Content struct {
	Transcription *store.Transcription
	SummaryHTML   string

	Subject  string
	LeadLine string
}

// SuccessMessage composes the multipart result email: an HTML body with
// metadata, summary and transcript sections, and a plain-text alternative
// with the summary degraded to readable text.
func SuccessMessage(from string, to []string, c Content) (*gomail.Msg, error) {
	if c.Transcription == nil {
		return nil, fmt.Errorf("success message needs a transcription")
	}

	subject := c.Subject
	if subject == "" {
		subject = "Scribe: " + displayTitle(c.Transcription)
	}

	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, successPlain(c))
	msg.AddAlternativeString(gomail.TypeTextHTML, successHTML(c))
	return msg, nil
}

// NoURLsMessage tells a sender their message had nothing transcribable in it.
func NoURLsMessage(from, to string) (*gomail.Msg, error) {
	return plainMessage(from, to, "Scribe: no transcribable URLs found", noURLsBody)
}

// ErrorMessage tells a sender their submission failed. Always addressed to
// the original sender, never to a configured results address.
func ErrorMessage(from, to, sourceURL, detail string) (*gomail.Msg, error) {
	body := fmt.Sprintf(`Hi,

Scribe could not process your submission.

URL: %s
Problem: %s

You can try again later. If the problem persists the source may not be
retrievable.
`, sourceURL, detail)
	return plainMessage(from, to, "Scribe: problem with your submission", body)
}

func plainMessage(from, to, subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)
	return msg, nil
}

func displayTitle(t *store.Transcription) string {
	if t.Title != nil && *t.Title != "" {
		return *t.Title
	}
	return t.SourceURL
}

func successHTML(c Content) string {
	t := c.Transcription
	var b strings.Builder

	if c.LeadLine != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(c.LeadLine))
	}

	fmt.Fprintf(&b, "<h2>%s</h2>\n<p>\n", html.EscapeString(displayTitle(t)))
	fmt.Fprintf(&b, "<strong>Source:</strong> <a href=%q>%s</a><br>\n", t.SourceURL, html.EscapeString(t.SourceURL))
	if t.DurationSeconds != nil {
		fmt.Fprintf(&b, "<strong>Duration:</strong> %s<br>\n", formatDuration(*t.DurationSeconds))
	}
	if t.TranscribedAt != nil {
		fmt.Fprintf(&b, "<strong>Transcribed:</strong> %s<br>\n", t.TranscribedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	b.WriteString("</p>\n")

	b.WriteString("<h2>Summary</h2>\n")
	// The summarizer was asked for inner HTML, it goes in verbatim.
	b.WriteString(c.SummaryHTML)
	b.WriteString("\n")

	if t.SourceContext != nil && *t.SourceContext != "" {
		b.WriteString("<h2>Creator's Notes</h2>\n<p>")
		b.WriteString(escapeWithBreaks(*t.SourceContext))
		b.WriteString("</p>\n")
	}

	b.WriteString("<h2>Transcript</h2>\n<p>")
	if t.FullText != nil {
		b.WriteString(escapeWithBreaks(*t.FullText))
	}
	b.WriteString("</p>\n")
	return b.String()
}

func successPlain(c Content) string {
	t := c.Transcription
	var b strings.Builder

	if c.LeadLine != "" {
		b.WriteString(c.LeadLine)
		b.WriteString("\n\n")
	}

	b.WriteString(displayTitle(t))
	b.WriteString("\n\nSource: ")
	b.WriteString(t.SourceURL)
	b.WriteString("\n")
	if t.DurationSeconds != nil {
		fmt.Fprintf(&b, "Duration: %s\n", formatDuration(*t.DurationSeconds))
	}
	if t.TranscribedAt != nil {
		fmt.Fprintf(&b, "Transcribed: %s\n", t.TranscribedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}

	b.WriteString("\n--- SUMMARY ---\n\n")
	b.WriteString(degradeHTML(c.SummaryHTML))
	b.WriteString("\n")

	if t.SourceContext != nil && *t.SourceContext != "" {
		b.WriteString("\n--- CREATOR'S NOTES ---\n\n")
		b.WriteString(*t.SourceContext)
		b.WriteString("\n")
	}

	b.WriteString("\n--- TRANSCRIPT ---\n\n")
	if t.FullText != nil {
		b.WriteString(*t.FullText)
	}
	b.WriteString("\n")
	return b.String()
}

// degradeHTML turns the model's HTML summary into readable plain text for the
// text/plain alternative. On conversion failure the raw markup goes through,
// readable enough for a fallback.
func degradeHTML(htmlText string) string {
	plain, err := html2text.FromString(htmlText, html2text.Options{TextOnly: false})
	if err != nil {
		log.LogNoRequestID("error converting summary html to text", "err", err)
		return htmlText
	}
	return plain
}

func escapeWithBreaks(text string) string {
	escaped := html.EscapeString(text)
	return strings.ReplaceAll(escaped, "\n", "<br>\n")
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	return fmt.Sprintf("%dm %02ds", m, s)
}
