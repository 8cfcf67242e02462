package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/pders01/subwatch/internal/duration"
	"github.com/pders01/subwatch/internal/importer"
	"github.com/pders01/subwatch/internal/reconcile"
)

const wordWrapWidth = 80

// renderMarkdown renders md for the terminal. Plain output keeps the markdown.
func renderMarkdown(md string, plain bool) string {
	if plain {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrapWidth),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func refreshReport(r *reconcile.RunResult) string {
	var b strings.Builder
	b.WriteString("# Refresh complete\n\n")
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Channels | %d |\n", r.Channels)
	fmt.Fprintf(&b, "| New videos | %d |\n", r.Created)
	fmt.Fprintf(&b, "| Pruned (watched) | %d |\n", r.Deleted)
	fmt.Fprintf(&b, "| Kept (unwatched, no longer listed) | %d |\n", r.Retained)

	if len(r.NotFound) > 0 {
		fmt.Fprintf(&b, "\n## Unreachable channels (%d)\n\n", len(r.NotFound))
		for _, ch := range r.NotFound {
			fmt.Fprintf(&b, "- **%s** `%s`\n", escape(ch.DisplayName()), ch.ExternalID)
		}
	}
	writeDurationErrors(&b, r.DurationErrors)
	return b.String()
}

func backfillReport(r *duration.Report) string {
	var b strings.Builder
	b.WriteString("# Duration backfill\n\n")
	fmt.Fprintf(&b, "- Videos without duration: %d\n", r.Candidates)
	fmt.Fprintf(&b, "- Updated: %d\n", len(r.Updated))
	writeDurationErrors(&b, r.Errors)
	return b.String()
}

func writeDurationErrors(b *strings.Builder, errs []duration.LookupError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## Duration lookups failed (%d)\n\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(b, "- **%s** `%s`: %s\n", escape(e.Video.Title), e.Video.ExternalID, escape(e.Err.Error()))
	}
}

func importReport(s *importer.Summary) string {
	var b strings.Builder
	b.WriteString("# Import complete\n\n")
	fmt.Fprintf(&b, "- Channels created: %d\n", s.ChannelsCreated)
	fmt.Fprintf(&b, "- Channels already present: %d\n", s.ChannelsSkipped)
	fmt.Fprintf(&b, "- Videos created: %d\n", s.VideosCreated)
	fmt.Fprintf(&b, "- Videos marked watched: %d\n", s.VideosMarked)
	return b.String()
}

var markdownEscaper = strings.NewReplacer("*", `\*`, "_", `\_`, "`", "'", "|", `\|`, "[", `\[`, "]", `\]`)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
