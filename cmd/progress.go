package cmd

import (
	"fmt"
	"io"
	"rsynco/internal/model"
	"rsynco/internal/pipeline"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const barWidth = 30

var spinnerFrames = []string{"|", "/", "-", "\\"}

// progressLine redraws a single status line for one running job.
type progressLine struct {
	mu      sync.Mutex
	out     io.Writer
	name    string
	frame   int
	last    time.Time
	drawn   bool
	percent int
}

func newProgressLine(out io.Writer, name string) *progressLine {
	return &progressLine{out: out, name: name}
}

func (p *progressLine) Update(event pipeline.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.last) < 100*time.Millisecond && event.Percent == p.percent {
		return
	}
	p.last = time.Now()
	p.percent = event.Percent

	var line string
	if event.Heartbeat {
		p.frame = (p.frame + 1) % len(spinnerFrames)
		line = fmt.Sprintf("%s %s working... %d%%", p.name, spinnerFrames[p.frame], event.Percent)
	} else {
		filled := event.Percent * barWidth / 100
		line = fmt.Sprintf("%s [%s%s] %3d%% %s %s",
			p.name,
			strings.Repeat("#", filled),
			strings.Repeat("-", barWidth-filled),
			event.Percent,
			humanize.Bytes(uint64(max(event.Bytes, 0))),
			event.Rate)
	}

	_, _ = fmt.Fprintf(p.out, "\r\033[K%s", line)
	p.drawn = true
}

func (p *progressLine) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.drawn {
		_, _ = fmt.Fprint(p.out, "\r\033[K")
	}
}

func printResult(out io.Writer, result model.RunResult) {
	switch result.Outcome {
	case model.OutcomeSuccess:
		_, _ = fmt.Fprintf(out, "✓ %s: synced %s in %s",
			result.JobName,
			humanize.Bytes(uint64(max(result.Bytes, 0))),
			result.Duration.Round(time.Millisecond))
		if result.Attempts > 1 {
			_, _ = fmt.Fprintf(out, " after %d attempts", result.Attempts)
		}
		_, _ = fmt.Fprintln(out)

		switch result.ArchiveOutcome {
		case model.ArchiveOK:
			_, _ = fmt.Fprintf(out, "  archived to %s\n", storedLabel(result.CompressionState))
		case model.ArchiveFailed:
			_, _ = fmt.Fprintf(out, "  archival failed: %s\n", result.ArchiveDetail)
		}

	case model.OutcomeCancelled:
		_, _ = fmt.Fprintf(out, "⊘ %s: interrupted\n", result.JobName)

	default:
		_, _ = fmt.Fprintf(out, "✗ %s: %s at %s after %d attempt(s)\n  %s\n",
			result.JobName, result.Failure, result.Stage, result.Attempts, result.Detail)
	}
}
