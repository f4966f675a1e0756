package pipeline

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Progress is one normalized progress signal. Heartbeat events carry no
// numbers and drive a spinner instead of a bar.
type Progress struct {
	Percent   int
	Bytes     int64
	Rate      string
	ETA       string
	Heartbeat bool
}

var (
	// "  1,234,567  42%  123.45kB/s    0:00:10 (xfr#1, to-chk=0/10)"
	transferPattern = regexp.MustCompile(`^\s*([\d.,]+[KMGTP]?)\s+(\d{1,3})%\s+(\S+/s)\s+(\d+:\d{2}(?::\d{2})?)`)
	percentPattern  = regexp.MustCompile(`^\s*(\d{1,3})%(?:\s|$)`)
)

// ProgressParser turns output chunks into Progress events. The reported
// percentage never goes down once real progress was seen.
type ProgressParser struct {
	maxPercent int
}

// Parse returns the event for one chunk; ok is false for blank chunks.
func (p *ProgressParser) Parse(chunk string) (Progress, bool) {
	line := strings.TrimSpace(chunk)
	if line == "" {
		return Progress{}, false
	}

	if m := transferPattern.FindStringSubmatch(line); m != nil {
		percent, err := strconv.Atoi(m[2])
		if err == nil {
			return Progress{
				Percent: p.observe(percent),
				Bytes:   parseBytes(m[1]),
				Rate:    m[3],
				ETA:     m[4],
			}, true
		}
	}

	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if percent, err := strconv.Atoi(m[1]); err == nil {
			return Progress{Percent: p.observe(percent)}, true
		}
	}

	return Progress{Percent: p.maxPercent, Heartbeat: true}, true
}

func (p *ProgressParser) observe(percent int) int {
	percent = min(max(percent, 0), 100)
	p.maxPercent = max(p.maxPercent, percent)
	return p.maxPercent
}

// Max is the highest percentage observed so far.
func (p *ProgressParser) Max() int {
	return p.maxPercent
}

// Stream lazily maps chunks to progress events.
func Stream(chunks iter.Seq[string]) iter.Seq[Progress] {
	return func(yield func(Progress) bool) {
		var parser ProgressParser
		for chunk := range chunks {
			event, ok := parser.Parse(chunk)
			if !ok {
				continue
			}
			if !yield(event) {
				return
			}
		}
	}
}

// Lines lazily splits r into chunks on '\n' or '\r', which rsync uses to
// redraw its progress line in place. A trailing partial chunk is yielded at
// EOF; read errors end the sequence.
func Lines(r io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(scanChunks)

		for scanner.Scan() {
			if !yield(scanner.Text()) {
				return
			}
		}
	}
}

func scanChunks(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// parseBytes accepts rsync's plain "1,234,567" as well as human readable
// "1.23M" counts. Unparseable input counts as zero.
func parseBytes(s string) int64 {
	plain := strings.ReplaceAll(s, ",", "")
	if n, err := strconv.ParseInt(plain, 10, 64); err == nil {
		return n
	}

	n, err := humanize.ParseBytes(plain)
	if err != nil {
		return 0
	}

	return int64(n)
}
