// Package runlog appends one line per optimization cycle to a persistent
// text file: a timestamp, the profit rate (or "no opportunity"), and the
// execution plan's prose form. It is adapted from internal/audit.Event's
// structured-event shape, rendered to an append-only file instead of
// Postgres, since run-log persistence as an external service is out of
// this module's scope.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xarbhq/xarb-core/internal/execution"
	"github.com/xarbhq/xarb-core/internal/pathopt"
)

// Entry is one rendered run-log line.
type Entry struct {
	Timestamp      time.Time
	HasOpportunity bool
	ProfitRate     float64
	Detail         string
}

// Render formats the entry the way a reader of the log file sees it: an
// RFC3339 timestamp line, followed by the indented plan detail when a
// cycle found an opportunity.
func (e Entry) Render() string {
	if !e.HasOpportunity {
		return fmt.Sprintf("%s no opportunity\n", e.Timestamp.Format(time.RFC3339))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s profit_rate=%.6f\n", e.Timestamp.Format(time.RFC3339), e.ProfitRate)
	for _, line := range strings.Split(strings.TrimRight(e.Detail, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// entryFromCycle builds the Entry for one find_arbitrage/get_solution
// invocation from its path-optimizer result and (possibly absent) plan.
func entryFromCycle(now time.Time, pathResult pathopt.Result, plan execution.Plan) Entry {
	if !pathResult.HasOpportunity {
		return Entry{Timestamp: now, HasOpportunity: false}
	}
	return Entry{
		Timestamp:      now,
		HasOpportunity: true,
		ProfitRate:     pathResult.ProfitRate,
		Detail:         plan.MarshalRunLogEntry(),
	}
}

// Writer appends run-log entries to a single file, serializing concurrent
// writers with a mutex since os.File.Write is not safe for interleaved
// multi-line appends.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// NewWriter opens (creating if necessary) the append-only log file at path.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("runlog: create directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: open %q: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// WriteCycle stamps the current time and appends one rendered entry for
// the outcome of a single optimization cycle. plan is the zero value when
// pathResult reports no opportunity.
func (w *Writer) WriteCycle(pathResult pathopt.Result, plan execution.Plan) error {
	return w.WriteEntry(entryFromCycle(time.Now(), pathResult, plan))
}

// WriteEntry appends an already-built Entry. Exposed directly so tests and
// callers that already have a timestamp don't need WriteCycle's clock.
func (w *Writer) WriteEntry(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.WriteString(e.Render()); err != nil {
		log.Error().Err(err).Msg("run log write failed")
		return fmt.Errorf("runlog: write entry: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	return w.f.Close()
}
