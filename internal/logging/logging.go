// Package logging implements the three append-only log streams spec.md §6
// names (summary, actions, results) plus the action-log coalescing timeout
// from §5/§9. It also satisfies sessioncore.Logger so an Engine can be built
// with a *Logger directly.
//
// The on-disk shapes are grounded on the teacher's own append-only stores:
// summary rows are whitespace-delimited exactly like a classic line-oriented
// log (cmd/worker/main.go's log.Printf calls), while actions/results follow
// spec.md §6's "comma-appendable JSON stream" format bit-for-bit — each
// Append writes a leading comma plus one compact JSON object, so the file
// becomes a valid JSON array once wrapped in `[...]` with the first comma
// stripped. The periodic coalescing flush is scheduled with
// github.com/robfig/cron/v3's `@every` spec instead of a hand-rolled ticker,
// the same library the rest of the domain stack uses for recurring work.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/adverant/somhunter/internal/display"
	"github.com/adverant/somhunter/internal/models"
)

// sink is one append-only destination. Summary rows are plain lines;
// actions/results entries are JSON objects appended with a leading comma.
type sink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func newSink(path string) (*sink, error) {
	if path == "" {
		return &sink{}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", path, err)
	}
	return &sink{path: path, f: f}, nil
}

func (s *sink) writeLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	fmt.Fprintln(s.f, line)
}

// appendJSON writes a leading comma plus the compact encoding of v, per
// spec.md §6's comma-appendable stream format.
func (s *sink) appendJSON(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARNING: logging: marshal %T: %v", v, err)
		return
	}
	if _, err := s.f.Write(append([]byte(","), data...)); err != nil {
		log.Printf("WARNING: logging: write to %s: %v", s.path, err)
	}
	s.f.Write([]byte("\n"))
}

func (s *sink) close() {
	if s.f != nil {
		s.f.Close()
	}
}

// Config bundles the three log destinations and the coalescing timeout,
// mirroring spec.md §6 eval_server.{log_dir_summary,log_dir_actions,
// log_dir_results,log_action_timeout,extra_verbose_log}.
type Config struct {
	SummaryPath      string
	ActionsPath      string
	ResultsPath      string
	LogActionTimeout time.Duration // coalescing window; <=0 disables the background flush
	ExtraVerbose     bool
}

// Logger is the concrete implementation of sessioncore.Logger.
type Logger struct {
	cfg     Config
	summary *sink
	actions *sink
	results *sink

	cronSched *cron.Cron

	mu      sync.Mutex
	pending map[pendingKey]*pendingAction
}

type pendingKey struct {
	kind  string
	frame models.FrameID
}

type pendingAction struct {
	liked    bool
	count    int
	firstAt  time.Time
}

// New builds a Logger and, if LogActionTimeout > 0, starts the coalescing
// flush on a cron `@every` schedule. Per spec.md §9's open question,
// apply_log_action_timeout is treated as always-on: whenever the timeout is
// configured, the flush runs, independent of any other config flag.
func New(cfg Config) (*Logger, error) {
	summary, err := newSink(cfg.SummaryPath)
	if err != nil {
		return nil, err
	}
	actions, err := newSink(cfg.ActionsPath)
	if err != nil {
		return nil, err
	}
	results, err := newSink(cfg.ResultsPath)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		cfg:     cfg,
		summary: summary,
		actions: actions,
		results: results,
		pending: make(map[pendingKey]*pendingAction),
	}

	if cfg.LogActionTimeout > 0 {
		l.cronSched = cron.New()
		spec := fmt.Sprintf("@every %s", cfg.LogActionTimeout.String())
		if _, err := l.cronSched.AddFunc(spec, l.flushPending); err != nil {
			return nil, fmt.Errorf("logging: scheduling action flush: %w", err)
		}
		l.cronSched.Start()
	}

	return l, nil
}

// Close stops the background flush (if running), flushes any pending
// coalesced actions, and closes every open sink.
func (l *Logger) Close() {
	if l.cronSched != nil {
		ctx := l.cronSched.Stop()
		<-ctx.Done()
	}
	l.flushPending()
	l.summary.close()
	l.actions.close()
	l.results.close()
}

// Flush forces the coalescing buffer to drain immediately, independent of
// the cron schedule. Exposed for internal/queue's log-flush task handler.
func (l *Logger) Flush() { l.flushPending() }

// flushPending writes one coalesced summary row per (kind, frame) pending
// bucket accumulated since the last flush, then clears the buffer.
func (l *Logger) flushPending() {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[pendingKey]*pendingAction)
	l.mu.Unlock()

	for key, p := range pending {
		l.summary.writeLine(fmt.Sprintf("%s frame=%d count=%d last_state=%t elapsed=%s",
			key.kind, key.frame, p.count, p.liked, time.Since(p.firstAt)))
	}
}

func (l *Logger) track(kind string, id models.FrameID, liked bool) {
	if l.cfg.LogActionTimeout <= 0 {
		l.summary.writeLine(fmt.Sprintf("%s frame=%d state=%t", kind, id, liked))
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pendingKey{kind: kind, frame: id}
	p, ok := l.pending[key]
	if !ok {
		p = &pendingAction{firstAt: time.Now()}
		l.pending[key] = p
	}
	p.count++
	p.liked = liked
}

// LogReset records a session reset.
func (l *Logger) LogReset() {
	l.summary.writeLine(fmt.Sprintf("RESET ts=%s", time.Now().Format(time.RFC3339Nano)))
	l.actions.appendJSON(map[string]interface{}{
		"id":    uuid.NewString(),
		"type":  "reset",
		"ts":    time.Now().UnixMilli(),
	})
}

// LogContextSwitch records a switch_search_context call.
func (l *Logger) LogContextSwitch(index, srcSearchCtxID int) {
	l.summary.writeLine(fmt.Sprintf("CTX_SWITCH index=%d src=%d", index, srcSearchCtxID))
	l.actions.appendJSON(map[string]interface{}{
		"id":                uuid.NewString(),
		"type":              "context_switch",
		"index":             index,
		"src_search_ctx_id": srcSearchCtxID,
		"ts":                time.Now().UnixMilli(),
	})
}

// LogLikeToggle records a like/unlike action, subject to coalescing.
func (l *Logger) LogLikeToggle(id models.FrameID, liked bool) {
	if l.cfg.ExtraVerbose {
		l.actions.appendJSON(map[string]interface{}{
			"id":    uuid.NewString(),
			"type":  "like",
			"frame": id,
			"liked": liked,
			"ts":    time.Now().UnixMilli(),
		})
	}
	l.track("LIKE", id, liked)
}

// LogBookmarkToggle records a bookmark/unbookmark action, subject to
// coalescing.
func (l *Logger) LogBookmarkToggle(id models.FrameID, bookmarked bool) {
	if l.cfg.ExtraVerbose {
		l.actions.appendJSON(map[string]interface{}{
			"id":         uuid.NewString(),
			"type":       "bookmark",
			"frame":      id,
			"bookmarked": bookmarked,
			"ts":         time.Now().UnixMilli(),
		})
	}
	l.track("BOOKMARK", id, bookmarked)
}

// LogResults writes a result-log event (spec.md §4.9's result-log side
// channel) to the results stream, with a fresh UUID identifying the event.
func (l *Logger) LogResults(ev display.ResultLogEvent, plainQuery string, likes models.ShownSet, used models.UsedTools) {
	l.results.appendJSON(map[string]interface{}{
		"id":           uuid.NewString(),
		"display_type": int(ev.DisplayType),
		"top_n":        ev.TopN,
		"query":        plainQuery,
		"likes":        likes.Slice(),
		"used_tools": map[string]bool{
			"text":           used.TextUsed,
			"canvas":         used.CanvasUsed,
			"relocation":     used.RelocationUsed,
			"temporal_query": used.TemporalQueryUsed,
			"bayes":          used.BayesUsed,
			"top_knn":        used.TopKNNUsed,
		},
		"ts": time.Now().UnixMilli(),
	})
	l.summary.writeLine(fmt.Sprintf("RESULTS type=%d n=%d query=%q", ev.DisplayType, len(ev.TopN), plainQuery))
}
