package workers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"link-redirect-service/models"
	"link-redirect-service/utils"

	"github.com/google/uuid"
)

// ErrReconcilerRunning is returned when a second Run is attempted.
var ErrReconcilerRunning = errors.New("reconciler already running")

// logClickNamespace seeds the deterministic IDs of log derived clicks.
var logClickNamespace = uuid.MustParse("6f1c2a8e-3b5d-4e7f-9a0b-1c2d3e4f5a6b")

// AccessLogEntry is one parsed edge access log line:
// remote_addr|time_iso8601|request_uri|status|cache_status|user_agent
type AccessLogEntry struct {
	RemoteAddr  string
	Time        time.Time
	RequestURI  string
	Status      int
	CacheStatus string
	UserAgent   string
}

// ParseAccessLogLine splits a log line. The user agent is the remainder of
// the line and may itself contain '|'.
func ParseAccessLogLine(line string) (AccessLogEntry, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), "|", 6)
	if len(parts) != 6 {
		return AccessLogEntry{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	ts, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return AccessLogEntry{}, fmt.Errorf("bad timestamp %q: %w", parts[1], err)
	}
	status, err := strconv.Atoi(parts[3])
	if err != nil {
		return AccessLogEntry{}, fmt.Errorf("bad status %q: %w", parts[3], err)
	}

	return AccessLogEntry{
		RemoteAddr:  parts[0],
		Time:        ts,
		RequestURI:  parts[2],
		Status:      status,
		CacheStatus: parts[4],
		UserAgent:   parts[5],
	}, nil
}

// RedirectTarget returns the short code and event type of an edge served
// redirect, and false for any other line.
func (e AccessLogEntry) RedirectTarget() (string, models.EventType, bool) {
	if e.CacheStatus != "HIT" {
		return "", "", false
	}
	if e.Status != 301 && e.Status != 302 {
		return "", "", false
	}

	u, err := url.ParseRequestURI(e.RequestURI)
	if err != nil {
		return "", "", false
	}
	code, ok := strings.CutPrefix(u.Path, "/s/")
	if !ok || !utils.IsValidShortCode(code) {
		return "", "", false
	}
	return code, models.EventTypeForQR(utils.ParseQRFlag(u.Query().Get("qr"))), true
}

type ReconcilerConfig struct {
	LogPath      string
	PollInterval time.Duration
	BatchSize    int
}

// ReconcilerStats counts lines since start.
type ReconcilerStats struct {
	Lines    int64 `json:"lines"`
	Recorded int64 `json:"recorded"`
	Skipped  int64 `json:"skipped"`
	Offset   int64 `json:"offset"`
}

// Reconciler tails the edge access log and records one click per edge served
// redirect. The persisted offset only moves past lines whose clicks are
// stored, and click IDs are derived from offset and line content, so a crash
// between recording and saving the offset replays without double counting.
type Reconciler struct {
	cfg      ReconcilerConfig
	offsets  OffsetStore
	lookup   *Lookup
	recorder ClickRecorder
	logger   *slog.Logger

	running atomic.Bool

	lines    atomic.Int64
	recorded atomic.Int64
	skipped  atomic.Int64
	offset   atomic.Int64
}

func NewReconciler(cfg ReconcilerConfig, offsets OffsetStore, lookup *Lookup, recorder ClickRecorder, logger *slog.Logger) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Reconciler{
		cfg:      cfg,
		offsets:  offsets,
		lookup:   lookup,
		recorder: recorder,
		logger:   logger,
	}
}

// Run polls the log until ctx is cancelled. It fails immediately if the log
// cannot be opened or another Run is active.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrReconcilerRunning
	}
	defer r.running.Store(false)

	f, err := os.Open(r.cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to open access log: %w", err)
	}
	f.Close()

	r.logger.Info("reconciler started", "path", r.cfg.LogPath, "interval", r.cfg.PollInterval)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("reconcile pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll consumes every complete line appended since the saved offset and
// returns the number of clicks recorded.
func (r *Reconciler) Poll(ctx context.Context) (int, error) {
	offset, err := r.offsets.Load()
	if err != nil {
		r.logger.Warn("unreadable offset, starting from 0", "error", err)
		offset = 0
	}

	f, err := os.Open(r.cfg.LogPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open access log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat access log: %w", err)
	}
	size := info.Size()

	if size < offset {
		r.logger.Info("access log rotated, restarting from 0", "size", size, "offset", offset)
		offset = 0
		if err := r.offsets.Save(0); err != nil {
			return 0, err
		}
	}
	r.offset.Store(offset)
	if size == offset {
		return 0, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek access log: %w", err)
	}
	reader := bufio.NewReader(io.LimitReader(f, size-offset))

	total := 0
	pos := offset
	batch := make([]models.ClickEvent, 0, r.cfg.BatchSize)

	commit := func(end int64) error {
		if len(batch) > 0 {
			if err := r.recorder.RecordClicks(ctx, batch); err != nil {
				return fmt.Errorf("failed to record log clicks: %w", err)
			}
			r.recorded.Add(int64(len(batch)))
			total += len(batch)
			batch = batch[:0]
		}
		if end == r.offset.Load() {
			return nil
		}
		if err := r.offsets.Save(end); err != nil {
			return err
		}
		r.offset.Store(end)
		return nil
	}

	for {
		line, _ := reader.ReadBytes('\n')
		if len(line) == 0 || line[len(line)-1] != '\n' {
			// a partial last line is left for the next pass
			break
		}
		lineStart := pos
		pos += int64(len(line))
		r.lines.Add(1)

		event, ok, lerr := r.eventFor(ctx, lineStart, line)
		if lerr != nil {
			// transient lookup failure: keep what is done and retry from here
			if cerr := commit(lineStart); cerr != nil {
				return total, cerr
			}
			return total, lerr
		}
		if ok {
			batch = append(batch, event)
		} else {
			r.skipped.Add(1)
		}

		if len(batch) >= r.cfg.BatchSize {
			if err := commit(pos); err != nil {
				return total, err
			}
		}
	}

	if err := commit(pos); err != nil {
		return total, err
	}
	return total, nil
}

// eventFor turns one line into a click. ok is false for lines that carry no
// click; err is set only when the lookup could not be completed.
func (r *Reconciler) eventFor(ctx context.Context, offset int64, line []byte) (models.ClickEvent, bool, error) {
	text := string(bytes.TrimRight(line, "\r\n"))

	entry, err := ParseAccessLogLine(text)
	if err != nil {
		r.logger.Debug("skipping malformed access log line", "offset", offset, "error", err)
		return models.ClickEvent{}, false, nil
	}
	code, eventType, ok := entry.RedirectTarget()
	if !ok {
		return models.ClickEvent{}, false, nil
	}

	urlID, err := r.lookup.URLID(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		r.logger.Debug("skipping click for unknown code", "code", code)
		return models.ClickEvent{}, false, nil
	}
	if err != nil {
		return models.ClickEvent{}, false, err
	}

	return models.ClickEvent{
		ID:        LogClickID(offset, text),
		URLID:     urlID,
		EventType: eventType,
		UserAgent: optionalUA(entry.UserAgent),
		ClickedAt: entry.Time.UTC(),
	}, true, nil
}

// LogClickID derives the event ID of a log line from its offset and content.
func LogClickID(offset int64, line string) uuid.UUID {
	return uuid.NewSHA1(logClickNamespace, []byte(strconv.FormatInt(offset, 10)+"|"+line))
}

func (r *Reconciler) Stats() ReconcilerStats {
	return ReconcilerStats{
		Lines:    r.lines.Load(),
		Recorded: r.recorded.Load(),
		Skipped:  r.skipped.Load(),
		Offset:   r.offset.Load(),
	}
}
