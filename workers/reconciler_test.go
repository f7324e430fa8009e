package workers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"link-redirect-service/models"
	"link-redirect-service/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(uri string, status int, cacheStatus, ua string) string {
	return fmt.Sprintf("203.0.113.7|2024-05-01T10:00:00+00:00|%s|%d|%s|%s\n", uri, status, cacheStatus, ua)
}

type reconcilerFixture struct {
	store   *testutils.FakeStore
	logPath string
	offsets *FileOffsetStore
	rec     *Reconciler
	link    models.Link
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	dir := t.TempDir()

	store := testutils.NewFakeStore()
	link := store.Seed(models.Link{ShortCode: "abc123", OriginalURL: "https://example.com", IsActive: true})

	logPath := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(logPath, nil, 0o644))

	offsets := NewFileOffsetStore(filepath.Join(dir, "offset"))
	rec := NewReconciler(
		ReconcilerConfig{LogPath: logPath, PollInterval: 10 * time.Millisecond, BatchSize: 2},
		offsets,
		NewLookup(nil, store, time.Minute),
		store,
		testutils.DiscardLogger(),
	)
	return &reconcilerFixture{store: store, logPath: logPath, offsets: offsets, rec: rec, link: link}
}

func (f *reconcilerFixture) append(t *testing.T, lines ...string) {
	t.Helper()
	fh, err := os.OpenFile(f.logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer fh.Close()
	for _, l := range lines {
		_, err := fh.WriteString(l)
		require.NoError(t, err)
	}
}

func TestParseAccessLogLine(t *testing.T) {
	entry, err := ParseAccessLogLine("10.0.0.1|2024-05-01T10:00:00+02:00|/s/abc123?qr=1|302|HIT|Mozilla/5.0 (X11|Linux)")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", entry.RemoteAddr)
	assert.Equal(t, 302, entry.Status)
	assert.Equal(t, "HIT", entry.CacheStatus)
	assert.Equal(t, "Mozilla/5.0 (X11|Linux)", entry.UserAgent)
	assert.True(t, entry.Time.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))

	code, et, ok := entry.RedirectTarget()
	assert.True(t, ok)
	assert.Equal(t, "abc123", code)
	assert.Equal(t, models.EventQRScan, et)

	for _, bad := range []string{
		"",
		"only|three|fields",
		"10.0.0.1|yesterday|/s/abc123|302|HIT|ua",
		"10.0.0.1|2024-05-01T10:00:00Z|/s/abc123|abc|HIT|ua",
	} {
		_, err := ParseAccessLogLine(bad)
		assert.Error(t, err, bad)
	}
}

func TestRedirectTarget(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		status int
		cache  string
		want   string
		event  models.EventType
		ok     bool
	}{
		{"edge hit", "/s/abc123", 302, "HIT", "abc123", models.EventLinkClick, true},
		{"permanent redirect", "/s/abc123", 301, "HIT", "abc123", models.EventLinkClick, true},
		{"qr true", "/s/abc123?qr=true", 302, "HIT", "abc123", models.EventQRScan, true},
		{"qr zero", "/s/abc123?qr=0", 302, "HIT", "abc123", models.EventLinkClick, true},
		{"miss reached the app", "/s/abc123", 302, "MISS", "", "", false},
		{"password page", "/s/abc123", 200, "HIT", "", "", false},
		{"other path", "/api/urls", 302, "HIT", "", "", false},
		{"invalid code", "/s/bad.code", 302, "HIT", "", "", false},
		{"nested path", "/s/abc/def", 302, "HIT", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := AccessLogEntry{RequestURI: tt.uri, Status: tt.status, CacheStatus: tt.cache}
			code, et, ok := e.RedirectTarget()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.event, et)
		})
	}
}

func TestReconciler_RecordsEdgeHits(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	f.append(t,
		logLine("/s/abc123", 302, "HIT", "Mozilla/5.0"),
		logLine("/s/abc123?qr=1", 302, "HIT", "-"),
		logLine("/s/abc123", 302, "MISS", "Mozilla/5.0"),
		"garbage line\n",
		logLine("/s/zzz999", 302, "HIT", "curl/8.0"),
		logLine("/s/abc123", 301, "HIT", "Mozilla/5.0 (a|b)"),
	)

	n, err := f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, 2, f.store.ClickCount(f.link.ID, models.EventLinkClick))
	assert.Equal(t, 1, f.store.ClickCount(f.link.ID, models.EventQRScan))

	for _, c := range f.store.Clicks() {
		assert.True(t, c.ClickedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	}

	info, err := os.Stat(f.logPath)
	require.NoError(t, err)
	saved, err := f.offsets.Load()
	require.NoError(t, err)
	assert.Equal(t, info.Size(), saved)

	stats := f.rec.Stats()
	assert.Equal(t, int64(6), stats.Lines)
	assert.Equal(t, int64(3), stats.Recorded)
	assert.Equal(t, int64(3), stats.Skipped)

	// nothing new
	n, err = f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciler_PartialLineWaits(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	full := logLine("/s/abc123", 302, "HIT", "Mozilla/5.0")
	f.append(t, full, "203.0.113.7|2024-05-01T10:00:00+00:00|/s/abc123|302|HIT|Mozil")

	n, err := f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	saved, err := f.offsets.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(len(full)), saved)

	f.append(t, "la/5.0\n")
	n, err = f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.store.ClickCount(f.link.ID, models.EventLinkClick))

	ua := *f.store.Clicks()[1].UserAgent
	assert.Equal(t, "Mozilla/5.0", ua)
}

func TestReconciler_ReplayDoesNotDoubleCount(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	f.append(t,
		logLine("/s/abc123", 302, "HIT", "a"),
		logLine("/s/abc123", 302, "HIT", "a"),
		logLine("/s/abc123", 302, "HIT", "b"),
	)

	_, err := f.rec.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, f.store.ClickCount(f.link.ID, models.EventLinkClick))

	// crash after recording but before the offset was persisted
	require.NoError(t, f.offsets.Save(0))

	_, err = f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.ClickCount(f.link.ID, models.EventLinkClick),
		"identical lines at different offsets count separately, replays do not")
}

func TestReconciler_Rotation(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	f.append(t,
		logLine("/s/abc123", 302, "HIT", "before-1"),
		logLine("/s/abc123", 302, "HIT", "before-2"),
	)
	_, err := f.rec.Poll(ctx)
	require.NoError(t, err)

	// rotate: the new file is shorter than the stored offset
	require.NoError(t, os.WriteFile(f.logPath, []byte(logLine("/s/abc123?qr=1", 302, "HIT", "after")), 0o644))

	n, err := f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.store.ClickCount(f.link.ID, models.EventLinkClick))
	assert.Equal(t, 1, f.store.ClickCount(f.link.ID, models.EventQRScan))
}

func TestReconciler_StoreFailureKeepsOffset(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	f.append(t, logLine("/s/abc123", 302, "HIT", "x"))

	f.store.SetRecordError(errors.New("connection refused"))
	_, err := f.rec.Poll(ctx)
	require.Error(t, err)

	saved, err := f.offsets.Load()
	require.NoError(t, err)
	assert.Zero(t, saved)

	f.store.SetRecordError(nil)
	n, err := f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReconciler_LookupFailureStopsBeforeLine(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	first := logLine("/s/nothere", 302, "HIT", "x")
	f.append(t, first, logLine("/s/abc123", 302, "HIT", "y"))

	f.store.SetError(errors.New("store down"))
	_, err := f.rec.Poll(ctx)
	require.Error(t, err)

	saved, err := f.offsets.Load()
	require.NoError(t, err)
	assert.Zero(t, saved)

	f.store.SetError(nil)
	n, err := f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReconciler_DeletedLinkDoesNotBlockLog(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.store.Seed(models.Link{ShortCode: "gone01", OriginalURL: "https://example.com/gone", IsActive: true})

	f.append(t, logLine("/s/gone01", 302, "HIT", "x"))
	n, err := f.rec.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// the lookup still holds the deleted link's ID
	require.NoError(t, f.store.DeleteLink(ctx, "gone01"))
	f.append(t,
		logLine("/s/gone01", 302, "HIT", "x"),
		logLine("/s/abc123", 302, "HIT", "y"),
	)

	_, err = f.rec.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.ClickCount(f.link.ID, models.EventLinkClick))
	assert.Len(t, f.store.Clicks(), 1)

	info, err := os.Stat(f.logPath)
	require.NoError(t, err)
	saved, err := f.offsets.Load()
	require.NoError(t, err)
	assert.Equal(t, info.Size(), saved)
}

func TestReconciler_SingleRunner(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.rec.Run(ctx)
	}()

	require.Eventually(t, func() bool { return f.rec.running.Load() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.rec.Run(ctx), ErrReconcilerRunning)

	f.append(t, logLine("/s/abc123", 302, "HIT", "live"))
	require.Eventually(t, func() bool {
		return f.store.ClickCount(f.link.ID, models.EventLinkClick) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestReconciler_MissingLogFails(t *testing.T) {
	f := newReconcilerFixture(t)
	require.NoError(t, os.Remove(f.logPath))

	err := f.rec.Run(context.Background())
	require.Error(t, err)
	assert.False(t, f.rec.running.Load())
}

func TestLogClickID(t *testing.T) {
	a := LogClickID(0, "line")
	assert.Equal(t, a, LogClickID(0, "line"))
	assert.NotEqual(t, a, LogClickID(5, "line"))
	assert.NotEqual(t, a, LogClickID(0, "other"))
}
