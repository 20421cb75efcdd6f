package watch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/formrelay/formrelay/internal/config"
	"github.com/formrelay/formrelay/internal/dedup"
	"github.com/formrelay/formrelay/internal/intake"
	"github.com/formrelay/formrelay/internal/intake/repository"
	"github.com/formrelay/formrelay/internal/notify"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	subs []intake.Submission
}

func (r *recordingDispatcher) Dispatch(_ context.Context, sub intake.Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
}

func (r *recordingDispatcher) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s.ID)
	}
	return out
}

var testWatch = config.WatchConfig{PollInterval: 30 * time.Second, RecoveryInterval: 45 * time.Second}

func seed(t *testing.T, ids ...int) *repository.MemorySource {
	t.Helper()
	src := repository.NewMemorySource()
	for _, id := range ids {
		require.NoError(t, src.Insert(intake.Record{"_id": id, "name": string(rune('A' + id - 1))}))
	}
	return src
}

func TestRunOnceProcessesAllInOrder(t *testing.T) {
	src := seed(t, 3, 1, 2)
	d := &recordingDispatcher{}
	l := New(src, dedup.NewMemoryStore(), d, testWatch)

	require.Nil(t, l.HighWaterMark())
	require.NoError(t, l.RunOnce(context.Background()))

	require.Equal(t, []any{nil}, src.Queries(), "first query has no lower bound")
	require.Equal(t, []string{"1", "2", "3"}, d.ids())
	require.Equal(t, 3, l.HighWaterMark())

	d.mu.Lock()
	require.Equal(t, "A", d.subs[0].Name)
	require.Len(t, d.subs[0].Fields, len(intake.Fields))
	d.mu.Unlock()
}

func TestRunOnceUsesHighWaterMark(t *testing.T) {
	src := seed(t, 1, 2)
	d := &recordingDispatcher{}
	l := New(src, dedup.NewMemoryStore(), d, testWatch)
	ctx := context.Background()

	require.NoError(t, l.RunOnce(ctx))
	require.NoError(t, l.RunOnce(ctx))
	require.NoError(t, src.Insert(intake.Record{"_id": 3, "name": "C"}))
	require.NoError(t, l.RunOnce(ctx))

	require.Equal(t, []any{nil, 2, 2}, src.Queries())
	require.Equal(t, []string{"1", "2", "3"}, d.ids())
	require.Equal(t, 3, l.HighWaterMark())
}

func TestRunOnceSkipsSeenIDs(t *testing.T) {
	src := seed(t, 1, 2, 3)
	seen := dedup.NewMemoryStore()
	_, err := seen.MarkSeen(context.Background(), "2")
	require.NoError(t, err)

	d := &recordingDispatcher{}
	l := New(src, seen, d, testWatch)
	require.NoError(t, l.RunOnce(context.Background()))

	require.Equal(t, []string{"1", "3"}, d.ids())
	require.Equal(t, 3, l.HighWaterMark())
}

// overlappingSource ignores the lower bound, as if the query overlapped records already handled.
type overlappingSource struct {
	*repository.MemorySource
}

func (o overlappingSource) FetchNew(ctx context.Context, _ any) (repository.Cursor, error) {
	return o.MemorySource.FetchNew(ctx, nil)
}

func TestRunOnceNeverDispatchesTwice(t *testing.T) {
	src := overlappingSource{seed(t, 1, 2)}
	d := &recordingDispatcher{}
	l := New(src, dedup.NewMemoryStore(), d, testWatch)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.RunOnce(ctx))
	}
	require.Equal(t, []string{"1", "2"}, d.ids())
}

func TestRunOnceQueryFailureKeepsMark(t *testing.T) {
	src := seed(t, 1)
	d := &recordingDispatcher{}
	l := New(src, dedup.NewMemoryStore(), d, testWatch)
	ctx := context.Background()
	require.NoError(t, l.RunOnce(ctx))

	boom := errors.New("server selection timeout")
	src.FailWith(boom)
	require.ErrorIs(t, l.RunOnce(ctx), boom)
	require.Equal(t, 1, l.HighWaterMark())
}

// failingCursor yields records and then fails to decode the one at failAt.
type failingCursor struct {
	repository.Cursor
	pos    int
	failAt int
}

func (f *failingCursor) Next(ctx context.Context) bool {
	f.pos++
	return f.Cursor.Next(ctx)
}

func (f *failingCursor) Decode(v interface{}) error {
	if f.pos == f.failAt {
		return errors.New("corrupt document")
	}
	return f.Cursor.Decode(v)
}

type failingSource struct {
	*repository.MemorySource
	failAt int
}

func (s *failingSource) FetchNew(ctx context.Context, lastID any) (repository.Cursor, error) {
	cur, err := s.MemorySource.FetchNew(ctx, lastID)
	if err != nil {
		return nil, err
	}
	failAt := s.failAt
	s.failAt = 0
	return &failingCursor{Cursor: cur, failAt: failAt}, nil
}

func TestRunOnceMidBatchErrorResumesFromMark(t *testing.T) {
	mem := seed(t, 1, 2, 3)
	src := &failingSource{MemorySource: mem, failAt: 2}
	d := &recordingDispatcher{}
	l := New(src, dedup.NewMemoryStore(), d, testWatch)
	ctx := context.Background()

	require.ErrorContains(t, l.RunOnce(ctx), "corrupt document")
	require.Equal(t, 1, l.HighWaterMark())
	require.Equal(t, []string{"1"}, d.ids())

	require.NoError(t, l.RunOnce(ctx))
	require.Equal(t, []any{nil, 1}, mem.Queries())
	require.Equal(t, []string{"1", "2", "3"}, d.ids())
}

func TestRunOnceMissingID(t *testing.T) {
	src := overlappingNoID{}
	l := New(src, dedup.NewMemoryStore(), &recordingDispatcher{}, testWatch)
	require.ErrorIs(t, l.RunOnce(context.Background()), repository.ErrMissingID)
}

type overlappingNoID struct{}

func (overlappingNoID) FetchNew(ctx context.Context, _ any) (repository.Cursor, error) {
	return &noIDCursor{}, nil
}
func (overlappingNoID) Ping(context.Context) error { return nil }

type noIDCursor struct{ done bool }

func (c *noIDCursor) Next(context.Context) bool {
	if c.done {
		return false
	}
	c.done = true
	return true
}
func (c *noIDCursor) Decode(v interface{}) error {
	*(v.(*intake.Record)) = intake.Record{"name": "ghost"}
	return nil
}
func (c *noIDCursor) Err() error                  { return nil }
func (c *noIDCursor) Close(context.Context) error { return nil }

type brokenStore struct{}

func (brokenStore) MarkSeen(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRunOnceSeenStoreFailure(t *testing.T) {
	d := &recordingDispatcher{}
	l := New(seed(t, 1), brokenStore{}, d, testWatch)
	require.ErrorContains(t, l.RunOnce(context.Background()), "mark submission 1 seen")
	require.Empty(t, d.ids())
	require.Equal(t, 1, l.HighWaterMark())
}

// selectiveDialer fails the send whose body contains failOn.
type selectiveDialer struct {
	mu     sync.Mutex
	failOn string
	bodies []string
}

func (s *selectiveDialer) DialAndSend(msgs ...*gomail.Message) error {
	for _, m := range msgs {
		var buf bytes.Buffer
		if _, err := m.WriteTo(&buf); err != nil {
			return err
		}
		body := buf.String()
		if strings.Contains(body, s.failOn) {
			return errors.New("421 service not available")
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()
	}
	return nil
}

func TestRunOnceSendFailureDoesNotStopBatch(t *testing.T) {
	src := seed(t, 1, 2, 3)
	dialer := &selectiveDialer{failOn: "name: B"}
	n := notify.New(dialer, notify.Options{From: "intake@example.com", To: []string{"ops@example.com"}, MaxConcurrent: 1})
	l := New(src, dedup.NewMemoryStore(), n, testWatch)

	ctx := context.Background()
	require.NoError(t, l.RunOnce(ctx))
	require.Equal(t, 3, l.HighWaterMark())

	require.NoError(t, n.Wait(ctx))
	require.Len(t, dialer.bodies, 2)
	all := strings.Join(dialer.bodies, "\n")
	require.Contains(t, all, "name: A")
	require.Contains(t, all, "name: C")

	// the failed record is not retried on the next cycle
	require.NoError(t, l.RunOnce(ctx))
	require.NoError(t, n.Wait(ctx))
	require.Len(t, dialer.bodies, 2)
	require.Equal(t, []any{nil, 3}, src.Queries())
}

func TestRunBacksOffAfterError(t *testing.T) {
	src := seed(t, 1)
	src.FailWith(errors.New("not primary"))
	d := &recordingDispatcher{}
	l := New(src, dedup.NewMemoryStore(), d, testWatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var waits []time.Duration
	l.sleep = func(ctx context.Context, dur time.Duration) error {
		waits = append(waits, dur)
		switch len(waits) {
		case 1:
			src.FailWith(nil)
		case 3:
			cancel()
			return ctx.Err()
		}
		return nil
	}

	err := l.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []time.Duration{45 * time.Second, 30 * time.Second, 30 * time.Second}, waits)
	require.Equal(t, []string{"1"}, d.ids())
	require.Equal(t, []any{nil, nil, 1}, src.Queries())
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
