package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"warelay/internal/provider"
	logx "warelay/pkg/logx"
)

type sentCall struct {
	dest string
	kind string
	at   time.Time
}

// fakeClient records sends and fails selected destinations.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	statusErr error
	failWith  map[string]error // destination -> error
	calls     []sentCall
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, failWith: map[string]error{}}
}

func (f *fakeClient) Status(ctx context.Context, credential string) (provider.StatusInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return provider.StatusInfo{}, f.statusErr
	}
	return provider.StatusInfo{Connected: f.connected}, nil
}

func (f *fakeClient) record(dest, kind string) (provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{dest: dest, kind: kind, at: time.Now()})
	if err, ok := f.failWith[dest]; ok {
		return provider.SendResult{}, err
	}
	return provider.SendResult{MessageID: "msg-" + dest}, nil
}

func (f *fakeClient) SendText(ctx context.Context, credential, dest, text string) (provider.SendResult, error) {
	return f.record(dest, "text")
}

func (f *fakeClient) SendImage(ctx context.Context, credential, dest, imageRef, caption string) (provider.SendResult, error) {
	return f.record(dest, "image")
}

func (f *fakeClient) SendMixed(ctx context.Context, credential, dest, text, imageRef string) (provider.SendResult, error) {
	return f.record(dest, "mixed")
}

func (f *fakeClient) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func fastConfig() Config {
	return Config{
		Enabled:          true,
		PacingMode:       PacingFixed,
		Pace:             time.Millisecond,
		RateLimitBackoff: 5 * time.Millisecond,
		SendTimeout:      time.Second,
		RatePerSec:       1000,
	}
}

func startService(t *testing.T, cfg Config, client provider.Client) *Service {
	t.Helper()
	s := New(cfg, client, nil, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestScheduleValidation(t *testing.T) {
	t.Parallel()
	s := startService(t, fastConfig(), newFakeClient())

	tests := []struct {
		name string
		req  ScheduleRequest
		want error
	}{
		{name: "no destinations", req: ScheduleRequest{Content: Content{Text: "hi"}, Credential: "k"}, want: ErrNoDestinations},
		{name: "empty content", req: ScheduleRequest{Destinations: []string{"g1"}, Credential: "k"}, want: ErrEmptyContent},
		{name: "no credential", req: ScheduleRequest{Destinations: []string{"g1"}, Content: Content{Text: "hi"}}, want: ErrNoCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Schedule(tt.req); err != tt.want {
				t.Fatalf("Schedule error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScheduleListsPendingJob(t *testing.T) {
	t.Parallel()
	s := startService(t, fastConfig(), newFakeClient())

	at := time.Now().Add(time.Hour)
	rc, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1", "g2"},
		Content:      Content{Text: "hello"},
		ActivationAt: at,
		Credential:   "key-1",
		Owner:        "628123",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	jobs := s.List()
	if len(jobs) != 1 {
		t.Fatalf("List() = %d jobs, want 1", len(jobs))
	}
	v := jobs[0]
	if v.ID != rc.ID {
		t.Fatalf("id = %s, want %s", v.ID, rc.ID)
	}
	if v.Status != "scheduled" {
		t.Fatalf("status = %q, want scheduled", v.Status)
	}
	if v.ActivationAt != at.UnixMilli() {
		t.Fatalf("activation_at = %d, want %d", v.ActivationAt, at.UnixMilli())
	}

	got, ok := s.Get(rc.ID)
	if !ok {
		t.Fatal("Get returned not found for a live job")
	}
	if len(got.Destinations) != 2 || got.Destinations[0] != "g1" || got.Destinations[1] != "g2" {
		t.Fatalf("destinations = %v", got.Destinations)
	}
	if got.Text != "hello" || got.Owner != "628123" {
		t.Fatalf("view mismatch: %+v", got)
	}
}

func TestSchedulePastActivationRunsImmediately(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	s := startService(t, fastConfig(), fc)

	rc, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1"},
		Content:      Content{Text: "hi"},
		ActivationAt: time.Now().Add(-time.Minute),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(fc.sent()) == 1 })
	waitFor(t, time.Second, func() bool {
		_, ok := s.Get(rc.ID)
		return !ok
	})
}

func TestCancelBeforeActivation(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	s := startService(t, fastConfig(), fc)

	rc, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1"},
		Content:      Content{Text: "hi"},
		ActivationAt: time.Now().Add(time.Hour),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if !s.Cancel(rc.ID) {
		t.Fatal("Cancel returned false for a pending job")
	}
	if _, ok := s.Get(rc.ID); ok {
		t.Fatal("Get found a cancelled job")
	}
	if s.Cancel(rc.ID) {
		t.Fatal("second Cancel returned true")
	}
	if s.Cancel("bc:999999") {
		t.Fatal("Cancel returned true for unknown id")
	}
	// Give a fired-by-mistake timer a moment; nothing must be delivered.
	time.Sleep(20 * time.Millisecond)
	if n := len(fc.sent()); n != 0 {
		t.Fatalf("cancelled job delivered %d messages", n)
	}
}

func TestDispatchOrderPacingAndCleanup(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	cfg := fastConfig()
	cfg.Pace = 15 * time.Millisecond
	s := startService(t, cfg, fc)

	rc, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1", "g2", "g3"},
		Content:      Content{Text: "hello"},
		ActivationAt: time.Now(),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(fc.sent()) == 3 })

	calls := fc.sent()
	for i, want := range []string{"g1", "g2", "g3"} {
		if calls[i].dest != want {
			t.Fatalf("send %d went to %s, want %s", i, calls[i].dest, want)
		}
		if calls[i].kind != "text" {
			t.Fatalf("send %d used variant %s, want text", i, calls[i].kind)
		}
	}
	// Two gaps of >= pace between the three sends.
	for i := 1; i < 3; i++ {
		if gap := calls[i].at.Sub(calls[i-1].at); gap < cfg.Pace {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, cfg.Pace)
		}
	}

	waitFor(t, time.Second, func() bool {
		_, ok := s.Get(rc.ID)
		return !ok
	})
	if len(s.List()) != 0 {
		t.Fatalf("List() not empty after completion")
	}

	hist := s.History()
	if len(hist) != 1 {
		t.Fatalf("History() = %d records, want 1", len(hist))
	}
	if hist[0].Sent != 3 || hist[0].Failed != 0 || hist[0].Aborted {
		t.Fatalf("record = %+v", hist[0])
	}
}

func TestNotConnectedAbortsWithoutSends(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	fc.connected = false
	s := startService(t, fastConfig(), fc)

	rc, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1", "g2"},
		Content:      Content{Text: "hi"},
		ActivationAt: time.Now(),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := s.Get(rc.ID)
		return !ok
	})
	if n := len(fc.sent()); n != 0 {
		t.Fatalf("%d sends attempted on a disconnected session", n)
	}
	hist := s.History()
	if len(hist) != 1 || !hist[0].Aborted {
		t.Fatalf("expected one aborted record, got %+v", hist)
	}
}

func TestRateLimitedDestinationExtendsGap(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	fc.failWith["g2"] = &provider.Error{Kind: provider.KindRateLimited, Status: 429, Message: "slow down"}

	cfg := fastConfig()
	cfg.Pace = 2 * time.Millisecond
	cfg.RateLimitBackoff = 60 * time.Millisecond
	s := startService(t, cfg, fc)

	_, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1", "g2", "g3"},
		Content:      Content{Text: "hi"},
		ActivationAt: time.Now(),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(fc.sent()) == 3 })

	calls := fc.sent()
	if calls[0].dest != "g1" || calls[1].dest != "g2" || calls[2].dest != "g3" {
		t.Fatalf("unexpected order: %v", calls)
	}
	// The gap after the rate-limited destination is the extended one.
	if gap := calls[2].at.Sub(calls[1].at); gap < cfg.RateLimitBackoff {
		t.Fatalf("post-429 gap = %v, want >= %v", gap, cfg.RateLimitBackoff)
	}

	waitFor(t, time.Second, func() bool { return len(s.History()) == 1 })
	rec := s.History()[0]
	if rec.Sent != 2 || rec.Failed != 1 {
		t.Fatalf("record sent/failed = %d/%d, want 2/1", rec.Sent, rec.Failed)
	}
	if len(rec.Results) != 3 || !rec.Results[1].RateLimited {
		t.Fatalf("results = %+v", rec.Results)
	}
}

func TestFailedDestinationDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	fc.failWith["g1"] = &provider.Error{Kind: provider.KindUnavailable, Status: 500, Message: "boom"}
	s := startService(t, fastConfig(), fc)

	_, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1", "g2"},
		Content:      Content{Text: "hi"},
		ActivationAt: time.Now(),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(fc.sent()) == 2 })
	waitFor(t, time.Second, func() bool { return len(s.History()) == 1 })
	rec := s.History()[0]
	if rec.Sent != 1 || rec.Failed != 1 || rec.Aborted {
		t.Fatalf("record = %+v", rec)
	}
}

func TestMixedContentUsesMixedVariant(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	s := startService(t, fastConfig(), fc)

	_, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1"},
		Content:      Content{Text: "caption text", ImageRef: "https://cdn.example/pic.jpg"},
		ActivationAt: time.Now(),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(fc.sent()) == 1 })
	if kind := fc.sent()[0].kind; kind != "mixed" {
		t.Fatalf("variant = %s, want mixed", kind)
	}
}

// gatedClient holds SendText open until released so a dispatch can be kept
// in flight across a Stop call.
type gatedClient struct {
	*fakeClient
	entered chan struct{}
	release chan struct{}
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		fakeClient: newFakeClient(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (g *gatedClient) SendText(ctx context.Context, credential, dest, text string) (provider.SendResult, error) {
	close(g.entered)
	<-g.release
	return g.fakeClient.SendText(ctx, credential, dest, text)
}

func TestStopWaitsForInflightDispatch(t *testing.T) {
	t.Parallel()
	gc := newGatedClient()
	s := New(fastConfig(), gc, nil, logx.Nop())
	s.Start(context.Background())

	rc, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1"},
		Content:      Content{Text: "hi"},
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case <-gc.entered:
	case <-time.After(time.Second):
		t.Fatal("dispatch never reached the send")
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(gc.release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	// Stop must not return until the held dispatch has delivered and its
	// outcome landed in history.
	if n := len(gc.sent()); n != 1 {
		t.Fatalf("Stop returned with %d sends recorded, want 1", n)
	}
	found := false
	for _, rec := range s.History() {
		if rec.ID == rc.ID {
			found = true
			if rec.Sent != 1 {
				t.Fatalf("history sent = %d, want 1", rec.Sent)
			}
		}
	}
	if !found {
		t.Fatal("Stop returned before the dispatch record reached history")
	}
}

func TestStopDropsPendingJobs(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	s := New(fastConfig(), fc, nil, logx.Nop())
	s.Start(context.Background())

	_, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1"},
		Content:      Content{Text: "hi"},
		ActivationAt: time.Now().Add(time.Hour),
		Credential:   "k",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if len(s.List()) != 0 {
		t.Fatal("pending jobs survived Stop")
	}
	if _, err := s.Schedule(ScheduleRequest{
		Destinations: []string{"g1"},
		Content:      Content{Text: "hi"},
		Credential:   "k",
	}); err != ErrNotRunning {
		t.Fatalf("Schedule after Stop = %v, want ErrNotRunning", err)
	}
}
