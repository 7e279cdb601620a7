package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"warelay/internal/services/broadcast"
	"warelay/internal/services/recurring"
	logx "warelay/pkg/logx"
)

type fakeScheduler struct {
	enabled bool
	jobs    map[string]broadcast.JobView
	history []broadcast.Record

	scheduleErr error
	lastReq     broadcast.ScheduleRequest
	cancelOK    bool
}

func (f *fakeScheduler) Enabled() bool { return f.enabled }

func (f *fakeScheduler) Schedule(req broadcast.ScheduleRequest) (broadcast.Receipt, error) {
	f.lastReq = req
	if f.scheduleErr != nil {
		return broadcast.Receipt{}, f.scheduleErr
	}
	return broadcast.Receipt{ID: "bc:1", ActivationAt: req.ActivationAt}, nil
}

func (f *fakeScheduler) Cancel(id string) bool { return f.cancelOK }

func (f *fakeScheduler) Get(id string) (broadcast.JobView, bool) {
	v, ok := f.jobs[id]
	return v, ok
}

func (f *fakeScheduler) List() []broadcast.JobView {
	out := make([]broadcast.JobView, 0, len(f.jobs))
	for _, v := range f.jobs {
		out = append(out, v)
	}
	return out
}

func (f *fakeScheduler) History() []broadcast.Record { return f.history }

type fakeRecurrer struct{ entries []recurring.EntryInfo }

func (f *fakeRecurrer) Snapshot() []recurring.EntryInfo { return f.entries }

func newTestServer(sched *fakeScheduler) *Server {
	return New(Config{}, Deps{Broadcasts: sched}, logx.Nop())
}

func doReq(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScheduleCreated(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{enabled: true}
	srv := newTestServer(sched)

	rec := doReq(t, srv.Handler(), http.MethodPost, "/api/broadcasts",
		`{"destinations":["628111@s.whatsapp.net"],"text":"hi","delay":"30s","credential":"tok"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp scheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "bc:1" || resp.Status != "scheduled" {
		t.Errorf("resp = %+v", resp)
	}
	if got := sched.lastReq.Credential; got != "tok" {
		t.Errorf("credential = %q", got)
	}
	wantAt := time.Now().Add(30 * time.Second)
	if diff := sched.lastReq.ActivationAt.Sub(wantAt); diff < -2*time.Second || diff > 2*time.Second {
		t.Errorf("activation drifted by %v", diff)
	}
}

func TestScheduleActivationAtWinsOverDelay(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{enabled: true}
	srv := newTestServer(sched)

	at := time.Now().Add(10 * time.Minute).UnixMilli()
	body := `{"destinations":["d"],"text":"x","credential":"tok","delay":"1s","activation_at":` +
		strconv.FormatInt(at, 10) + `}`
	rec := doReq(t, srv.Handler(), http.MethodPost, "/api/broadcasts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := sched.lastReq.ActivationAt.UnixMilli(); got != at {
		t.Errorf("activation = %d, want %d", got, at)
	}
}

func TestScheduleErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", broadcast.ErrNoDestinations, http.StatusBadRequest},
		{"empty content", broadcast.ErrEmptyContent, http.StatusBadRequest},
		{"no credential", broadcast.ErrNoCredential, http.StatusBadRequest},
		{"not running", broadcast.ErrNotRunning, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(&fakeScheduler{scheduleErr: tc.err})
			rec := doReq(t, srv.Handler(), http.MethodPost, "/api/broadcasts",
				`{"destinations":["d"],"text":"x","credential":"tok"}`)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestScheduleRejectsBadJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeScheduler{})
	rec := doReq(t, srv.Handler(), http.MethodPost, "/api/broadcasts", `{"bogus_field": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d", rec.Code)
	}
	rec = doReq(t, srv.Handler(), http.MethodPost, "/api/broadcasts", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("garbage: status = %d", rec.Code)
	}
}

func TestScheduleRejectsBadDelay(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeScheduler{})
	rec := doReq(t, srv.Handler(), http.MethodPost, "/api/broadcasts",
		`{"destinations":["d"],"text":"x","credential":"tok","delay":"tomorrow"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetAndList(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{jobs: map[string]broadcast.JobView{
		"bc:1": {ID: "bc:1", Destinations: []string{"d"}, Status: "scheduled"},
	}}
	srv := newTestServer(sched)

	rec := doReq(t, srv.Handler(), http.MethodGet, "/api/broadcasts/bc:1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var view broadcast.JobView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "bc:1" {
		t.Errorf("view = %+v", view)
	}

	rec = doReq(t, srv.Handler(), http.MethodGet, "/api/broadcasts/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", rec.Code)
	}

	rec = doReq(t, srv.Handler(), http.MethodGet, "/api/broadcasts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listResp.Count != 1 {
		t.Errorf("count = %d", listResp.Count)
	}
}

func TestCancelOutcomes(t *testing.T) {
	t.Parallel()

	// cancelled
	srv := newTestServer(&fakeScheduler{cancelOK: true})
	rec := doReq(t, srv.Handler(), http.MethodDelete, "/api/broadcasts/bc:1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("cancel ok: status = %d", rec.Code)
	}

	// still visible but not cancellable: dispatch already started
	srv = newTestServer(&fakeScheduler{jobs: map[string]broadcast.JobView{"bc:1": {ID: "bc:1"}}})
	rec = doReq(t, srv.Handler(), http.MethodDelete, "/api/broadcasts/bc:1", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("running: status = %d", rec.Code)
	}

	// unknown
	srv = newTestServer(&fakeScheduler{})
	rec = doReq(t, srv.Handler(), http.MethodDelete, "/api/broadcasts/bc:1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown: status = %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{history: []broadcast.Record{
		{ID: "bc:2", Total: 3, Sent: 3},
		{ID: "bc:1", Total: 2, Sent: 1, Failed: 1},
	}}
	srv := newTestServer(sched)

	rec := doReq(t, srv.Handler(), http.MethodGet, "/api/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Records []broadcast.Record `json:"records"`
		Count   int                `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || resp.Records[0].ID != "bc:2" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRecordsStorageDisabled(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeScheduler{})
	rec := doReq(t, srv.Handler(), http.MethodGet, "/api/records", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRecurringEmptyWhenDisabled(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeScheduler{})
	rec := doReq(t, srv.Handler(), http.MethodGet, "/api/recurring", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("count = %d", resp.Count)
	}
}

func TestRecurringSnapshot(t *testing.T) {
	t.Parallel()

	srv := New(Config{}, Deps{
		Broadcasts: &fakeScheduler{},
		Recurring:  &fakeRecurrer{entries: []recurring.EntryInfo{{Name: "daily", Spec: "0 9 * * *"}}},
	}, logx.Nop())

	rec := doReq(t, srv.Handler(), http.MethodGet, "/api/recurring", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Entries []recurring.EntryInfo `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Name != "daily" {
		t.Errorf("entries = %+v", resp.Entries)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeScheduler{enabled: true})
	rec := doReq(t, srv.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status    string `json:"status"`
		Scheduler bool   `json:"scheduler"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.Scheduler {
		t.Errorf("resp = %+v", resp)
	}
}
