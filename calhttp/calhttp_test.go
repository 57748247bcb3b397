package calhttp_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"github.com/larrykvit/loadcell-calibration/calhttp"
	"github.com/larrykvit/loadcell-calibration/calib"
	"github.com/larrykvit/loadcell-calibration/keysight"
	"github.com/larrykvit/loadcell-calibration/roboclaw"
)

// bench assembles the whole stack over mock hardware: the mock motor's
// position couples into the mock digitizer, so runs behave like a tiny
// spring bench where force tracks position exactly.
func bench(t *testing.T, rec calhttp.Recorder) (*roboclaw.Mock, *httptest.Server) {
	t.Helper()
	mock := roboclaw.NewMock(4000)
	jig := &roboclaw.Jig{Ctl: mock, CountsPerUnit: 10, MaxSpeed: 1000, HomeSpeed: 500}
	daq := &keysight.MockDAQ{
		Force:    func() float64 { return mock.Position() / 10 },
		RefScale: 1,
		DUTScale: 0.5,
	}
	cfg := calib.Config{
		Tick: time.Millisecond,
		// below one encoder count, so arrival means the exact target and
		// the fitted line recovers the coupling without parking error
		PositionTolerance: 0.01,
		Settle:            2 * time.Millisecond,
		MinSamples:        3,
		StallCurrent:      1,
		StallGrace:        5 * time.Millisecond,
		TareDuration:      5 * time.Millisecond,
	}
	runner := calib.NewRunner(jig, daq, cfg)
	srv := calhttp.NewServer(runner, rec)
	r := chi.NewRouter()
	srv.RT().Bind(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return mock, ts
}

func fp(v float64) *float64 { return &v }

// plan holds the carriage at each given position; the bench coupling
// makes the certified force equal the position.
func plan(holdSeconds float64, holds ...float64) calhttp.StartRequest {
	var ps calib.ProfileSpec
	for _, h := range holds {
		ps = append(ps,
			calib.SegmentSpec{Kind: "move", Target: h, Speed: 400},
			calib.SegmentSpec{Kind: "hold", Seconds: holdSeconds, Force: fp(h)},
		)
	}
	ps = append(ps, calib.SegmentSpec{Kind: "home"})
	return calhttp.StartRequest{Profile: ps}
}

func post(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		rd = strings.NewReader(string(b))
	}
	resp, err := http.Post(url, "application/json", rd)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

type snapshotBody struct {
	State   string `json:"state"`
	Segment int    `json:"segment"`
	Points  int    `json:"points"`
	Latched string `json:"latched"`
}

func getStatus(t *testing.T, ts *httptest.Server) snapshotBody {
	t.Helper()
	resp, err := http.Get(ts.URL + "/run/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var snap snapshotBody
	decode(t, resp, &snap)
	return snap
}

func waitState(t *testing.T, ts *httptest.Server, want string) snapshotBody {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	var snap snapshotBody
	for time.Now().Before(deadline) {
		snap = getStatus(t, ts)
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state stuck at %q, want %q", snap.State, want)
	return snap
}

type resultBody struct {
	Status  string                   `json:"status"`
	Points  []calib.CalibrationPoint `json:"points"`
	Model   *calib.Model             `json:"model"`
	Tare    *calib.Tare              `json:"tare"`
	Failure string                   `json:"failure"`
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	_, ts := bench(t, nil)

	resp := post(t, ts.URL+"/run/start", plan(0.05, 20, 50, 80))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()

	waitState(t, ts, "Completed")

	rr, err := http.Get(ts.URL + "/run/result")
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	if rr.StatusCode != http.StatusOK {
		t.Fatalf("result = %d, want 200", rr.StatusCode)
	}
	var res resultBody
	decode(t, rr, &res)
	if res.Status != "Completed" || res.Failure != "" {
		t.Fatalf("result status %q failure %q", res.Status, res.Failure)
	}
	if len(res.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(res.Points))
	}
	if res.Model == nil {
		t.Fatal("no model in result")
	}
	// dut reads force/2, so the model should recover force = 2*raw
	if len(res.Model.Coeffs) != 2 {
		t.Fatalf("coeffs = %v, want order 1", res.Model.Coeffs)
	}
	if a, b := res.Model.Coeffs[0], res.Model.Coeffs[1]; a < -1e-6 || a > 1e-6 || b < 2-1e-6 || b > 2+1e-6 {
		t.Errorf("model coeffs = %v, want [0, 2]", res.Model.Coeffs)
	}
	if res.Tare == nil || res.Tare.N == 0 {
		t.Errorf("tare = %+v, want an unloaded capture", res.Tare)
	}
}

func TestStartWhileBusyConflicts(t *testing.T) {
	_, ts := bench(t, nil)

	resp := post(t, ts.URL+"/run/start", plan(5, 20))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()

	second := post(t, ts.URL+"/run/start", plan(0.05, 20))
	if second.StatusCode != http.StatusConflict {
		t.Errorf("second start = %d, want 409", second.StatusCode)
	}
	second.Body.Close()

	cr := post(t, ts.URL+"/run/cancel", nil)
	if cr.StatusCode != http.StatusAccepted {
		t.Errorf("cancel = %d, want 202", cr.StatusCode)
	}
	cr.Body.Close()
	waitState(t, ts, "Aborted")
}

func TestCancelRecordsOperatorAbort(t *testing.T) {
	_, ts := bench(t, nil)

	resp := post(t, ts.URL+"/run/start", plan(5, 20))
	resp.Body.Close()
	cr := post(t, ts.URL+"/run/cancel", nil)
	cr.Body.Close()
	waitState(t, ts, "Aborted")

	rr, err := http.Get(ts.URL + "/run/result")
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	var res resultBody
	decode(t, rr, &res)
	if !strings.Contains(res.Failure, "cancel") {
		t.Errorf("failure = %q, want an operator cancel", res.Failure)
	}
}

func TestStallLatchesAndLocksOut(t *testing.T) {
	mock, ts := bench(t, nil)
	mock.JamAt = 200 // counts; an obstruction at 20 position units

	resp := post(t, ts.URL+"/run/start", plan(0.05, 50))
	resp.Body.Close()
	snap := waitState(t, ts, "Faulted")
	if !strings.Contains(snap.Latched, "stall") {
		t.Errorf("latched = %q, want a stall", snap.Latched)
	}

	locked := post(t, ts.URL+"/run/start", plan(0.05, 50))
	if locked.StatusCode != http.StatusLocked {
		t.Errorf("start while latched = %d, want 423", locked.StatusCode)
	}
	locked.Body.Close()

	rst := post(t, ts.URL+"/run/reset", nil)
	if rst.StatusCode != http.StatusOK {
		t.Errorf("reset = %d, want 200", rst.StatusCode)
	}
	rst.Body.Close()
	if snap := getStatus(t, ts); snap.State != "Idle" || snap.Latched != "" {
		t.Errorf("after reset: %+v, want idle and clear", snap)
	}
}

func TestStartRejectsBadPlans(t *testing.T) {
	_, ts := bench(t, nil)

	noForce := calhttp.StartRequest{Profile: calib.ProfileSpec{
		{Kind: "hold", Seconds: 1},
		{Kind: "home"},
	}}
	resp := post(t, ts.URL+"/run/start", noForce)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("hold without force = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	noHome := calhttp.StartRequest{Profile: calib.ProfileSpec{
		{Kind: "move", Target: 10, Speed: 1},
	}}
	resp = post(t, ts.URL+"/run/start", noHome)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("profile without home = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	if snap := getStatus(t, ts); snap.State != "Idle" {
		t.Errorf("state = %q after rejected plans, want Idle", snap.State)
	}
}

func TestResultBeforeAnyRun(t *testing.T) {
	_, ts := bench(t, nil)
	resp, err := http.Get(ts.URL + "/run/result")
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("result = %d, want 404", resp.StatusCode)
	}
}

func TestCancelWithoutRun(t *testing.T) {
	_, ts := bench(t, nil)
	resp := post(t, ts.URL+"/run/cancel", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel = %d, want 409", resp.StatusCode)
	}
}

func TestResetWhileIdle(t *testing.T) {
	_, ts := bench(t, nil)
	resp := post(t, ts.URL+"/run/reset", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reset = %d, want 200", resp.StatusCode)
	}
}

// captureRecorder is both the Recorder and the per-run record; tests use
// it to assert the persistence hooks fire.
type captureRecorder struct {
	mu     sync.Mutex
	pairs  int
	result *calib.Result
}

func (c *captureRecorder) Begin(time.Time) (calhttp.RunRecord, error) { return c, nil }

func (c *captureRecorder) Pair(calib.RawSamplePair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs++
}

func (c *captureRecorder) Commit(r calib.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = &r
	return nil
}

func (c *captureRecorder) committed() (int, *calib.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairs, c.result
}

func TestRecorderReceivesPairsAndResult(t *testing.T) {
	rec := &captureRecorder{}
	_, ts := bench(t, rec)

	resp := post(t, ts.URL+"/run/start", plan(0.05, 20, 50, 80))
	resp.Body.Close()
	waitState(t, ts, "Completed")

	deadline := time.Now().Add(5 * time.Second)
	for {
		pairs, res := rec.committed()
		if res != nil {
			if pairs == 0 {
				t.Error("record committed with no live pairs")
			}
			if res.Status != calib.Completed {
				t.Errorf("committed status = %v, want Completed", res.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("record never committed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLiveStreamsPairsAndResult(t *testing.T) {
	_, ts := bench(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing live feed: %v", err)
	}
	defer conn.Close()

	resp := post(t, ts.URL+"/run/start", plan(0.05, 20, 50, 80))
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	pairs := 0
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("live feed closed after %d pairs: %v", pairs, err)
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			t.Fatalf("bad live message %q: %v", msg, err)
		}
		switch envelope.Type {
		case "pair":
			pairs++
		case "result":
			if pairs == 0 {
				t.Error("result arrived before any pairs")
			}
			return
		}
	}
}
