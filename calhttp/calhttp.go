/*Package calhttp exposes one calibration runner over HTTP: start and
cancel runs, poll status, fetch the last result, and watch live sample
pairs over a websocket.

The API is a thin shell; sequencing, safety and fitting all live in
calib.  Runs execute on a server goroutine, one at a time, matching the
single-operator nature of the bench.  A latched safety fault answers
start requests with 423 Locked until an explicit reset, so a remote
client cannot push the jig past a fault it has not acknowledged.
*/
package calhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larrykvit/loadcell-calibration/calib"
)

// StartRequest is the body of POST /run/start.
type StartRequest struct {
	Profile calib.ProfileSpec `json:"profile"`
}

// RunRecord receives one run's live pairs and, at the end, its result.
type RunRecord interface {
	Pair(calib.RawSamplePair)
	Commit(calib.Result) error
}

// Recorder hands out a RunRecord at the start of every run.  Wire a
// datastore here; left nil, runs are kept in memory only.
type Recorder interface {
	Begin(start time.Time) (RunRecord, error)
}

// Server exposes a Runner over HTTP.
type Server struct {
	// Log receives request-level warnings and errors.
	Log logrus.FieldLogger

	runner *calib.Runner
	rec    Recorder
	hub    *wsHub

	mu     sync.Mutex
	cancel context.CancelFunc // active run's cancel, nil when none
	record RunRecord          // active run's record, nil when none
}

// NewServer wires a server over the runner.  rec may be nil.  The server
// registers itself as the runner's live callback; set any further fanout
// on the server, not the runner.
func NewServer(runner *calib.Runner, rec Recorder) *Server {
	s := &Server{
		Log:    logrus.StandardLogger(),
		runner: runner,
		rec:    rec,
		hub:    newWSHub(),
	}
	runner.SetLive(s.fanout)
	return s
}

// RT returns the server's routes, ready to bind.
func (s *Server) RT() RouteTable {
	return RouteTable{
		{http.MethodPost, "/run/start"}:  s.startRun,
		{http.MethodGet, "/run/status"}:  s.status,
		{http.MethodGet, "/run/result"}:  s.result,
		{http.MethodPost, "/run/cancel"}: s.cancelRun,
		{http.MethodPost, "/run/reset"}:  s.resetRun,
		{http.MethodGet, "/live"}:        s.live,
	}
}

// fanout relays live pairs to websocket watchers and the active record.
func (s *Server) fanout(p calib.RawSamplePair) {
	s.hub.broadcast(wsMessage{Type: "pair", Data: p})
	s.mu.Lock()
	rec := s.record
	s.mu.Unlock()
	if rec != nil {
		rec.Pair(p)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) reply(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.WithError(err).Warn("response encode failed")
	}
}

func (s *Server) replyErr(w http.ResponseWriter, code int, err error) {
	s.reply(w, code, errorBody{Error: err.Error()})
}

// startRun launches a run and answers 202 with a runner snapshot.  The
// failure modes get distinct codes so clients can react without string
// matching: 400 for a plan that cannot be built, 409 while a run is
// active, 423 while a safety fault is latched.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.replyErr(w, http.StatusBadRequest, fmt.Errorf("decoding start request: %w", err))
		return
	}
	profile, forces, err := req.Profile.Build()
	if err != nil {
		s.replyErr(w, http.StatusBadRequest, err)
		return
	}
	if err := profile.Validate(); err != nil {
		s.replyErr(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		s.replyErr(w, http.StatusConflict, calib.ErrBusy)
		return
	}
	if snap := s.runner.Snapshot(); snap.Latched != "" {
		s.mu.Unlock()
		s.replyErr(w, http.StatusLocked, fmt.Errorf("safety fault latched: %s; reset required", snap.Latched))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if s.rec != nil {
		rec, err := s.rec.Begin(time.Now())
		if err != nil {
			s.mu.Unlock()
			cancel()
			s.replyErr(w, http.StatusInternalServerError, fmt.Errorf("starting run record: %w", err))
			return
		}
		s.record = rec
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.execute(ctx, cancel, profile, forces)
	s.reply(w, http.StatusAccepted, s.runner.Snapshot())
}

// execute runs to completion on its own goroutine and tears down the
// per-run state no matter how the run ends.
func (s *Server) execute(ctx context.Context, cancel context.CancelFunc, profile calib.Profile, forces map[int]float64) {
	res, err := s.runner.Run(ctx, profile, forces)
	cancel()
	s.mu.Lock()
	rec := s.record
	s.record = nil
	s.cancel = nil
	s.mu.Unlock()
	if err != nil {
		// refused in preflight after our own checks passed; nothing ran
		s.Log.WithError(err).Warn("run refused by the engine")
		if rec != nil {
			now := time.Now()
			refusal := calib.Result{Status: calib.Aborted, Failure: err.Error(), Started: now, Finished: now}
			if cerr := rec.Commit(refusal); cerr != nil {
				s.Log.WithError(cerr).Error("persisting run record failed")
			}
		}
		return
	}
	if rec != nil {
		if cerr := rec.Commit(res); cerr != nil {
			s.Log.WithError(cerr).Error("persisting run record failed")
		}
	}
	s.hub.broadcast(wsMessage{Type: "result", Data: res})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) result(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runner.Last()
	if !ok {
		s.replyErr(w, http.StatusNotFound, errors.New("no completed run yet"))
		return
	}
	s.reply(w, http.StatusOK, res)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		s.replyErr(w, http.StatusConflict, errors.New("no active run"))
		return
	}
	cancel()
	s.reply(w, http.StatusAccepted, s.runner.Snapshot())
}

func (s *Server) resetRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Reset(); err != nil {
		s.replyErr(w, http.StatusConflict, err)
		return
	}
	s.reply(w, http.StatusOK, s.runner.Snapshot())
}
