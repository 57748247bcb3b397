/*Package store persists calibration runs under a data directory, one
directory per run:

	<root>/<cell>/<2006_01_02_15_04_05>/
	    samples.csv   raw pairs streamed live during the run
	    points.csv    the reduced calibration points
	    result.yaml   status, tare, model and run metadata

The underscore timestamp names sort lexically in time order, which the
downstream analysis scripts rely on.  Samples are flushed as the run
goes, so even a faulted run leaves its raw capture behind.
*/
package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/larrykvit/loadcell-calibration/calib"
)

// dirStamp names run directories.
const dirStamp = "2006_01_02_15_04_05"

// Store writes run records for one cell under test.
type Store struct {
	// Root is the data directory shared by all cells.
	Root string
	// Cell identifies the cell under test; one subdirectory per cell.
	Cell string
}

// Begin opens the run directory and the live sample stream.  The caller
// must Commit the returned record exactly once, however the run ends.
func (s *Store) Begin(start time.Time) (*Record, error) {
	if s.Root == "" || s.Cell == "" {
		return nil, errors.New("store needs both a root directory and a cell name")
	}
	dir := filepath.Join(s.Root, s.Cell, start.Format(dirStamp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating run directory")
	}
	f, err := os.Create(filepath.Join(dir, "samples.csv"))
	if err != nil {
		return nil, errors.Wrap(err, "creating sample stream")
	}
	w := csv.NewWriter(f)
	r := &Record{dir: dir, cell: s.Cell, f: f, w: w}
	r.err = errors.Wrap(w.Write([]string{"time", "ref", "dut", "skewSeconds"}), "writing sample header")
	return r, nil
}

// Record is one run's open directory.  Errors stick: the first write
// failure is kept and reported by Commit, so the hot sampling path never
// has to stop for disk trouble.
type Record struct {
	dir  string
	cell string
	f    *os.File
	w    *csv.Writer
	n    int
	err  error
}

// Dir is the run directory, for logging and operator messages.
func (r *Record) Dir() string { return r.dir }

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Pair appends one live sample to the stream.
func (r *Record) Pair(p calib.RawSamplePair) {
	if r.err != nil {
		return
	}
	r.n++
	r.err = r.w.Write([]string{
		p.Time.Format(time.RFC3339Nano),
		ftoa(p.Ref),
		ftoa(p.DUT),
		ftoa(p.Skew.Seconds()),
	})
}

// summary is the result.yaml layout.  Times are RFC 3339 strings rather
// than yaml-native timestamps so the files stay greppable.
type summary struct {
	Cell     string                   `yaml:"cell"`
	Status   string                   `yaml:"status"`
	Failure  string                   `yaml:"failure,omitempty"`
	Started  string                   `yaml:"started"`
	Finished string                   `yaml:"finished"`
	Samples  int                      `yaml:"samples"`
	Tare     *calib.Tare              `yaml:"tare,omitempty"`
	Model    *calib.Model             `yaml:"model,omitempty"`
	Points   []calib.CalibrationPoint `yaml:"points"`
}

// Commit closes the sample stream and writes the points and summary
// files.  It reports the first error encountered anywhere in the
// record's life.
func (r *Record) Commit(res calib.Result) error {
	r.w.Flush()
	if r.err == nil {
		r.err = r.w.Error()
	}
	if cerr := r.f.Close(); r.err == nil {
		r.err = cerr
	}

	if err := r.writePoints(res.Points); r.err == nil {
		r.err = err
	}

	sum := summary{
		Cell:     r.cell,
		Status:   res.Status.String(),
		Failure:  res.Failure,
		Started:  res.Started.Format(time.RFC3339),
		Finished: res.Finished.Format(time.RFC3339),
		Samples:  r.n,
		Tare:     res.Tare,
		Model:    res.Model,
		Points:   res.Points,
	}
	b, err := yaml.Marshal(sum)
	if err == nil {
		err = os.WriteFile(filepath.Join(r.dir, "result.yaml"), b, 0o644)
	}
	if r.err == nil {
		r.err = errors.Wrap(err, "writing result summary")
	}
	return r.err
}

func (r *Record) writePoints(points []calib.CalibrationPoint) error {
	f, err := os.Create(filepath.Join(r.dir, "points.csv"))
	if err != nil {
		return errors.Wrap(err, "creating points file")
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"force", "raw", "refRaw", "n", "segment"}); err != nil {
		f.Close()
		return err
	}
	for _, pt := range points {
		row := []string{
			ftoa(pt.Force),
			ftoa(pt.Raw),
			ftoa(pt.RefRaw),
			strconv.Itoa(pt.N),
			strconv.Itoa(pt.Segment),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing points file")
}
