package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/idgen"
)

// JournalSchema is the DDL of the detections table.
const JournalSchema = `
CREATE TABLE IF NOT EXISTS detections (
	detection_id TEXT PRIMARY KEY,
	timestamp    INTEGER NOT NULL,
	url          TEXT NOT NULL,
	label        TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	reasons      TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_detections_time ON detections(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_detections_url ON detections(url, timestamp DESC);
`

// Detection is one journaled non-good verdict.
type Detection struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	URL        string         `json:"url"`
	Label      classify.Label `json:"prediction"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	URL   string
	Label classify.Label
	Since time.Time
	Limit int // default 100
}

// Journal appends detections to SQLite. RecordAsync buffers writes and a
// background goroutine flushes them in batches.
type Journal struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan Detection
	stop   chan struct{}
	done   chan struct{}

	// mu orders queueing against Close: nothing is queued once closed is set.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets a custom logger.
func WithJournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) { j.logger = l }
}

// WithJournalIDGenerator sets the generator for detection IDs.
func WithJournalIDGenerator(gen idgen.Generator) JournalOption {
	return func(j *Journal) { j.newID = gen }
}

// NewJournal creates the detections table if needed and starts the flush
// goroutine. Call Close to drain it.
func NewJournal(db *sql.DB, bufferSize int, opts ...JournalOption) (*Journal, error) {
	if _, err := db.Exec(JournalSchema); err != nil {
		return nil, fmt.Errorf("status: journal schema: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	j := &Journal{
		db:     db,
		newID:  idgen.Prefixed("det_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan Detection, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	go j.flushLoop()
	return j, nil
}

// FromVerdict builds a Detection for pageURL. It reports false for good
// verdicts, which are not journaled.
func FromVerdict(pageURL string, v classify.Verdict) (Detection, bool) {
	if v.Label == classify.LabelGood {
		return Detection{}, false
	}
	d := Detection{
		URL:        pageURL,
		Label:      v.Label,
		Confidence: float64(v.Confidence),
		Reasons:    v.Reasons,
	}
	if v.Label == classify.LabelError && v.Error != "" {
		d.Reasons = []string{v.Error}
	}
	return d, true
}

// Record inserts d synchronously.
func (j *Journal) Record(ctx context.Context, d Detection) error {
	j.fillDefaults(&d)
	return j.insert(ctx, j.db, []Detection{d})
}

// RecordAsync queues d. Falls back to a synchronous insert when the buffer
// is full or the journal is closed.
func (j *Journal) RecordAsync(d Detection) {
	j.fillDefaults(&d)

	j.mu.RLock()
	closed := j.closed
	if !closed {
		select {
		case j.ch <- d:
			j.mu.RUnlock()
			return
		default:
		}
	}
	j.mu.RUnlock()

	if closed {
		j.logger.Warn("status: journal closed, sync insert", "url", d.URL)
	} else {
		j.logger.Warn("status: journal buffer full, sync fallback", "url", d.URL)
	}
	if err := j.insert(context.Background(), j.db, []Detection{d}); err != nil {
		j.logger.Error("status: journal sync insert failed", "id", d.ID, "url", d.URL, "error", err)
	}
}

// List returns detections newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Detection, error) {
	q := `SELECT detection_id, timestamp, url, label, confidence, reasons
		FROM detections WHERE 1=1`
	var args []any
	if f.URL != "" {
		q += " AND url = ?"
		args = append(args, f.URL)
	}
	if f.Label != "" {
		q += " AND label = ?"
		args = append(args, string(f.Label))
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, detection_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("status: list detections: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		var ts int64
		var label, reasons string
		if err := rows.Scan(&d.ID, &ts, &d.URL, &label, &d.Confidence, &reasons); err != nil {
			return nil, fmt.Errorf("status: scan detection: %w", err)
		}
		d.Timestamp = time.UnixMilli(ts)
		d.Label = classify.Label(label)
		if err := json.Unmarshal([]byte(reasons), &d.Reasons); err != nil {
			j.logger.Warn("status: bad reasons column", "id", d.ID, "error", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close drains the buffer and stops the flush goroutine. It is safe to
// call more than once.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()
		close(j.stop)
		<-j.done
	})
	return nil
}

func (j *Journal) fillDefaults(d *Detection) {
	if d.ID == "" {
		d.ID = j.newID()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (j *Journal) insert(ctx context.Context, db execer, batch []Detection) error {
	for _, d := range batch {
		reasons, err := json.Marshal(d.Reasons)
		if err != nil {
			return fmt.Errorf("status: encode reasons: %w", err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO detections
			(detection_id, timestamp, url, label, confidence, reasons)
			VALUES (?, ?, ?, ?, ?, ?)`,
			d.ID, d.Timestamp.UnixMilli(), d.URL, string(d.Label), d.Confidence, string(reasons),
		); err != nil {
			return fmt.Errorf("status: insert detection %s: %w", d.ID, err)
		}
	}
	return nil
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]Detection, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			j.logger.Error("status: journal begin tx", "error", err)
			return
		}
		if err := j.insert(ctx, tx, batch); err != nil {
			tx.Rollback()
			j.logger.Error("status: journal flush", "error", err, "dropped", len(batch))
			batch = batch[:0]
			return
		}
		if err := tx.Commit(); err != nil {
			j.logger.Error("status: journal commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case d := <-j.ch:
			batch = append(batch, d)
			if len(batch) >= cap(batch) {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stop:
			for {
				select {
				case d := <-j.ch:
					batch = append(batch, d)
				default:
					flush()
					return
				}
			}
		}
	}
}
