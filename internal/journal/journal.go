// Package journal 把 tracker 输出事件写入 SQLite（modernc 纯 Go 驱动），供复盘与 UI 查询。
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/ports"
)

var log = logrus.WithField("component", "journal")

// Config 事件日志配置。
type Config struct {
	Path          string
	Symbol        string
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Buffer <= 0 {
		c.Buffer = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
}

// Record 一条已持久化的事件。
type Record struct {
	ID      int64           `json:"id"`
	Symbol  string          `json:"symbol"`
	Kind    events.Kind     `json:"kind"`
	At      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type pending struct {
	kind    events.Kind
	at      time.Time
	payload []byte
}

// Journal 实现 ports.EventSink：Publish 只入队，后台 goroutine 批量写库。
type Journal struct {
	cfg Config
	db  *sql.DB

	queue   chan pending
	flushC  chan chan struct{}
	stopC   chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	written atomic.Int64
}

var _ ports.EventSink = (*Journal)(nil)

// Open 打开（或创建）数据库并启动写入 goroutine。
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal: path is required")
	}
	cfg.applyDefaults()
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "mkdir journal dir")
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{
		cfg:    cfg,
		db:     db,
		queue:  make(chan pending, cfg.Buffer),
		flushC: make(chan chan struct{}),
		stopC:  make(chan struct{}),
	}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	j.wg.Add(1)
	go j.writer()
	log.Infof("📒 [journal] 已打开: %s", cfg.Path)
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  kind TEXT NOT NULL,
  ts INTEGER NOT NULL,
  payload TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_ts ON events(kind, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %s", stmt)
		}
	}
	return nil
}

// Publish 非阻塞：队列满时丢弃并计数。
func (j *Journal) Publish(ev events.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).Warnf("⚠️ [journal] 事件序列化失败: %s", ev.EventKind())
		return
	}
	at := ev.EventTime()
	if at.IsZero() {
		at = time.Now()
	}
	select {
	case j.queue <- pending{kind: ev.EventKind(), at: at, payload: b}:
	default:
		if n := j.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Warnf("⚠️ [journal] 写入队列已满，丢弃事件: total_dropped=%d", n)
		}
	}
}

// Dropped 因队列满被丢弃的事件数。
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Written 已写库的事件数。
func (j *Journal) Written() int64 { return j.written.Load() }

// Flush 等待当前队列中的事件写库。
func (j *Journal) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case j.flushC <- done:
	case <-j.stopC:
		return errors.New("journal closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 写完剩余事件后关闭数据库。
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		close(j.stopC)
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}

func (j *Journal) writer() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]pending, 0, j.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.insert(batch); err != nil {
			log.WithError(err).Errorf("❌ [journal] 写入失败，丢弃 %d 条事件", len(batch))
		} else {
			j.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case p := <-j.queue:
				batch = append(batch, p)
				if len(batch) >= j.cfg.BatchSize {
					flush()
				}
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case p := <-j.queue:
			batch = append(batch, p)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case done := <-j.flushC:
			drain()
			close(done)
		case <-j.stopC:
			drain()
			return
		}
	}
}

func (j *Journal) insert(batch []pending) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events(symbol, kind, ts, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()
	for _, p := range batch {
		if _, err := stmt.ExecContext(ctx, j.cfg.Symbol, string(p.kind), p.at.UnixNano(), string(p.payload)); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "insert")
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Recent 最近 limit 条事件（新到旧）；kind 为空表示全部类型。
func (j *Journal) Recent(ctx context.Context, kind events.Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, symbol, kind, ts, payload FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			k       string
			ts      int64
			payload string
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &k, &ts, &payload); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		r.Kind = events.Kind(k)
		r.At = time.Unix(0, ts)
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate events")
}

// CountByKind 各类型事件数量。
func (j *Journal) CountByKind(ctx context.Context) (map[events.Kind]int64, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, errors.Wrap(err, "count events")
	}
	defer rows.Close()
	out := make(map[events.Kind]int64)
	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		out[events.Kind(k)] = n
	}
	return out, errors.Wrap(rows.Err(), "iterate counts")
}
