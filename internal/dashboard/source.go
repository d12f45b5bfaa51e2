// Package dashboard 只读终端看板：轮询持久化快照与事件日志，用 bubbletea 渲染。
package dashboard

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/journal"
	"github.com/betbot/unitgrid/internal/tracker"
	"github.com/betbot/unitgrid/pkg/persistence"
)

var log = logrus.WithField("component", "dashboard")

// View 一次刷新得到的全部数据。
type View struct {
	Snapshot    tracker.Snapshot
	HasSnapshot bool
	Events      []journal.Record
	Counts      map[events.Kind]int64
	LoadedAt    time.Time
}

// Loader 看板数据源。
type Loader interface {
	Load(ctx context.Context) (View, error)
}

// EventReader journal.Journal 的只读子集。
type EventReader interface {
	Recent(ctx context.Context, kind events.Kind, limit int) ([]journal.Record, error)
	CountByKind(ctx context.Context) (map[events.Kind]int64, error)
}

// Source 从快照 Store 与（可选的）事件日志读取。
type Source struct {
	Store       persistence.Store
	Events      EventReader
	EventsLimit int
}

var _ Loader = (*Source)(nil)

// Load 快照不存在时返回 HasSnapshot=false，不算错误。
func (s *Source) Load(ctx context.Context) (View, error) {
	v := View{LoadedAt: time.Now()}
	if s.Store != nil {
		var snap tracker.Snapshot
		err := s.Store.Load(&snap)
		switch {
		case err == nil:
			v.Snapshot = snap
			v.HasSnapshot = true
		case persistence.IsNotExists(err):
		default:
			return v, errors.Wrapf(err, "load snapshot %s", s.Store.Key())
		}
	}
	if s.Events != nil {
		limit := s.EventsLimit
		if limit <= 0 {
			limit = 12
		}
		recs, err := s.Events.Recent(ctx, "", limit)
		if err != nil {
			return v, err
		}
		v.Events = recs
		counts, err := s.Events.CountByKind(ctx)
		if err != nil {
			return v, err
		}
		v.Counts = counts
	}
	return v, nil
}
