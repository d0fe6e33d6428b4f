package monitoring

import (
	"sync"
	"time"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/sim"
)

// A ProgressBar is a tracker of the progress
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// IncrementInProgress adds the number of in-progress element.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// IncrementFinished add a certain amount to finished element.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// SetFinished sets the number of finished elements.
func (b *ProgressBar) SetFinished(finished uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished = finished
}

type progressRsp struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

func (b *ProgressBar) snapshot() progressRsp {
	b.Lock()
	defer b.Unlock()

	return progressRsp{
		ID:         b.ID,
		Name:       b.Name,
		StartTime:  b.StartTime,
		Total:      b.Total,
		Finished:   b.Finished,
		InProgress: b.InProgress,
	}
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.removeBar(pb)
}

func (m *Monitor) removeBar(pb *ProgressBar) {
	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

type transferKey struct {
	session string
	kind    string
	path    string
}

// Watch shows the flashes and dumps of s as progress bars.
func (m *Monitor) Watch(s *access.Server) {
	s.AcceptHook(m)
}

// Func turns transfer progress into progress bars. A bar is removed once its
// transfer is complete.
func (m *Monitor) Func(ctx sim.HookCtx) {
	if ctx.Pos != access.HookPosTransfer {
		return
	}

	p := ctx.Item.(access.TransferProgress)
	key := transferKey{p.SessionID, p.Kind, p.Path}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bar, ok := m.transfers[key]
	if !ok {
		bar = &ProgressBar{
			ID:        sim.GetIDGenerator().Generate(),
			Name:      p.Kind + " " + p.Path,
			StartTime: time.Now(),
			Total:     uint64(p.Total),
		}
		m.transfers[key] = bar
		m.progressBars = append(m.progressBars, bar)
	}

	bar.SetFinished(uint64(p.Done))

	if p.Done >= p.Total {
		delete(m.transfers, key)
		m.removeBar(bar)
	}
}
