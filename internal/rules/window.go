package rules

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// window: разобранное окно. start/end в минутах от полуночи.
type window struct {
	start, end int
	days       map[time.Weekday]bool // nil — каждый день
	loc        *time.Location
}

func parseWindow(w domain.TimeWindow) (window, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return window{}, fmt.Errorf("window start: %w", err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return window{}, fmt.Errorf("window end: %w", err)
	}
	if start == end {
		return window{}, fmt.Errorf("window start and end must differ")
	}

	loc := time.UTC
	if w.Location != "" {
		if loc, err = time.LoadLocation(w.Location); err != nil {
			return window{}, fmt.Errorf("window location: %w", err)
		}
	}

	var days map[time.Weekday]bool
	if len(w.Days) > 0 {
		days = make(map[time.Weekday]bool, len(w.Days))
		for _, d := range w.Days {
			name := strings.ToLower(strings.TrimSpace(d))
			if len(name) > 3 {
				name = name[:3] // "monday" -> "mon"
			}
			wd, ok := weekdays[name]
			if !ok {
				return window{}, fmt.Errorf("unknown weekday %q", d)
			}
			days[wd] = true
		}
	}

	return window{start: start, end: end, days: days, loc: loc}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// contains: попадает ли момент в окно [start, end). Окно через полночь
// (22:00-02:00) относится к дню своего начала.
func (w window) contains(t time.Time) bool {
	local := t.In(w.loc)
	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	if w.start < w.end {
		return minute >= w.start && minute < w.end && w.dayAllowed(day)
	}
	if minute >= w.start {
		return w.dayAllowed(day)
	}
	if minute < w.end {
		return w.dayAllowed((day + 6) % 7) // Хвост окна после полуночи — вчерашний день
	}
	return false
}

func (w window) dayAllowed(d time.Weekday) bool {
	return w.days == nil || w.days[d]
}

type windowCache struct {
	mu    sync.RWMutex
	items map[string]window
}

func newWindowCache() *windowCache {
	return &windowCache{items: make(map[string]window)}
}

func (c *windowCache) get(w domain.TimeWindow) (window, error) {
	key := w.Start + "|" + w.End + "|" + strings.Join(w.Days, ",") + "|" + w.Location

	c.mu.RLock()
	cached, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	parsed, err := parseWindow(w)
	if err != nil {
		return window{}, err
	}
	c.mu.Lock()
	c.items[key] = parsed
	c.mu.Unlock()
	return parsed, nil
}
