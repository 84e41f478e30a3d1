package domain

import (
	"encoding/json"
	"time"
)

// Snapshot: мгновенный срез сигналов одного домена (например {"trend": "increasing", "stock_level": 7}).
// После создания не изменяется: все методы возвращают копии.
type Snapshot struct {
	Domain  string
	TakenAt time.Time
	// Quality: оценка качества данных от источника [0..1]
	Quality float64
	values  map[string]any
}

// NewSnapshot нормализует значения: числа приводятся к float64,
// строки и bool сохраняются, остальные типы отбрасываются.
func NewSnapshot(domain string, takenAt time.Time, values map[string]any) Snapshot {
	norm := make(map[string]any, len(values))
	for k, v := range values {
		if nv, ok := normalizeValue(v); ok {
			norm[k] = nv
		}
	}
	return Snapshot{Domain: domain, TakenAt: takenAt, Quality: 1, values: norm}
}

func normalizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return t, true
	case bool:
		return t, true
	default:
		return nil, false
	}
}

// WithQuality возвращает копию с ограниченным в [0,1] качеством данных.
func (s Snapshot) WithQuality(q float64) Snapshot {
	s.Quality = Clamp01(q)
	return s
}

// WithTakenAt возвращает копию с другим временем съема.
func (s Snapshot) WithTakenAt(t time.Time) Snapshot {
	s.TakenAt = t
	return s
}

func (s Snapshot) Value(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Number возвращает числовой сигнал. bool трактуется как 0/1.
func (s Snapshot) Number(key string) (float64, bool) {
	switch v := s.values[key].(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Label возвращает категориальный (строковый) сигнал.
func (s Snapshot) Label(key string) (string, bool) {
	v, ok := s.values[key].(string)
	return v, ok
}

// Values отдает копию карты сигналов.
func (s Snapshot) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s Snapshot) Len() int { return len(s.values) }

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Domain  string         `json:"domain"`
		TakenAt time.Time      `json:"taken_at"`
		Quality float64        `json:"quality"`
		Values  map[string]any `json:"values"`
	}{s.Domain, s.TakenAt, s.Quality, s.values})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Domain  string         `json:"domain"`
		TakenAt time.Time      `json:"taken_at"`
		Quality float64        `json:"quality"`
		Values  map[string]any `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSnapshot(raw.Domain, raw.TakenAt, raw.Values).WithQuality(raw.Quality)
	return nil
}

// Clamp01 ограничивает значение отрезком [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
