package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
)

// maxResponseBytes: предел тела ответа источника
const maxResponseBytes = 1 << 20

// HTTPSource забирает срез JSON-объектом у backend-функции дашборда.
// Ожидаемый формат: {"signals": {...}, "quality": 0.9, "taken_at": "..."} или плоский объект сигналов.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

type httpSnapshot struct {
	Signals map[string]any `json:"signals"`
	Quality *float64       `json:"quality"`
	TakenAt time.Time      `json:"taken_at"`
}

func (s *HTTPSource) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("http source: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("http source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Snapshot{}, fmt.Errorf("http source: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("http source: read body: %w", err)
	}
	return decodeSnapshot(body)
}

func decodeSnapshot(body []byte) (domain.Snapshot, error) {
	var wrapped httpSnapshot
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return domain.Snapshot{}, fmt.Errorf("http source: decode: %w", err)
	}

	values := wrapped.Signals
	if values == nil {
		// Плоский объект: все поля — сигналы
		if err := json.Unmarshal(body, &values); err != nil {
			return domain.Snapshot{}, fmt.Errorf("http source: decode: %w", err)
		}
		delete(values, "quality")
		delete(values, "taken_at")
	}

	snap := domain.NewSnapshot("", wrapped.TakenAt, values)
	if wrapped.Quality != nil {
		snap = snap.WithQuality(*wrapped.Quality)
	}
	return snap, nil
}
