// Package issuelog реализует ограниченный по емкости журнал событий домена.
//
// Журнал append-only: записи не изменяются на месте (кроме явной замены решения
// при фиксации исхода), при переполнении вытесняется самая старая запись (FIFO),
// записи старше окна хранения отбрасываются при следующей вставке.
// Чтение всегда отдает копию, ссылки на внутренний буфер наружу не утекают.
package issuelog

import (
	"sync"
	"time"
)

// DefaultCapacity: емкость журнала домена по умолчанию.
const DefaultCapacity = 100

// Entry: любая запись с временем события.
type Entry interface {
	EventTime() time.Time
}

type Log[T Entry] struct {
	mu        sync.RWMutex
	buf       []T // Кольцевой буфер
	head      int // Индекс самой старой записи
	size      int
	retention time.Duration
}

// New создает журнал. capacity <= 0 заменяется на DefaultCapacity, retention == 0 — без срока хранения.
func New[T Entry](capacity int, retention time.Duration) *Log[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log[T]{
		buf:       make([]T, capacity),
		retention: retention,
	}
}

// Append добавляет запись и возвращает число вытесненных записей.
func (l *Log[T]) Append(e T) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := l.pruneLocked(e.EventTime())

	if l.size == len(l.buf) {
		// FIFO: затираем самую старую
		var zero T
		l.buf[l.head] = zero
		l.head = (l.head + 1) % len(l.buf)
		l.size--
		evicted++
	}
	l.buf[(l.head+l.size)%len(l.buf)] = e
	l.size++
	return evicted
}

func (l *Log[T]) pruneLocked(now time.Time) int {
	if l.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-l.retention)
	dropped := 0
	var zero T
	for l.size > 0 && l.buf[l.head].EventTime().Before(cutoff) {
		l.buf[l.head] = zero
		l.head = (l.head + 1) % len(l.buf)
		l.size--
		dropped++
	}
	return dropped
}

// Snapshot возвращает копию записей от старых к новым.
func (l *Log[T]) Snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.buf[(l.head+i)%len(l.buf)])
	}
	return out
}

// Filter: чистый фильтр поверх копии, журнал не меняется.
func (l *Log[T]) Filter(keep func(T) bool) []T {
	all := l.Snapshot()
	out := all[:0]
	for _, e := range all {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Find ищет запись от новых к старым.
func (l *Log[T]) Find(match func(T) bool) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := l.size - 1; i >= 0; i-- {
		e := l.buf[(l.head+i)%len(l.buf)]
		if match(e) {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// Replace атомарно заменяет первую (от новых) подходящую запись результатом update.
// Позиция записи в журнале сохраняется. Ошибка update возвращается без изменений журнала.
func (l *Log[T]) Replace(match func(T) bool, update func(T) (T, error)) (T, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := l.size - 1; i >= 0; i-- {
		idx := (l.head + i) % len(l.buf)
		if !match(l.buf[idx]) {
			continue
		}
		next, err := update(l.buf[idx])
		if err != nil {
			return l.buf[idx], true, err
		}
		l.buf[idx] = next
		return next, true, nil
	}
	var zero T
	return zero, false, nil
}

func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func (l *Log[T]) Capacity() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Reconfigure меняет емкость и срок хранения, сохраняя самые свежие записи.
func (l *Log[T]) Reconfigure(capacity int, retention time.Duration) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.retention = retention
	if capacity == len(l.buf) {
		return
	}

	keep := l.size
	if keep > capacity {
		keep = capacity
	}
	next := make([]T, capacity)
	start := l.size - keep
	for i := 0; i < keep; i++ {
		next[i] = l.buf[(l.head+start+i)%len(l.buf)]
	}
	l.buf = next
	l.head = 0
	l.size = keep
}
