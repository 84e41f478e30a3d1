package service

import (
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Лимиты очистки входящих событий
const (
	MaxStringRunes = 1000
	MaxDepth       = 8
	MaxKeys        = 100
)

// SanitizeObject возвращает очищенную копию объекта (payload вебхука): из строк
// вырезаются теги и содержимое script/style, строки обрезаются, вложенность
// и число ключей ограничены. Значения глубже MaxDepth отбрасываются.
func SanitizeObject(m map[string]any) map[string]any {
	out, ok := sanitize(m, 0)
	if !ok {
		return map[string]any{}
	}
	return out.(map[string]any)
}

func sanitize(v any, depth int) (any, bool) {
	switch t := v.(type) {
	case string:
		return SanitizeString(t), true
	case map[string]any:
		if depth >= MaxDepth {
			return nil, false
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		// Детерминированно: при обрезке остаются первые MaxKeys ключей по алфавиту
		sort.Strings(keys)
		out := make(map[string]any, min(len(keys), MaxKeys))
		for _, k := range keys {
			if len(out) >= MaxKeys {
				break
			}
			clean := SanitizeString(k)
			if clean == "" {
				continue
			}
			if cv, ok := sanitize(t[k], depth+1); ok {
				out[clean] = cv
			}
		}
		return out, true
	case []any:
		if depth >= MaxDepth {
			return nil, false
		}
		out := make([]any, 0, min(len(t), MaxKeys))
		for _, item := range t {
			if len(out) >= MaxKeys {
				break
			}
			if cv, ok := sanitize(item, depth+1); ok {
				out = append(out, cv)
			}
		}
		return out, true
	case float64, bool, nil:
		return t, true
	default:
		return nil, false
	}
}

// SanitizeString оставляет только текст: теги убираются, содержимое script/style
// выбрасывается целиком, HTML-сущности раскрываются.
func SanitizeString(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = stripTags(s)
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxStringRunes {
		s = string([]rune(s)[:MaxStringRunes])
	}
	return s
}

// maxStripPasses ограничивает повторную очистку многократно закодированной разметки.
const maxStripPasses = 4

// stripTags повторяет разбор, пока раскрытые сущности дают новую разметку:
// "&lt;script&gt;" после первого прохода становится тегом и вырезается вторым.
// Если разметка не сошлась за maxStripPasses, остаток экранируется.
func stripTags(s string) string {
	for i := 0; i < maxStripPasses; i++ {
		next := stripOnce(s)
		if next == s || !strings.ContainsAny(next, "<&") {
			return next
		}
		s = next
	}
	if strings.ContainsAny(s, "<>") {
		return html.EscapeString(s)
	}
	return s
}

func stripOnce(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0 // Глубина внутри script/style

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF или битая разметка: отдаем то, что успели собрать
			return b.String()
		case html.StartTagToken:
			if isRawText(z) {
				skip++
			}
		case html.EndTagToken:
			if isRawText(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawText(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	tag := string(name)
	return tag == "script" || tag == "style"
}
