package domain

import "time"

// WebhookDomain: домен, под которым записываются входящие события apex-empire.
const WebhookDomain = "apex-empire"

// WebhookEvent: принятое и очищенное входящее событие.
type WebhookEvent struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
}

// AsDecision превращает событие в запись, эквивалентную решению.
func (e WebhookEvent) AsDecision() Decision {
	params := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		params[k] = v
	}
	params["event"] = e.Event
	return Decision{
		ID:         e.ID,
		Timestamp:  e.ReceivedAt,
		Domain:     WebhookDomain,
		RuleID:     "webhook:" + e.Event,
		Snapshot:   NewSnapshot(WebhookDomain, e.ReceivedAt, map[string]any{"event": e.Event}),
		Action:     Action{Kind: ActionNotify, Params: params},
		Confidence: 1,
		Outcome:    OutcomePending,
	}
}
