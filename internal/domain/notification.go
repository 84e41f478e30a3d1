package domain

import "time"

type NotificationKind string

const (
	NotificationDecision NotificationKind = "decision"
	NotificationIssue    NotificationKind = "issue"
)

// Notification: то, что движок отдает в Notification Sink.
// Ровно одно из полей Decision/Issue заполнено.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Decision *Decision        `json:"decision,omitempty"`
	Issue    *Issue           `json:"issue,omitempty"`
}

func DecisionNotification(d Decision) Notification {
	return Notification{Kind: NotificationDecision, Decision: &d}
}

func IssueNotification(i Issue) Notification {
	return Notification{Kind: NotificationIssue, Issue: &i}
}

func (n Notification) Domain() string {
	switch {
	case n.Decision != nil:
		return n.Decision.Domain
	case n.Issue != nil:
		return n.Issue.Domain
	}
	return ""
}

func (n Notification) Timestamp() time.Time {
	switch {
	case n.Decision != nil:
		return n.Decision.Timestamp
	case n.Issue != nil:
		return n.Issue.Timestamp
	}
	return time.Time{}
}
