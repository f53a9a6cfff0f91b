// Package chat carries room chat and direct messages over the realtime
// session.
package chat

import (
	"github.com/mcdev12/studybuddy/go/internal/realtime"
)

// Transport is the part of realtime.Session chat needs.
type Transport interface {
	Subscribe(topic string, handler realtime.Handler) *realtime.Subscription
	Send(topic string, payload any)
	ReportMalformed(topic string, err error)
}
