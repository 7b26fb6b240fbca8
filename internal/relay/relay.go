// Package relay fans a newly stored message out to the session's
// currently-connected participants. Participants without a live connection
// are not queued: they get the message on their next history fetch, and the
// external push collaborator is nudged so they hear about it.
package relay

import (
	"log"
	"time"

	"github.com/linkup/social-core/internal/chat"
	"github.com/linkup/social-core/internal/metrics"
	"github.com/linkup/social-core/internal/presence"
	"github.com/linkup/social-core/internal/protocol"
)

// Resolver is the read side of the connection registry.
type Resolver interface {
	Resolve(userID string) (presence.Handle, bool)
}

// Notifier hands offline participants to the external push service.
// May be nil when push hand-off is disabled.
type Notifier interface {
	PublishPushNotify(userID string, data []byte) error
}

// Relay delivers stored messages over live connections.
type Relay struct {
	registry Resolver
	notifier Notifier
}

// New creates a Relay. notifier may be nil.
func New(registry Resolver, notifier Notifier) *Relay {
	return &Relay{registry: registry, notifier: notifier}
}

// Deliver pushes msg to every currently-connected participant of session,
// with one deliberate exception: the sender is skipped, because the submit
// path already returned the stored message to them and a push here would
// arrive as a duplicate. It returns the user IDs that received a live push.
// Write failures on individual connections are logged and skipped; the dead
// connection is reaped by the heartbeat, not here.
func (r *Relay) Deliver(session *chat.Session, msg *chat.Message) []string {
	start := time.Now()

	frame, err := protocol.NewServerMessage(protocol.TypeMessageEvent, protocol.MessageEventMsg{
		SessionID: msg.SessionID,
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Body:      msg.Body,
		MediaRef:  msg.MediaRef,
		Kind:      string(msg.Kind),
		Seq:       msg.Seq,
		Ts:        msg.CreatedAt.Unix(),
	})
	if err != nil {
		log.Printf("[relay] encode message %s: %v", msg.ID, err)
		return nil
	}

	notified := make([]string, 0, len(session.Participants))
	for _, userID := range session.Participants {
		if userID == msg.Sender {
			continue
		}

		handle, ok := r.registry.Resolve(userID)
		if !ok {
			metrics.MessagesRelayed.WithLabelValues("offline").Inc()
			if r.notifier != nil {
				if err := r.notifier.PublishPushNotify(userID, frame); err != nil {
					log.Printf("[relay] push notify user=%s: %v", userID, err)
				}
			}
			continue
		}

		if err := handle.Send(frame); err != nil {
			log.Printf("[relay] push to user=%s failed: %v", userID, err)
			continue
		}
		metrics.MessagesRelayed.WithLabelValues("pushed").Inc()
		notified = append(notified, userID)
	}

	metrics.RelayLatency.Observe(time.Since(start).Seconds())
	return notified
}
