package wstransport

import (
	"encoding/json"
	"fmt"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/collab"
)

// Hub fans session events out to the websocket streams subscribed to
// each session. It implements collab.Broadcaster; Publish never blocks
// the caller (the registry publishes from inside session actors).
type Hub struct {
	logger core.Logger

	subscribe   chan *client
	unsubscribe chan *client
	broadcast   chan envelope
	quit        chan struct{}

	sessions map[string]map[*client]struct{} // run-loop owned
}

type envelope struct {
	sessionID string
	exclude   string // participant id to skip
	data      []byte
}

// client is one subscription of a connection to a session. It is
// immutable once handed to the hub, so the run loop reads it without
// synchronization; a rejoin subscribes a fresh record.
type client struct {
	sessionID     string
	participantID string
	send          chan []byte
}

var _ collab.Broadcaster = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribe:   make(chan *client),
		unsubscribe: make(chan *client),
		broadcast:   make(chan envelope, 256),
		quit:        make(chan struct{}),
		sessions:    make(map[string]map[*client]struct{}),
	}
}

// Run owns the subscription table; it must be running before any
// connection is handled.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.subscribe:
			clients, ok := h.sessions[c.sessionID]
			if !ok {
				clients = make(map[*client]struct{})
				h.sessions[c.sessionID] = clients
			}
			clients[c] = struct{}{}
		case c := <-h.unsubscribe:
			if clients, ok := h.sessions[c.sessionID]; ok {
				delete(clients, c)
				if len(clients) == 0 {
					delete(h.sessions, c.sessionID)
				}
			}
		case env := <-h.broadcast:
			for c := range h.sessions[env.sessionID] {
				if c.participantID == env.exclude {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					// slow consumer: drop rather than stall the hub
					h.logger.Warn(fmt.Sprintf("dropping event for participant %s in session %s", c.participantID, env.sessionID))
				}
			}
		case <-h.quit:
			return
		}
	}
}

func (h *Hub) Stop() { close(h.quit) }

func (h *Hub) Publish(ev collab.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error(fmt.Sprintf("marshalling %s event: %v", ev.Type, err), err)
		return
	}
	select {
	case h.broadcast <- envelope{sessionID: ev.SessionID, exclude: ev.Exclude, data: data}:
	case <-h.quit:
	}
}
