package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/store"
)

// Frame types pushed to subscribers.
const (
	TypeConnected = "connected"
	TypePong      = "pong"
	TypeStatus    = "status"
	TypeCompleted = "completed"
	TypeError     = "error"
)

// Envelope is one push frame. Type is always present, the rest is filled per
// frame kind. Completed frames carry the whole record so subscribers don't
// have to refetch it.
type Envelope struct {
	Type          string               `json:"type"`
	ID            string               `json:"id,omitempty"`
	Status        store.Status         `json:"status,omitempty"`
	Progress      *int                 `json:"progress,omitempty"`
	Error         string               `json:"error,omitempty"`
	Transcription *store.Transcription `json:"transcription,omitempty"`
}

// RecordSource hands subscribe commands the current state of one record.
// (nil, nil) means the record does not exist.
type RecordSource interface {
	Get(id string) (*store.Transcription, error)
}

type directMessage struct {
	client  *client
	payload []byte
}

// Hub fans transcription lifecycle frames out to websocket subscribers. All
// client set mutation happens on the Run goroutine; the channels are the only
// way in.
type Hub struct {
	records    RecordSource
	clients    map[*client]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

func NewHub(records RecordSource) *Hub {
	return &Hub{
		records:    records,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		direct:     make(chan directMessage, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run loops until ctx is cancelled, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				if c.conn != nil {
					_ = c.conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(2*time.Second),
					)
				}
				close(c.send)
				delete(h.clients, c)
			}
			h.setSubscriberGauge()
			log.LogNoRequestID("push hub stopped, all subscribers disconnected")
			return nil
		case c := <-h.register:
			h.clients[c] = true
			h.setSubscriberGauge()
			log.LogNoRequestID("push subscriber connected", "total", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setSubscriberGauge()
				log.LogNoRequestID("push subscriber disconnected", "total", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// subscriber can't keep up, evict it
					close(c.send)
					delete(h.clients, c)
					h.setSubscriberGauge()
				}
			}
		case dm := <-h.direct:
			if !h.clients[dm.client] {
				continue
			}
			select {
			case dm.client.send <- dm.payload:
			default:
				close(dm.client.send)
				delete(h.clients, dm.client)
				h.setSubscriberGauge()
			}
		}
	}
}

func (h *Hub) setSubscriberGauge() {
	metrics.Metrics.PushSubscribers.Set(float64(len(h.clients)))
}

// BroadcastStatus pushes a status frame. errorMessage is only set on failed
// transitions.
func (h *Hub) BroadcastStatus(id string, status store.Status, progress int, errorMessage string) {
	h.send(Envelope{Type: TypeStatus, ID: id, Status: status, Progress: &progress, Error: errorMessage})
}

// BroadcastCompleted pushes the full record after a successful run.
func (h *Hub) BroadcastCompleted(t *store.Transcription) {
	h.send(Envelope{Type: TypeCompleted, ID: t.ID, Transcription: t})
}

// BroadcastError pushes a terminal failure frame.
func (h *Hub) BroadcastError(id string, errorMessage string) {
	h.send(Envelope{Type: TypeError, ID: id, Error: errorMessage})
}

func (h *Hub) send(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.LogNoRequestID("error marshalling push frame", "type", env.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// broadcast queue full, drop this frame
	}
}

// currentStatus builds the reply to a subscribe command.
func (h *Hub) currentStatus(id string) Envelope {
	if id == "" {
		return Envelope{Type: TypeError, Error: "subscribe requires an id"}
	}
	t, err := h.records.Get(id)
	if err != nil {
		log.LogNoRequestID("error loading record for push subscriber", "id", id, "err", err)
		return Envelope{Type: TypeError, ID: id, Error: "internal error"}
	}
	if t == nil {
		return Envelope{Type: TypeError, ID: id, Error: "transcription not found"}
	}
	env := Envelope{Type: TypeStatus, ID: t.ID, Status: t.Status, Progress: &t.Progress}
	if t.ErrorMessage != nil {
		env.Error = *t.ErrorMessage
	}
	return env
}
