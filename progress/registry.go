package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageValidating   Stage = "validating"
	StagePolicyCheck  Stage = "policy_check"
	StageAcquiring    Stage = "acquiring"
	StageTranscribing Stage = "transcribing"
	StageFinalizing   Stage = "finalizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Event is one step of one extraction run.
type Event struct {
	ExtractionID uuid.UUID `json:"extraction_id"`
	Stage        Stage     `json:"stage"`
	Detail       string    `json:"detail,omitempty"`
	ETASeconds   float64   `json:"eta_seconds,omitempty"`
	At           time.Time `json:"at"`
}

const subscriberBuffer = 16

// Registry fans extraction events out to whoever registered for the run.
// Publishing never blocks, a slow subscriber loses events instead.
type Registry struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[int]chan Event
	next int
}

func NewRegistry() *Registry {
	return &Registry{
		subs: map[uuid.UUID]map[int]chan Event{},
	}
}

// Register subscribes to the events of one extraction. The cancel func
// removes the subscription and closes the channel, calling it more than
// once is fine.
func (r *Registry) Register(id uuid.UUID) (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if r.subs[id] == nil {
		r.subs[id] = map[int]chan Event{}
	}
	key := r.next
	r.next++
	r.subs[id][key] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			delete(r.subs[id], key)
			if len(r.subs[id]) == 0 {
				delete(r.subs, id)
			}
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers the event to all current subscribers of its run.
func (r *Registry) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs[ev.ExtractionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
