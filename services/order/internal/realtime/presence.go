package realtime

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// PresenceUpdate is the payload broadcast on presence subjects.
type PresenceUpdate struct {
	ClientID string      `json:"client_id"`
	Data     interface{} `json:"data,omitempty"`
	At       time.Time   `json:"at"`
}

// Presence keeps the last update seen per client. Entries older than the
// ttl are treated as gone.
type Presence struct {
	mu      sync.RWMutex
	clients map[string]PresenceUpdate
	ttl     time.Duration
	now     func() time.Time
}

const DefaultPresenceTTL = 2 * time.Minute

func NewPresence() *Presence {
	return &Presence{
		clients: make(map[string]PresenceUpdate),
		ttl:     DefaultPresenceTTL,
		now:     time.Now,
	}
}

func (p *Presence) ingest(data []byte) error {
	var update PresenceUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return err
	}
	if update.ClientID == "" {
		return errors.New("presence without client id")
	}
	if update.At.IsZero() {
		update.At = p.now().UTC()
	}

	p.mu.Lock()
	p.clients[update.ClientID] = update
	p.mu.Unlock()
	return nil
}

// Online lists clients seen within the ttl, ordered by client id.
func (p *Presence) Online() []PresenceUpdate {
	cutoff := p.now().Add(-p.ttl)

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PresenceUpdate, 0, len(p.clients))
	for id, update := range p.clients {
		if update.At.Before(cutoff) {
			delete(p.clients, id)
			continue
		}
		out = append(out, update)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
