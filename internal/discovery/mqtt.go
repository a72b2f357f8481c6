package discovery

import (
	"context"
	"sync"

	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/mqtt"
)

// mqttClient is the subset of *mqtt.Client the backend needs.
type mqttClient interface {
	PublishRetained(topic string, payload []byte) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	QoS() byte
}

// MQTT announces with retained messages, one topic per device. A browser
// subscribing late receives every retained announcement at once; an empty
// retained payload is a departure.
type MQTT struct {
	client mqttClient
	topics mqtt.Topics
	logger Logger

	mu     sync.Mutex
	subs   map[string]map[int]chan Announcement
	nextID int
	closed bool
}

// NewMQTT creates the backend on an already connected client.
func NewMQTT(client mqttClient, topicPrefix string, logger Logger) *MQTT {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTT{
		client: client,
		topics: mqtt.Topics{Prefix: topicPrefix},
		logger: logger,
		subs:   make(map[string]map[int]chan Announcement),
	}
}

// Announce implements Backend.
func (m *MQTT) Announce(_ context.Context, a Announcement) error {
	topic := m.topics.Announce(string(a.Role), a.ID)
	if a.Leaving {
		return m.client.ClearRetained(topic)
	}
	payload, err := a.Encode()
	if err != nil {
		return err
	}
	return m.client.PublishRetained(topic, payload)
}

// Browse implements Backend. Browsers sharing a filter share one broker
// subscription; each Browse re-subscribes so the broker replays retained
// announcements to the newcomer.
func (m *MQTT) Browse(ctx context.Context, role device.Role) (<-chan Announcement, error) {
	topic := m.topics.AllAnnouncements()
	if role != "" {
		topic = m.topics.AnnounceRole(string(role))
	}

	out := make(chan Announcement, streamBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrBackendClosed
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[int]chan Announcement)
	}
	id := m.nextID
	m.nextID++
	m.subs[topic][id] = out
	m.mu.Unlock()

	if err := m.client.Subscribe(topic, m.client.QoS(), m.handler(topic)); err != nil {
		m.drop(topic, id)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if m.drop(topic, id) {
			//nolint:errcheck // best effort; the client may already be closed
			m.client.Unsubscribe(topic)
		}
	}()

	return out, nil
}

// Close ends every open stream. The MQTT client is owned by the caller.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for topic, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}

func (m *MQTT) handler(filter string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		role, id, ok := m.topics.ParseAnnounce(topic)
		if !ok {
			return nil
		}

		var a Announcement
		if len(payload) == 0 {
			a = Announcement{ID: id, Role: device.Role(role), Leaving: true}
		} else {
			var err error
			if a, err = Decode(payload); err != nil {
				return err
			}
			// The topic is authoritative for identity.
			a.ID, a.Role = id, device.Role(role)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		for _, ch := range m.subs[filter] {
			if !offer(ch, a) {
				m.logger.Warn("browse stream full, dropping announcement", "device_id", id)
			}
		}
		return nil
	}
}

// drop closes one stream and reports whether it was the last on topic.
func (m *MQTT) drop(topic string, id int) (last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chans, ok := m.subs[topic]
	if !ok {
		return false
	}
	ch, ok := chans[id]
	if !ok {
		return false
	}
	close(ch)
	delete(chans, id)
	if len(chans) == 0 {
		delete(m.subs, topic)
		return true
	}
	return false
}
