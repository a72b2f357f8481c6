package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// ErrMalformedAnnouncement is returned when an announcement cannot be decoded.
var ErrMalformedAnnouncement = errors.New("discovery: malformed announcement")

// Announcement is what a device publishes about itself.
type Announcement struct {
	ID         string       `json:"id"`
	Name       string       `json:"name,omitempty"`
	Model      device.Model `json:"model"`
	Role       device.Role  `json:"role"`
	Capability string       `json:"capability"`
	Address    string       `json:"address"`
	TTL        Millis       `json:"ttl_ms"`
	SentAt     time.Time    `json:"sent_at"`
	Leaving    bool         `json:"leaving,omitempty"`
}

// Millis is a duration encoded as integer milliseconds.
type Millis time.Duration

// MarshalJSON implements json.Marshaler.
func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(m).Milliseconds())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Millis) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*m = Millis(time.Duration(ms) * time.Millisecond)
	return nil
}

// NewAnnouncement builds the announcement for desc reachable at addr.
func NewAnnouncement(desc device.Description, addr string, ttl time.Duration) Announcement {
	return Announcement{
		ID:         desc.ID,
		Name:       desc.Name,
		Model:      desc.Model,
		Role:       desc.Role,
		Capability: desc.Capability.Format(desc.Role),
		Address:    addr,
		TTL:        Millis(ttl),
	}
}

// Key returns the registry key the announcement refers to.
func (a Announcement) Key() device.Key {
	return device.Key{ID: a.ID, Role: a.Role}
}

// Record converts the announcement into a validated registry record.
func (a Announcement) Record() (device.Record, error) {
	capability, err := device.ParseCapability(a.Role, a.Capability)
	if err != nil {
		return device.Record{}, err
	}
	rec := device.Record{
		Description: device.Description{
			ID:         a.ID,
			Name:       a.Name,
			Model:      a.Model,
			Role:       a.Role,
			Capability: capability,
		},
		Address:  a.Address,
		LastSeen: a.SentAt,
	}
	if err := device.ValidateRecord(rec); err != nil {
		return device.Record{}, err
	}
	return rec, nil
}

// Expired reports whether a retained or delayed announcement is older than
// its own TTL at now. Announcements without a timestamp never expire here.
func (a Announcement) Expired(now time.Time) bool {
	if a.SentAt.IsZero() || a.TTL <= 0 {
		return false
	}
	return now.Sub(a.SentAt) > time.Duration(a.TTL)
}

// Encode serialises the announcement.
func (a Announcement) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// Decode parses a serialised announcement.
func Decode(b []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(b, &a); err != nil {
		return Announcement{}, fmt.Errorf("%w: %w", ErrMalformedAnnouncement, err)
	}
	if a.ID == "" || a.Role == "" {
		return Announcement{}, fmt.Errorf("%w: id and role are required", ErrMalformedAnnouncement)
	}
	return a, nil
}
