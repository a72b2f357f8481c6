package mqtt

import "strings"

// DefaultTopicPrefix roots every fieldmesh topic.
const DefaultTopicPrefix = "fieldmesh"

// Topics builds fieldmesh topic names under Prefix. The zero value uses
// DefaultTopicPrefix.
//
//	topics := mqtt.Topics{}
//	topics.Announce("sensor", "thermo-1")
//	// Returns: "fieldmesh/announce/sensor/thermo-1"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Announce returns the retained announcement topic for one device.
func (t Topics) Announce(role, id string) string {
	return t.prefix() + "/announce/" + role + "/" + id
}

// AnnounceRole matches every announcement for role.
func (t Topics) AnnounceRole(role string) string {
	return t.prefix() + "/announce/" + role + "/+"
}

// AllAnnouncements matches every announcement.
func (t Topics) AllAnnouncements() string {
	return t.prefix() + "/announce/+/+"
}

// Status returns the retained online/offline topic of a client.
func (t Topics) Status(clientID string) string {
	return t.prefix() + "/status/" + clientID
}

// Reading returns the topic the controller mirrors sensor readings to.
func (t Topics) Reading(id string) string {
	return t.prefix() + "/reading/" + id
}

// CommandLog returns the topic the controller mirrors dispatched commands to.
func (t Topics) CommandLog(id string) string {
	return t.prefix() + "/command/" + id
}

// ParseAnnounce extracts role and id from an announcement topic.
func (t Topics) ParseAnnounce(topic string) (role, id string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/announce/")
	if !found {
		return "", "", false
	}
	role, id, found = strings.Cut(rest, "/")
	if !found || role == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return role, id, true
}

// validPublishTopic rejects empty topics and wildcards.
func validPublishTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
