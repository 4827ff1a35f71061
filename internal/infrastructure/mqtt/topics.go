package mqtt

import (
	"strconv"
	"strings"
)

// TopicPrefix is the root of every Gray Logic IoT topic.
const TopicPrefix = "grayiot"

// Topics builds grayiot/ topic names.
//
//	mqtt.Topics{}.Reading("kitchen", "t-1") // grayiot/reading/kitchen/t-1
type Topics struct{}

// Reading is where a sensor publishes its latest temperature.
func (Topics) Reading(groupID, deviceID string) string {
	return TopicPrefix + "/reading/" + groupID + "/" + deviceID
}

// Query is where clients request an aggregate read of a group.
func (Topics) Query(groupID string) string {
	return TopicPrefix + "/query/" + groupID
}

// Response carries the answer to the query with requestID.
func (Topics) Response(groupID string, requestID int64) string {
	return TopicPrefix + "/response/" + groupID + "/" + strconv.FormatInt(requestID, 10)
}

// Health is the retained health topic for a component.
func (Topics) Health(component string) string {
	return TopicPrefix + "/health/" + component
}

// CoreEvent carries device events of the given type, e.g. "device.tracked".
func (Topics) CoreEvent(eventType string) string {
	return TopicPrefix + "/core/event/" + eventType
}

// SystemStatus is the retained online/offline status of the core.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllReadings matches every Reading topic.
func (Topics) AllReadings() string {
	return TopicPrefix + "/reading/+/+"
}

// AllQueries matches every Query topic.
func (Topics) AllQueries() string {
	return TopicPrefix + "/query/+"
}

// AllCoreEvents matches every CoreEvent topic.
func (Topics) AllCoreEvents() string {
	return TopicPrefix + "/core/event/#"
}

// ParseReadingTopic extracts the group and device from a Reading topic.
func ParseReadingTopic(topic string) (groupID, deviceID string, ok bool) {
	parts, ok := splitTopic(topic, "reading", 2)
	if !ok {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParseQueryTopic extracts the group from a Query topic.
func ParseQueryTopic(topic string) (groupID string, ok bool) {
	parts, ok := splitTopic(topic, "query", 1)
	if !ok {
		return "", false
	}
	return parts[0], true
}

// splitTopic checks topic is grayiot/{kind}/... with exactly n non-empty
// trailing levels and returns them.
func splitTopic(topic, kind string, n int) ([]string, bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/"+kind+"/")
	if !found {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != n {
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}
