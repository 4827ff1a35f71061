package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.Reading("kitchen", "t-1"), "grayiot/reading/kitchen/t-1"},
		{topics.Query("kitchen"), "grayiot/query/kitchen"},
		{topics.Response("kitchen", 42), "grayiot/response/kitchen/42"},
		{topics.Health("sensor"), "grayiot/health/sensor"},
		{topics.CoreEvent("device.tracked"), "grayiot/core/event/device.tracked"},
		{topics.SystemStatus(), "grayiot/system/status"},
		{topics.AllReadings(), "grayiot/reading/+/+"},
		{topics.AllQueries(), "grayiot/query/+"},
		{topics.AllCoreEvents(), "grayiot/core/event/#"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseReadingTopic(t *testing.T) {
	tests := []struct {
		topic         string
		group, device string
		ok            bool
	}{
		{"grayiot/reading/kitchen/t-1", "kitchen", "t-1", true},
		{"grayiot/reading/kitchen", "", "", false},
		{"grayiot/reading/kitchen/t-1/extra", "", "", false},
		{"grayiot/reading//t-1", "", "", false},
		{"grayiot/query/kitchen", "", "", false},
		{"other/reading/kitchen/t-1", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			group, device, ok := ParseReadingTopic(tt.topic)
			if ok != tt.ok || group != tt.group || device != tt.device {
				t.Errorf("ParseReadingTopic(%q) = %q, %q, %v; want %q, %q, %v",
					tt.topic, group, device, ok, tt.group, tt.device, tt.ok)
			}
		})
	}
}

func TestParseQueryTopic(t *testing.T) {
	if group, ok := ParseQueryTopic("grayiot/query/hall"); !ok || group != "hall" {
		t.Errorf("ParseQueryTopic() = %q, %v", group, ok)
	}
	if _, ok := ParseQueryTopic("grayiot/query/hall/extra"); ok {
		t.Error("ParseQueryTopic accepted an extra level")
	}
	if _, ok := ParseQueryTopic("grayiot/response/hall/1"); ok {
		t.Error("ParseQueryTopic accepted a response topic")
	}
}
