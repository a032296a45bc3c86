package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"foo", "foo", true},
		{"foo", "bar", false},
		{"foo", "foo/bar", false},
		{"foo/+/bar", "foo/x/bar", true},
		{"foo/+/bar", "foo/x/y/bar", false},
		{"foo/+/bar", "foo/bar", false},
		{"foo/#", "foo/x", true},
		{"foo/#", "foo/x/y", true},
		{"foo/#", "bar/x", false},
		{"#", "anything/at/all", true},
		{"+/telemetry", "dev1/telemetry", true},
		{"+/telemetry", "dev1/state", false},
		{"devices/+/telemetry", "devices/d-42/telemetry", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.topic, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TopicMatches(tt.pattern, tt.topic))
		})
	}
}
