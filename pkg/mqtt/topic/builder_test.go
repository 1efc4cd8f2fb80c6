package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("", "IoT_a0b1c2d3e4f5")
	assert.Equal(t, "IoT_a0b1c2d3e4f5", b.Base())
	assert.Equal(t, "IoT_a0b1c2d3e4f5/cmd", b.Subtopic(Command))
	assert.Equal(t, "IoT_a0b1c2d3e4f5/status", b.Subtopic(Status))

	b = NewTopicBuilder("/fleet/v1/", "dev1")
	assert.Equal(t, "fleet/v1/dev1/online", b.Online())
}

func TestSplitSubtopic(t *testing.T) {
	b := NewTopicBuilder("fleet", "dev1")

	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"fleet/dev1/cmd", "cmd", true},
		{"fleet/dev1/a/b", "a/b", true},
		{"fleet/dev1/", "", false},
		{"fleet/dev1", "", false},
		{"fleet/dev2/cmd", "", false},
		{"fleet/dev10/cmd", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := b.SplitSubtopic(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
