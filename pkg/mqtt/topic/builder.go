package topic

import (
	"strings"
)

// TopicBuilder constructs the topics of a single device.
// Every topic has the form {root}/{deviceID}/{subtopic}; the root is optional.
type TopicBuilder struct {
	base string
}

// NewTopicBuilder creates a builder for deviceID under root.
// An empty root places the device ID at the top level.
func NewTopicBuilder(root, deviceID string) *TopicBuilder {
	root = strings.Trim(root, Separator)
	if root == "" {
		return &TopicBuilder{base: deviceID}
	}
	return &TopicBuilder{base: root + Separator + deviceID}
}

// Base returns the device base topic.
func (b *TopicBuilder) Base() string {
	return b.base
}

// Subtopic returns {base}/{name}.
func (b *TopicBuilder) Subtopic(name string) string {
	return b.base + Separator + name
}

// Online returns the topic carrying the online flag and last will.
func (b *TopicBuilder) Online() string {
	return b.Subtopic(Online)
}

// SplitSubtopic strips the base topic from a full topic.
// It returns false when the topic does not belong to this device.
func (b *TopicBuilder) SplitSubtopic(full string) (string, bool) {
	prefix := b.base + Separator
	if !strings.HasPrefix(full, prefix) || len(full) == len(prefix) {
		return "", false
	}
	return full[len(prefix):], true
}
