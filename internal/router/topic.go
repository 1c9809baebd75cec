// Package router parses device-control topics, decodes their payloads and
// dispatches inbound messages to the handlers registered for each topic.
package router

import "strings"

// TopicClass is the first segment of a device topic.
type TopicClass string

const (
	ClassAutomation  TopicClass = "automation"
	ClassEnvironment TopicClass = "environment"
	ClassSwitch      TopicClass = "switch"
	ClassCurrent     TopicClass = "current"
)

// Valid reports whether c is a known topic class.
func (c TopicClass) Valid() bool {
	switch c {
	case ClassAutomation, ClassEnvironment, ClassSwitch, ClassCurrent:
		return true
	}
	return false
}

// Topic builds "{class}/{name}".
func Topic(class TopicClass, name string) string {
	return string(class) + "/" + name
}

// Wildcard returns the single-level subscription filter for a class.
func Wildcard(class TopicClass) string {
	return string(class) + "/+"
}

// ParseTopic splits "{class}/{name}". ok is false for unknown classes or
// topics without exactly two non-empty segments.
func ParseTopic(topic string) (TopicClass, string, bool) {
	class, name, found := strings.Cut(topic, "/")
	if !found || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	c := TopicClass(class)
	if !c.Valid() {
		return "", "", false
	}
	return c, name, true
}
