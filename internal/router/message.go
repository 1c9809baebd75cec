package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoValue is returned when a payload has no data.value field.
var ErrNoValue = errors.New("payload has no value")

// Message is one inbound device message.
type Message struct {
	Topic    string
	Class    TopicClass
	Name     string
	Payload  []byte
	Received time.Time
}

// NewMessage parses topic and wraps the payload. ok is false if the topic
// is not a device topic.
func NewMessage(topic string, payload []byte, received time.Time) (Message, bool) {
	class, name, ok := ParseTopic(topic)
	if !ok {
		return Message{}, false
	}
	return Message{Topic: topic, Class: class, Name: name, Payload: payload, Received: received}, true
}

// envelope is the common {pattern, data:{...}} wrapper.
type envelope struct {
	Pattern string          `json:"pattern,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type dataFields struct {
	Name   string          `json:"name,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

func (m Message) data() (dataFields, error) {
	var env envelope
	if err := json.Unmarshal(m.Payload, &env); err != nil {
		return dataFields{}, fmt.Errorf("decode %s: %w", m.Topic, err)
	}
	var d dataFields
	if len(env.Data) == 0 {
		// Some publishers send {"value": ...} without the data wrapper.
		if err := json.Unmarshal(m.Payload, &d); err != nil {
			return dataFields{}, fmt.Errorf("decode %s: %w", m.Topic, err)
		}
		return d, nil
	}
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return dataFields{}, fmt.Errorf("decode %s data: %w", m.Topic, err)
	}
	return d, nil
}

// Switch decodes a switch payload: data.value as bool, number or
// "true"/"on"/"1", or the legacy data.status 1|0.
func (m Message) Switch() (bool, error) {
	d, err := m.data()
	if err != nil {
		return false, err
	}
	raw := d.Value
	if len(raw) == 0 || string(raw) == "null" {
		raw = d.Status
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, fmt.Errorf("%s: %w", m.Topic, ErrNoValue)
	}
	return parseBool(raw, 0)
}

// Reading decodes an environment payload's data.value as a float.
func (m Message) Reading() (float64, error) {
	d, err := m.data()
	if err != nil {
		return 0, err
	}
	if len(d.Value) == 0 || string(d.Value) == "null" {
		return 0, fmt.Errorf("%s: %w", m.Topic, ErrNoValue)
	}
	return parseFloat(d.Value)
}

// Current decodes a current payload. Booleans are taken as-is; numbers are
// ON when strictly above threshold.
func (m Message) Current(threshold float64) (bool, error) {
	d, err := m.data()
	if err != nil {
		return false, err
	}
	if len(d.Value) == 0 || string(d.Value) == "null" {
		return false, fmt.Errorf("%s: %w", m.Topic, ErrNoValue)
	}
	return parseBool(d.Value, threshold)
}

// RawValue returns data.value as a plain string (JSON strings unquoted).
func (m Message) RawValue() (string, error) {
	d, err := m.data()
	if err != nil {
		return "", err
	}
	raw := d.Value
	if len(raw) == 0 || string(raw) == "null" {
		raw = d.Status
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%s: %w", m.Topic, ErrNoValue)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return string(raw), nil
}

// Automation decodes an automation payload {data:{value:{active, ...}}}.
// active defaults to true when absent; the remaining fields are returned
// as settings.
func (m Message) Automation() (bool, map[string]any, error) {
	d, err := m.data()
	if err != nil {
		return false, nil, err
	}
	if len(d.Value) == 0 || string(d.Value) == "null" {
		return false, nil, fmt.Errorf("%s: %w", m.Topic, ErrNoValue)
	}
	var settings map[string]any
	if err := json.Unmarshal(d.Value, &settings); err != nil {
		return false, nil, fmt.Errorf("decode %s settings: %w", m.Topic, err)
	}
	active := true
	if v, ok := settings["active"]; ok {
		b, err := ParseBoolValue(v)
		if err != nil {
			return false, nil, fmt.Errorf("%s active: %w", m.Topic, err)
		}
		active = b
	}
	return active, settings, nil
}

func parseBool(raw json.RawMessage, threshold float64) (bool, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("decode value: %w", err)
	}
	if f, ok := v.(float64); ok {
		return f > threshold, nil
	}
	return ParseBoolValue(v)
}

// ParseBoolValue interprets a decoded JSON value or KV string as a switch state.
func ParseBoolValue(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "on", "1", "yes":
			return true, nil
		case "false", "off", "0", "no", "":
			return false, nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f != 0, nil
		}
	}
	return false, fmt.Errorf("not a switch value: %v", v)
}

func parseFloat(raw json.RawMessage) (float64, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode value: %w", err)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

// SwitchPayload is the outbound switch command.
type SwitchPayload struct {
	Pattern string     `json:"pattern"`
	Data    SwitchData `json:"data"`
}

// SwitchData carries the device name and commanded state.
type SwitchData struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// FormatSwitch returns the topic and JSON payload commanding name to on.
func FormatSwitch(name string, on bool) (string, []byte, error) {
	topic := Topic(ClassSwitch, name)
	payload, err := json.Marshal(SwitchPayload{
		Pattern: topic,
		Data:    SwitchData{Name: name, Value: on},
	})
	if err != nil {
		return "", nil, fmt.Errorf("format switch payload: %w", err)
	}
	return topic, payload, nil
}
