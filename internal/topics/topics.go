// FilePath: internal/topics/topics.go
package topics

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/farmflow/sensorhub/internal/models"
)

var (
	ErrUnknownTopic  = errors.New("no configuration found for topic")
	ErrUnknownParser = errors.New("unknown payload parser")
	ErrDuplicate     = errors.New("duplicate topic")
)

// TopicConfig binds an external topic to its measurement and payload parser.
type TopicConfig struct {
	Topic       string
	Measurement string
	ParserName  string
	Parse       Parser
}

// Registry is an immutable topic table, safe for concurrent reads.
type Registry struct {
	byTopic map[string]TopicConfig
	order   []string
}

// topicEntry is one item of a registry file.
type topicEntry struct {
	Topic       string `yaml:"topic"`
	Measurement string `yaml:"measurement"`
	Parser      string `yaml:"parser"`
}

type registryFile struct {
	Topics []topicEntry `yaml:"topics"`
}

// Defaults returns the two farmer feeds.
func Defaults() *Registry {
	r, err := build([]topicEntry{
		{Topic: "topic_farmer1", Measurement: "ms_farmer1", Parser: ParserQuotedJSON},
		{Topic: "topic_farmer2", Measurement: "ms_farmer2", Parser: ParserQuotedJSON},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile reads a YAML registry of the form
//
//	topics:
//	  - topic: topic_farmer1
//	    measurement: ms_farmer1
//	    parser: quoted-json
//
// An omitted parser means quoted-json.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topic registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding topic registry %s: %w", path, err)
	}
	if len(f.Topics) == 0 {
		return nil, fmt.Errorf("topic registry %s has no topics", path)
	}
	return build(f.Topics)
}

func build(entries []topicEntry) (*Registry, error) {
	r := &Registry{byTopic: make(map[string]TopicConfig, len(entries))}
	for _, e := range entries {
		if e.Topic == "" || e.Measurement == "" {
			return nil, fmt.Errorf("topic and measurement are required (topic=%q)", e.Topic)
		}
		if _, ok := r.byTopic[e.Topic]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, e.Topic)
		}
		name := e.Parser
		if name == "" {
			name = ParserQuotedJSON
		}
		parse, ok := parsers[name]
		if !ok {
			return nil, fmt.Errorf("%w %q for topic %s", ErrUnknownParser, name, e.Topic)
		}
		r.byTopic[e.Topic] = TopicConfig{
			Topic:       e.Topic,
			Measurement: e.Measurement,
			ParserName:  name,
			Parse:       parse,
		}
		r.order = append(r.order, e.Topic)
	}
	return r, nil
}

// Resolve looks up the configuration of an inbound topic.
func (r *Registry) Resolve(topic string) (TopicConfig, error) {
	cfg, ok := r.byTopic[topic]
	if !ok {
		return TopicConfig{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return cfg, nil
}

// Topics lists registered topics in registration order.
func (r *Registry) Topics() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Measurements lists the distinct target measurements, sorted.
func (r *Registry) Measurements() []string {
	seen := map[string]bool{}
	var out []string
	for _, cfg := range r.byTopic {
		if !seen[cfg.Measurement] {
			seen[cfg.Measurement] = true
			out = append(out, cfg.Measurement)
		}
	}
	sort.Strings(out)
	return out
}

// Parse resolves the topic and decodes payload with its parser.
func (r *Registry) Parse(topic string, payload []byte) (TopicConfig, models.Record, error) {
	cfg, err := r.Resolve(topic)
	if err != nil {
		return TopicConfig{}, nil, err
	}
	rec, err := cfg.Parse(payload)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, rec, nil
}
