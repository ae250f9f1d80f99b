package planner

import (
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"

	"remindbot/internal/domain"
)

// rawTask is one entry as the model wrote it. Every field is optional here;
// validation happens after decoding.
type rawTask struct {
	Tag  string `yaml:"tag"`
	Text string `yaml:"text"`
	Time string `yaml:"time"`
}

type rawAdvice struct {
	HasAdvisory bool   `yaml:"has_advisory"`
	Advisory    string `yaml:"advisory"`
}

// stripFences removes a markdown code fence around a completion.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return strings.Trim(s, "`")
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeTasks parses a completion into task entries. YAML is a superset of
// JSON and forgives the usual model slips (single quotes, trailing text in
// fences). Two shapes are accepted:
//
//	{"tasks": [{"tag": "...", "text": "...", "time": "..."}]}
//	{"<tag>": [{"text": "...", "time": "..."}]}
//
// Entries that are not mappings or cannot be decoded are counted as bad.
func decodeTasks(completion string) (tasks []rawTask, bad int, err error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(stripFences(completion)), &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: completion is not JSON: %w", domain.ErrValidation, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, 0, fmt.Errorf("%w: empty completion", domain.ErrValidation)
	}
	root := doc.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		tasks, bad = decodeEntries(root, "")
		return tasks, bad, nil
	case yaml.MappingNode:
	default:
		return nil, 0, fmt.Errorf("%w: completion is not an object", domain.ErrValidation)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		if key == "tasks" {
			if val.Kind != yaml.SequenceNode {
				return nil, 0, fmt.Errorf("%w: tasks is not a list", domain.ErrValidation)
			}
			t, b := decodeEntries(val, "")
			tasks, bad = append(tasks, t...), bad+b
			continue
		}
		if val.Kind != yaml.SequenceNode {
			bad++
			continue
		}
		t, b := decodeEntries(val, key)
		tasks, bad = append(tasks, t...), bad+b
	}
	return tasks, bad, nil
}

func decodeEntries(seq *yaml.Node, tag string) ([]rawTask, int) {
	var (
		out []rawTask
		bad int
	)
	for _, n := range seq.Content {
		var t rawTask
		switch n.Kind {
		case yaml.MappingNode:
			if err := n.Decode(&t); err != nil {
				bad++
				continue
			}
		case yaml.ScalarNode:
			t.Text = n.Value
		default:
			bad++
			continue
		}
		if t.Tag == "" {
			t.Tag = tag
		}
		out = append(out, t)
	}
	return out, bad
}

func decodeAdvice(completion string) (rawAdvice, error) {
	var a rawAdvice
	if err := yaml.Unmarshal([]byte(stripFences(completion)), &a); err != nil {
		return rawAdvice{}, fmt.Errorf("%w: advisory is not JSON: %w", domain.ErrValidation, err)
	}
	return a, nil
}
