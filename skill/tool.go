package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/tandem"
)

// Tool lets workers search, create and update skills, so lessons learned
// during a task can be reused by later workers.
type Tool struct {
	set  *Set
	topK int
}

var _ tandem.Tool = (*Tool)(nil)

// NewTool creates a skill Tool over set.
func NewTool(set *Set) *Tool {
	return &Tool{set: set, topK: 5}
}

func (t *Tool) Definitions() []tandem.ToolDefinition {
	return []tandem.ToolDefinition{
		{
			Name:        "skill_search",
			Description: "Search available skills by keywords. Returns matching skills with their descriptions and instructions.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"query":{"type":"string","description":"Keywords describing the task"}
			},"required":["query"]}`),
		},
		{
			Name:        "skill_create",
			Description: "Create a new skill: a reusable instruction package for a kind of task.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"name":{"type":"string","description":"Short identifier (e.g. code-reviewer)"},
				"description":{"type":"string","description":"What the skill is for"},
				"instructions":{"type":"string","description":"Instructions loaded into a worker using this skill"},
				"tags":{"type":"array","items":{"type":"string"},"description":"Optional labels"}
			},"required":["name","description","instructions"]}`),
		},
		{
			Name:        "skill_update",
			Description: "Update an existing skill. Omitted fields keep their current values.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"name":{"type":"string","description":"Name of the skill to update"},
				"description":{"type":"string","description":"New description"},
				"instructions":{"type":"string","description":"New instructions"},
				"tags":{"type":"array","items":{"type":"string"},"description":"New tags (replaces existing)"}
			},"required":["name"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (tandem.ToolResult, error) {
	var result string
	var err error
	switch name {
	case "skill_search":
		result, err = t.handleSearch(args)
	case "skill_create":
		result, err = t.handleCreate(args)
	case "skill_update":
		result, err = t.handleUpdate(args)
	default:
		return tandem.ToolResult{Error: "unknown skill tool: " + name}, nil
	}
	if err != nil {
		return tandem.ToolResult{Error: err.Error()}, nil
	}
	return tandem.ToolResult{Content: result}, nil
}

func (t *Tool) handleSearch(args json.RawMessage) (string, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	if p.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	results := t.set.Search(p.Query, t.topK)
	if len(results) == 0 {
		return "no skills found matching query", nil
	}
	var out strings.Builder
	fmt.Fprintf(&out, "%d skill(s) found:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&out, "%d. %s\n   %s\n", i+1, r.Name, r.Description)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&out, "   Tags: %s\n", strings.Join(r.Tags, ", "))
		}
		fmt.Fprintf(&out, "   Instructions: %s\n\n", r.Instructions)
	}
	return out.String(), nil
}

func (t *Tool) handleCreate(args json.RawMessage) (string, error) {
	var p struct {
		Name         string   `json:"name"`
		Description  string   `json:"description"`
		Instructions string   `json:"instructions"`
		Tags         []string `json:"tags"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	if p.Name == "" || p.Description == "" || p.Instructions == "" {
		return "", fmt.Errorf("name, description, and instructions are required")
	}
	if _, exists := t.set.Get(p.Name); exists {
		return "", fmt.Errorf("skill %q already exists; use skill_update", p.Name)
	}
	sk, err := t.set.Save(Skill{Name: p.Name, Description: p.Description, Instructions: p.Instructions, Tags: p.Tags})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("created skill %q", sk.Name), nil
}

func (t *Tool) handleUpdate(args json.RawMessage) (string, error) {
	var p struct {
		Name         string   `json:"name"`
		Description  *string  `json:"description"`
		Instructions *string  `json:"instructions"`
		Tags         []string `json:"tags"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	if p.Name == "" {
		return "", fmt.Errorf("skill name is required")
	}
	sk, ok := t.set.Get(p.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p.Name)
	}

	var changes []string
	if p.Description != nil {
		sk.Description = *p.Description
		changes = append(changes, "description")
	}
	if p.Instructions != nil {
		sk.Instructions = *p.Instructions
		changes = append(changes, "instructions")
	}
	if p.Tags != nil {
		sk.Tags = p.Tags
		changes = append(changes, "tags")
	}
	if len(changes) == 0 {
		return "no changes specified", nil
	}
	if _, err := t.set.Save(sk); err != nil {
		return "", err
	}
	return fmt.Sprintf("updated skill %q: %s", sk.Name, strings.Join(changes, ", ")), nil
}
