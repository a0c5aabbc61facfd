package task

import "time"

// DefaultNamespace groups prompts stored without an explicit namespace.
const DefaultNamespace = "default"

// Prompt is an immutable snapshot of a conversation plus the response it
// produced. Only Approved may change after creation.
type Prompt struct {
	ID        string        `yaml:"id" json:"id"`
	TaskID    string        `yaml:"task_id" json:"task_id"`
	Namespace string        `yaml:"namespace" json:"namespace"`
	Thread    []RoleMessage `yaml:"thread" json:"thread"`
	Response  RoleMessage   `yaml:"response" json:"response"`
	Metadata  Metadata      `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	AgentID   string        `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	Model     string        `yaml:"model,omitempty" json:"model,omitempty"`
	Approved  bool          `yaml:"approved" json:"approved"`
	CreatedAt time.Time     `yaml:"created_at" json:"created_at"`
}

// Clone returns a deep copy of the prompt.
func (p *Prompt) Clone() *Prompt {
	if p == nil {
		return nil
	}
	c := *p
	c.Thread = CloneRoleMessages(p.Thread)
	c.Response = p.Response.Clone()
	c.Metadata = p.Metadata.Clone()
	return &c
}
