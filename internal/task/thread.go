package task

import "time"

// Thread is an ordered, append-only conversation log.
type Thread struct {
	ID string `yaml:"id" json:"id"`
	// TaskID is nil for standalone threads.
	TaskID    *string   `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	Name      string    `yaml:"name" json:"name"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// IsDefault reports whether this is a task's implicit main thread.
func (th *Thread) IsDefault() bool {
	return th.TaskID != nil && th.Name == DefaultThreadName
}

// Message is an immutable entry in a thread.
type Message struct {
	ID        string    `yaml:"id" json:"id"`
	ThreadID  string    `yaml:"thread_id" json:"thread_id"`
	Seq       int64     `yaml:"seq" json:"seq"`
	Role      string    `yaml:"role" json:"role"`
	Text      string    `yaml:"text" json:"text"`
	Images    []string  `yaml:"images,omitempty" json:"images,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// RoleMessage is the role/text pair stored inside prompt snapshots.
type RoleMessage struct {
	Role   string   `yaml:"role" json:"role"`
	Text   string   `yaml:"text" json:"text"`
	Images []string `yaml:"images,omitempty" json:"images,omitempty"`
}

// AsRoleMessage drops the storage identity of a message.
func (m Message) AsRoleMessage() RoleMessage {
	return RoleMessage{
		Role:   m.Role,
		Text:   m.Text,
		Images: cloneStrings(m.Images),
	}
}

// Clone returns a copy that shares no slices with rm.
func (rm RoleMessage) Clone() RoleMessage {
	rm.Images = cloneStrings(rm.Images)
	return rm
}

// CloneRoleMessages deep-copies a snapshot.
func CloneRoleMessages(in []RoleMessage) []RoleMessage {
	if in == nil {
		return nil
	}
	out := make([]RoleMessage, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
