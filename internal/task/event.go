package task

import (
	"fmt"
	"time"
)

// Event is one entry of a task's audit log. Events are never updated.
type Event struct {
	ID        string    `yaml:"id" json:"id"`
	TaskID    string    `yaml:"task_id" json:"task_id"`
	Seq       int64     `yaml:"seq" json:"seq"`
	From      Status    `yaml:"from" json:"from"`
	To        Status    `yaml:"to" json:"to"`
	Actor     string    `yaml:"actor" json:"actor"`
	Reason    string    `yaml:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// Replay walks an audit log in order and returns the status it ends in.
// Every event must start where the previous one ended and follow a legal edge.
func Replay(events []Event) (Status, error) {
	current := StatusCreated
	for i, ev := range events {
		if ev.From != current {
			return current, fmt.Errorf("event %d (seq %d): from %s, expected %s", i, ev.Seq, ev.From, current)
		}
		if !CanTransition(ev.From, ev.To) {
			return current, fmt.Errorf("event %d (seq %d): illegal transition %s -> %s", i, ev.Seq, ev.From, ev.To)
		}
		current = ev.To
	}
	return current, nil
}
