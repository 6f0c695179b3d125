package models

import "time"

// WorkItem is a dequeued unit of work. The queue subsystem owns it; the
// messenger only reads it and writes audit entries against its ID.
type WorkItem struct {
	ID         string     `json:"id"`
	Type       string     `json:"type,omitempty"`
	Parameters Parameters `json:"parameters"`
	EnqueuedAt time.Time  `json:"enqueued_at,omitempty"`
}

// Parameter is a single untyped entry of a work item's parameter bag.
type Parameter struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// Parameters is the ordered parameter collection of a work item.
type Parameters []Parameter

// Lookup returns the first parameter stored under slot.
func (p Parameters) Lookup(slot int) (Parameter, bool) {
	for _, param := range p {
		if param.Slot == slot {
			return param, true
		}
	}
	return Parameter{}, false
}
