package selection

// Controller owns one page session's selection set and notes, and applies
// the tree widget's toggle events to it. State lives only for the page's
// lifetime and is rebuilt from scratch on reload.
type Controller struct {
	set   *Set
	notes string
}

func NewController() *Controller {
	return &Controller{set: NewSet()}
}

// Toggle applies one checkbox event: selected adds the key, deselected
// removes it (no-op when absent). The set therefore always equals the keys
// whose most recent event was selected=true.
func (c *Controller) Toggle(key string, selected bool) {
	if selected {
		c.set.Add(key)
		return
	}
	c.set.Remove(key)
}

// ClearAll force-deselects every tracked key, emitting the same removal path
// a widget deselection would, and leaves the set empty.
func (c *Controller) ClearAll() {
	for _, k := range c.set.Keys() {
		c.Toggle(k, false)
	}
}

// Selected returns the current selection in insertion order.
func (c *Controller) Selected() []string { return c.set.Keys() }

func (c *Controller) Has(key string) bool { return c.set.Has(key) }

func (c *Controller) Len() int { return c.set.Len() }

func (c *Controller) SetNotes(notes string) { c.notes = notes }

func (c *Controller) Notes() string { return c.notes }
