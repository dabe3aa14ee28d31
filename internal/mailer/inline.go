package mailer

// InlineTable maps filenames to content-addressed inline attachments for one
// send. Filenames compare case-sensitively. Adding an existing filename
// replaces its attachment but keeps its position. It is not safe for
// concurrent use.
type InlineTable struct {
	addresser *Addresser
	order     []string
	entries   map[string]InlineAttachment
}

// NewInlineTable returns an empty table.
func NewInlineTable() *InlineTable {
	return &InlineTable{
		addresser: defaultAddresser,
		entries:   make(map[string]InlineAttachment),
	}
}

// Add stores att under its filename and returns the stored entry.
func (t *InlineTable) Add(att Attachment) InlineAttachment {
	entry := InlineAttachment{ID: t.addresser.ID(att.Data), Attachment: att}
	if _, ok := t.entries[att.FileName]; !ok {
		t.order = append(t.order, att.FileName)
	}
	t.entries[att.FileName] = entry
	return entry
}

// AddRange adds attachments in order.
func (t *InlineTable) AddRange(atts []Attachment) {
	for _, att := range atts {
		t.Add(att)
	}
}

// Lookup returns the entry stored under name.
func (t *InlineTable) Lookup(name string) (InlineAttachment, bool) {
	entry, ok := t.entries[name]
	return entry, ok
}

// Entries returns the current entries in first-insertion order.
func (t *InlineTable) Entries() []InlineAttachment {
	out := make([]InlineAttachment, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.entries[name])
	}
	return out
}

// Len returns the number of filenames in the table.
func (t *InlineTable) Len() int {
	return len(t.order)
}
