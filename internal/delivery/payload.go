package delivery

// Payload is one wire unit of the incremental delivery protocol. Exactly one
// InitialPayload is produced per operation; the others follow in delivery
// order. Every payload except the operation's last carries HasNext = true.
type Payload interface {
	// Next reports the payload's hasNext flag.
	Next() bool

	isPayload()
}

// PendingEntry identifies not-yet-resolved work announced in the initial
// payload, so clients can render placeholders immediately.
type PendingEntry struct {
	Path  Path   `json:"path"`
	Label string `json:"label,omitempty"`
}

// InitialPayload carries everything that resolved synchronously.
type InitialPayload struct {
	Data    map[string]any `json:"data"`
	Errors  []GraphQLError `json:"errors,omitempty"`
	Pending []PendingEntry `json:"pending,omitempty"`
	HasNext bool           `json:"hasNext"`
}

// IncrementalPayload carries one resolved deferred fragment.
type IncrementalPayload struct {
	Data    any    `json:"data"`
	Path    Path   `json:"path"`
	Label   string `json:"label,omitempty"`
	HasNext bool   `json:"hasNext"`
}

// StreamIncrementalPayload carries one batch of a streamed field's items.
type StreamIncrementalPayload struct {
	Items   []any  `json:"items"`
	Path    Path   `json:"path"`
	Label   string `json:"label,omitempty"`
	HasNext bool   `json:"hasNext"`
}

// ErrorPayload scopes a task failure to its chunk. It never escalates to
// abort the transport.
type ErrorPayload struct {
	Errors  []GraphQLError `json:"errors"`
	Path    Path           `json:"path"`
	Label   string         `json:"label,omitempty"`
	HasNext bool           `json:"hasNext"`
}

func (p *InitialPayload) isPayload()           {}
func (p *IncrementalPayload) isPayload()       {}
func (p *StreamIncrementalPayload) isPayload() {}
func (p *ErrorPayload) isPayload()             {}

func (p *InitialPayload) Next() bool           { return p.HasNext }
func (p *IncrementalPayload) Next() bool       { return p.HasNext }
func (p *StreamIncrementalPayload) Next() bool { return p.HasNext }
func (p *ErrorPayload) Next() bool             { return p.HasNext }

// BuildInitial builds the operation's single initial payload. Pending
// enumerates every task in submission order; HasNext is true whenever any
// task follows.
func BuildInitial(doc *ResolvedDocument, tasks []TaskDescriptor) *InitialPayload {
	p := &InitialPayload{
		Data:    doc.Data,
		Errors:  doc.Errors,
		HasNext: len(tasks) > 0,
	}
	if len(tasks) > 0 {
		p.Pending = make([]PendingEntry, len(tasks))
		for i, t := range tasks {
			p.Pending[i] = PendingEntry{Path: t.Path, Label: t.Label}
		}
	}
	return p
}

// BuildPayloads maps one task outcome to its wire payloads. Defer outcomes
// and failures map to exactly one payload; stream outcomes are split into
// batches of batchSize items. last marks the task as the operation's final
// one, clearing HasNext on the task's final payload.
func BuildPayloads(task TaskDescriptor, out TaskOutcome, batchSize int, last bool) []Payload {
	path := task.Path
	if len(out.Path) > 0 {
		path = out.Path
	}
	label := task.Label
	if out.Label != "" {
		label = out.Label
	}

	if out.Failed() {
		return []Payload{&ErrorPayload{
			Errors:  scopeErrors(out.Errors, path),
			Path:    path,
			Label:   label,
			HasNext: !last,
		}}
	}

	switch task.Kind {
	case TaskStream:
		return buildStreamBatches(out.Items, path, label, batchSize, last)
	default:
		return []Payload{&IncrementalPayload{
			Data:    out.Data,
			Path:    path,
			Label:   label,
			HasNext: !last,
		}}
	}
}

func buildStreamBatches(items []any, path Path, label string, batchSize int, last bool) []Payload {
	if batchSize < 1 {
		batchSize = 1
	}
	if len(items) == 0 {
		// An exhausted stream still emits one empty batch so the protocol's
		// hasNext chain terminates at the right payload.
		return []Payload{&StreamIncrementalPayload{
			Items:   []any{},
			Path:    path,
			Label:   label,
			HasNext: !last,
		}}
	}
	var out []Payload
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		finalBatch := end == len(items)
		out = append(out, &StreamIncrementalPayload{
			Items:   items[start:end],
			Path:    path,
			Label:   label,
			HasNext: !(last && finalBatch),
		})
	}
	return out
}

// scopeErrors fills in the chunk path on errors that lack one.
func scopeErrors(errs []GraphQLError, path Path) []GraphQLError {
	out := make([]GraphQLError, len(errs))
	for i, e := range errs {
		if len(e.Path) == 0 {
			e.Path = path
		}
		out[i] = e
	}
	return out
}
