// Package parse assembles model stream fragments into text deltas and
// completed tool invocations.
//
// Two invocation surfaces come through one parser. Structured deltas are
// keyed by their provider-assigned ID and buffered until the provider
// signals completion. Tagged invocations are recovered from the text
// itself: a <tool name="...">...</tool> span anywhere in the stream
// becomes an invocation and never reaches the caller as text. Chunk
// boundaries carry no meaning; feeding the same stream split differently
// yields the same events.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/strand/pkg/models"
)

const (
	openMarker  = "<tool"
	closeMarker = "</tool>"

	// DefaultMaxCapture bounds how much of a single tag the parser
	// buffers before replaying the span as literal text.
	DefaultMaxCapture = 1 << 20
)

// ParseError reports a malformed tool invocation.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Invocation is a fully assembled tool invocation.
type Invocation struct {
	// ID correlates the invocation with its result. Structured
	// invocations keep the provider's ID; tagged ones get a
	// parser-assigned ID.
	ID string

	Name string

	// Input is the argument document. An empty body becomes {}.
	Input json.RawMessage

	Surface models.InvocationSurface

	// ParseErr is set when the invocation arrived malformed. The
	// invocation is still delivered so the executor can report the
	// failure back to the model.
	ParseErr error
}

// Event is one parsed output. Exactly one field is set.
type Event struct {
	// Text is a chunk of assistant-visible text.
	Text string

	// Invocation is a completed tool invocation.
	Invocation *Invocation

	// TurnComplete marks the end of the turn. Close emits it exactly
	// once per stream.
	TurnComplete bool
}

type state int

const (
	stateText state = iota
	stateHeader
	stateBody
)

type openInvocation struct {
	id   string
	name string
	args strings.Builder
}

// Parser consumes one model stream. It is not safe for concurrent use;
// the run loop owns one per model call.
type Parser struct {
	maxCapture int

	state   state
	pending string          // text not yet classified
	header  strings.Builder // attribute span of the open tag
	body    strings.Builder // tag body
	raw     strings.Builder // exact bytes consumed since the marker opened

	open  map[string]*openInvocation
	order []string

	seq      int
	degraded int
	closed   bool
}

// New returns a parser with the default capture bound.
func New() *Parser {
	return NewWithLimit(DefaultMaxCapture)
}

// NewWithLimit bounds single-tag buffering to limit bytes.
func NewWithLimit(limit int) *Parser {
	if limit <= 0 {
		limit = DefaultMaxCapture
	}
	return &Parser{
		maxCapture: limit,
		open:       make(map[string]*openInvocation),
	}
}

// Reset discards all buffered state so the parser can consume a replayed
// stream from the beginning. The degradation count survives.
func (p *Parser) Reset() {
	p.state = stateText
	p.pending = ""
	p.header.Reset()
	p.body.Reset()
	p.raw.Reset()
	p.open = make(map[string]*openInvocation)
	p.order = p.order[:0]
	p.seq = 0
	p.closed = false
}

// Degraded returns how many tag spans were replayed as literal text.
func (p *Parser) Degraded() int {
	return p.degraded
}

// Feed consumes one fragment and returns the events it completes. A
// fragment carrying both text and a structured delta yields the text
// events first. Restart fragments discard everything buffered for the
// turn. Done and Err fragments are the loop's concern and yield nothing.
func (p *Parser) Feed(frag models.Fragment) []Event {
	if frag.Restart {
		p.Reset()
		return nil
	}
	if p.closed {
		return nil
	}
	var events []Event
	if frag.Text != "" {
		p.pending += frag.Text
		events = p.scan(events)
	}
	if frag.Invocation != nil {
		events = p.feedDelta(frag.Invocation, events)
	}
	return events
}

// Close flushes buffered state at end of stream. An unterminated tag is
// replayed as literal text so nothing the model said is dropped; open
// structured invocations that named a tool are delivered as complete.
// The final event is always TurnComplete. Close is idempotent; repeat
// calls return nil.
func (p *Parser) Close() []Event {
	if p.closed {
		return nil
	}
	p.closed = true

	var events []Event
	var text strings.Builder
	if p.state != stateText {
		text.WriteString(p.raw.String())
		p.degraded++
	}
	text.WriteString(p.pending)
	p.pending = ""
	p.raw.Reset()
	p.header.Reset()
	p.body.Reset()
	p.state = stateText
	if text.Len() > 0 {
		events = append(events, Event{Text: text.String()})
	}

	for _, id := range p.order {
		inv := p.open[id]
		if inv.name == "" && inv.args.Len() == 0 {
			continue
		}
		events = append(events, Event{Invocation: p.finishStructured(inv)})
	}
	p.open = make(map[string]*openInvocation)
	p.order = nil

	return append(events, Event{TurnComplete: true})
}

// scan advances the text state machine over pending input. Text destined
// for the caller accumulates locally and flushes before any invocation
// event so stream order is preserved.
func (p *Parser) scan(events []Event) []Event {
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			events = append(events, Event{Text: text.String()})
			text.Reset()
		}
	}

	for {
		switch p.state {
		case stateText:
			idx := strings.IndexByte(p.pending, '<')
			if idx < 0 {
				text.WriteString(p.pending)
				p.pending = ""
				flush()
				return events
			}
			text.WriteString(p.pending[:idx])
			p.pending = p.pending[idx:]

			if len(p.pending) <= len(openMarker) {
				if strings.HasPrefix(openMarker, p.pending) {
					// Could still become "<tool"; hold it until
					// more input or Close decides.
					flush()
					return events
				}
				text.WriteByte('<')
				p.pending = p.pending[1:]
				continue
			}
			if strings.HasPrefix(p.pending, openMarker) && isMarkerDelim(p.pending[len(openMarker)]) {
				p.raw.Reset()
				p.raw.WriteString(openMarker)
				p.header.Reset()
				p.pending = p.pending[len(openMarker):]
				p.state = stateHeader
				continue
			}
			// A '<' that does not open a tag, e.g. "<toolbox".
			text.WriteByte('<')
			p.pending = p.pending[1:]

		case stateHeader:
			idx := strings.IndexByte(p.pending, '>')
			if idx < 0 {
				p.header.WriteString(p.pending)
				p.raw.WriteString(p.pending)
				p.pending = ""
				if p.raw.Len() > p.maxCapture {
					p.degrade(&text)
					continue
				}
				flush()
				return events
			}
			p.header.WriteString(p.pending[:idx])
			p.raw.WriteString(p.pending[:idx+1])
			p.pending = p.pending[idx+1:]

			header := p.header.String()
			if trimmed := strings.TrimSpace(header); strings.HasSuffix(trimmed, "/") {
				// Self-closing tag: an invocation with no body.
				flush()
				events = append(events, Event{Invocation: p.finishTagged(strings.TrimSuffix(trimmed, "/"), "")})
				p.raw.Reset()
				p.state = stateText
				continue
			}
			p.body.Reset()
			p.state = stateBody

		case stateBody:
			idx := strings.Index(p.pending, closeMarker)
			if idx < 0 {
				// Keep back any suffix that could be the start of
				// the close marker.
				keep := overlap(p.pending, closeMarker)
				cut := len(p.pending) - keep
				p.body.WriteString(p.pending[:cut])
				p.raw.WriteString(p.pending[:cut])
				p.pending = p.pending[cut:]
				if p.raw.Len() > p.maxCapture {
					p.degrade(&text)
					continue
				}
				flush()
				return events
			}
			p.body.WriteString(p.pending[:idx])
			p.pending = p.pending[idx+len(closeMarker):]
			flush()
			events = append(events, Event{Invocation: p.finishTagged(p.header.String(), p.body.String())})
			p.raw.Reset()
			p.state = stateText
		}
	}
}

// degrade abandons the current tag capture and replays the consumed bytes
// as literal text. Oversized tags become visible instead of eating the
// rest of the stream.
func (p *Parser) degrade(text *strings.Builder) {
	text.WriteString(p.raw.String())
	p.raw.Reset()
	p.header.Reset()
	p.body.Reset()
	p.state = stateText
	p.degraded++
}

func (p *Parser) feedDelta(d *models.InvocationDelta, events []Event) []Event {
	inv, ok := p.open[d.ID]
	if !ok {
		inv = &openInvocation{id: d.ID}
		p.open[d.ID] = inv
		p.order = append(p.order, d.ID)
	}
	if d.Name != "" {
		inv.name = d.Name
	}
	inv.args.WriteString(d.ArgsDelta)
	if d.Complete {
		delete(p.open, d.ID)
		p.order = removeID(p.order, d.ID)
		events = append(events, Event{Invocation: p.finishStructured(inv)})
	}
	return events
}

func (p *Parser) finishStructured(open *openInvocation) *Invocation {
	inv := &Invocation{
		ID:      open.id,
		Name:    open.name,
		Surface: models.SurfaceStructured,
	}
	if inv.ID == "" {
		p.seq++
		inv.ID = fmt.Sprintf("call_%d", p.seq)
	}
	if inv.Name == "" {
		inv.ParseErr = &ParseError{Reason: "tool invocation is missing a name"}
		return inv
	}
	inv.Input, inv.ParseErr = parseArgs(open.args.String())
	return inv
}

func (p *Parser) finishTagged(header, body string) *Invocation {
	p.seq++
	inv := &Invocation{
		ID:      fmt.Sprintf("tag_%d", p.seq),
		Surface: models.SurfaceTagged,
	}
	if m := nameAttr.FindStringSubmatch(header); m != nil {
		inv.Name = m[1]
	}
	if inv.Name == "" {
		inv.ParseErr = &ParseError{Reason: "tool tag is missing a name attribute"}
		return inv
	}
	inv.Input, inv.ParseErr = parseArgs(body)
	return inv
}

var nameAttr = regexp.MustCompile(`\bname\s*=\s*"([^"]*)"`)

// parseArgs normalizes an argument document. Empty means no arguments;
// anything else must be a JSON object.
func parseArgs(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, &ParseError{Reason: "tool input is not valid JSON"}
	}
	if trimmed[0] != '{' {
		return nil, &ParseError{Reason: "tool input must be a JSON object"}
	}
	return json.RawMessage(trimmed), nil
}

func isMarkerDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '>', '/':
		return true
	}
	return false
}

// overlap returns the length of the longest suffix of s that is a proper
// prefix of marker.
func overlap(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, marker[:k]) {
			return k
		}
	}
	return 0
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
