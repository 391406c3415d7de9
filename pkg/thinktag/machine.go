package thinktag

import "strings"

// Kind discriminates the two spans a Machine produces.
type Kind int

const (
	KindText Kind = iota
	KindThinking
)

// Event is one span of recognized output. Machine batches adjacent runes
// of the same Kind into a single Event per Feed call, so a chunk with no
// sentinel activity produces exactly one Event.
type Event struct {
	Kind Kind
	Text string
}

const (
	openSentinel  = "<think>"
	closeSentinel = "</think>"
)

var (
	openRunes  = []rune(openSentinel)
	closeRunes = []rune(closeSentinel)
)

// Machine recognizes <think>...</think> sentinels across an arbitrary
// partition of a text stream into chunks. It holds exactly the state
// needed to do so: whether it is currently inside a thinking span, and
// the runes of a sentinel match in progress.
//
// A Machine is not safe for concurrent use; each streaming turn owns its
// own instance.
type Machine struct {
	inside bool
	buf    []rune
}

// New returns a Machine starting outside any thinking span.
func New() *Machine {
	return &Machine{}
}

func (m *Machine) target() []rune {
	if m.inside {
		return closeRunes
	}
	return openRunes
}

// Feed processes the next chunk of the underlying text stream and
// returns the Events it produces. An empty chunk produces no events.
func (m *Machine) Feed(chunk string) []Event {
	if chunk == "" {
		return nil
	}

	var events []Event
	var pending strings.Builder

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		kind := KindText
		if m.inside {
			kind = KindThinking
		}
		events = append(events, Event{Kind: kind, Text: pending.String()})
		pending.Reset()
	}

	for _, r := range chunk {
		m.buf = append(m.buf, r)

		for {
			target := m.target()

			if runesEqual(m.buf, target) {
				flush()
				m.inside = !m.inside
				m.buf = m.buf[:0]
				break
			}

			if isPrefix(m.buf, target) {
				break
			}

			// m.buf is not (and cannot become, by appending more) a
			// prefix of target: its oldest rune is confirmed literal
			// output. Pop it and re-test the shrunken buffer, since it
			// may itself restart a match (e.g. "<<think>").
			pending.WriteRune(m.buf[0])
			m.buf = m.buf[1:]
			if len(m.buf) == 0 {
				break
			}
		}
	}

	flush()
	return events
}

// Flush emits any runes still buffered as an incomplete sentinel match.
// Call it once at the end of a turn's stream; a dangling "<" or partial
// "</thi" at end-of-stream is ordinary output, not a parse error.
func (m *Machine) Flush() []Event {
	if len(m.buf) == 0 {
		return nil
	}
	kind := KindText
	if m.inside {
		kind = KindThinking
	}
	ev := Event{Kind: kind, Text: string(m.buf)}
	m.buf = m.buf[:0]
	return []Event{ev}
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isPrefix reports whether a is a prefix of b (including a == b, and the
// empty prefix).
func isPrefix(a, b []rune) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
