package qsync

import (
	"fmt"
	"strconv"
)

const (
	// TypeInitialize is the message type sent by a client that is starting
	// up and has no state yet.
	TypeInitialize = "init"

	messageElement   = "cmsg"
	directiveElement = "dir"
)

// ClientMessage is a parsed client message:
//
//	<cmsg t="init" i="7">
//	  <dir proc="CSync">...</dir>
//	</cmsg>
//
// The type attribute is absent for ordinary synchronization messages.
type ClientMessage struct {
	Type string
	// TransactionID is the server transaction id the client last saw, or -1
	// if the message didn't carry one.
	TransactionID int
	Document      *Element
}

// ParseClientMessage reads the message envelope from a parsed document.
func ParseClientMessage(doc *Element) (*ClientMessage, error) {
	if doc == nil || doc.Name != messageElement {
		return nil, fmt.Errorf("%w: root element must be %s", ErrMalformedMessage, messageElement)
	}

	msg := &ClientMessage{
		Type:          doc.Attr("t"),
		TransactionID: -1,
		Document:      doc,
	}
	if v, ok := doc.LookupAttr("i"); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction id %q", ErrMalformedMessage, v)
		}
		msg.TransactionID = id
	}
	return msg, nil
}

func (m *ClientMessage) IsInitialize() bool {
	return m.Type == TypeInitialize
}

// Directives returns the directive elements of the message in document order.
func (m *ClientMessage) Directives() []*Element {
	return m.Document.ChildrenNamed(directiveElement)
}

// Process runs every directive through its processor, in document order. The
// first error stops processing, and is returned as a *SynchronizationError.
func (m *ClientMessage) Process(ctx *Context, directives *DirectiveRegistry) error {
	for _, dir := range m.Directives() {
		name := dir.Attr("proc")
		p, err := directives.processorFor(name)
		if err != nil {
			return syncError("dispatch directive", err)
		}
		if err := p.Process(ctx, dir); err != nil {
			return syncError("process directive "+name, err)
		}
	}
	return nil
}

// A DirectiveProcessor applies one kind of directive, selected by the proc
// attribute of its element.
type DirectiveProcessor interface {
	Process(ctx *Context, dir *Element) error
}

// DirectiveFactory returns the processor for one directive. It's called for
// every directive of its kind.
type DirectiveFactory func() DirectiveProcessor

// DirectiveRegistry maps directive names to processors.
type DirectiveRegistry struct {
	factories map[string]DirectiveFactory
	sealed    bool
}

// NewDirectiveRegistry returns a registry with the built-in processors:
//
//	CSync             component property updates and events
//	ClientProperties  properties of the client environment
//	CFocus            the focused component
func NewDirectiveRegistry() *DirectiveRegistry {
	r := &DirectiveRegistry{factories: make(map[string]DirectiveFactory)}
	r.factories["CSync"] = func() DirectiveProcessor { return componentInputProcessor{} }
	r.factories["ClientProperties"] = func() DirectiveProcessor { return clientPropertiesProcessor{} }
	r.factories["CFocus"] = func() DirectiveProcessor { return focusProcessor{} }
	return r
}

// Register adds or replaces the processor for a directive name.
func (r *DirectiveRegistry) Register(name string, factory DirectiveFactory) error {
	if r.sealed {
		return fmt.Errorf("%w: directive %s", ErrRegistrySealed, name)
	} else if name == "" || factory == nil {
		return fmt.Errorf("directive registration needs a name and a factory")
	}
	r.factories[name] = factory
	return nil
}

func (r *DirectiveRegistry) processorFor(name string) (DirectiveProcessor, error) {
	f, exists := r.factories[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, name)
	}
	return f(), nil
}

func (r *DirectiveRegistry) seal() {
	r.sealed = true
}
