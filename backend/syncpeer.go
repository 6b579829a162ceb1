package qsync

import (
	"encoding"
	"fmt"
	"reflect"
)

// NoIndex is passed to StoreInputProperty for properties that are not
// indexed.
const NoIndex = -1

// A ComponentSynchronizePeer handles client input for one component type.
//
// Peers are stateless and shared between sessions; all per-session state is
// reached through the Context and the component itself.
type ComponentSynchronizePeer interface {
	// InputPropertyType returns the type of an input property, or nil if
	// the component doesn't accept that property from the client.
	InputPropertyType(property string) reflect.Type
	// EventDataType returns the type of the data carried by an event, or
	// nil if the event carries no data.
	EventDataType(event string) reflect.Type
	// StoreInputProperty stores a decoded property value on the component.
	StoreInputProperty(ctx *Context, c Component, property string, index int, value interface{}) error
	// ProcessEvent dispatches an event fired on the client. data is nil for
	// events without data.
	ProcessEvent(ctx *Context, c Component, event string, data interface{}) error
}

// SynchronizePeerRegistry maps component types to their peers. Types without
// a registered peer use a peer derived from the struct definition; see the
// package documentation.
//
// Like PropertyPeerRegistry, it is populated at startup and sealed when an
// InputProcessor is created.
type SynchronizePeerRegistry struct {
	peers  map[reflect.Type]ComponentSynchronizePeer
	sealed bool
}

func NewSynchronizePeerRegistry() *SynchronizePeerRegistry {
	return &SynchronizePeerRegistry{
		peers: make(map[reflect.Type]ComponentSynchronizePeer),
	}
}

func componentStructType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Register sets the peer for the type of component, which is usually a nil
// or zero value of that type, e.g. (*Button)(nil).
func (r *SynchronizePeerRegistry) Register(component interface{}, peer ComponentSynchronizePeer) error {
	t := reflect.TypeOf(component)
	if t == nil {
		return fmt.Errorf("synchronize peer registration needs a component type")
	}
	t = componentStructType(t)
	if r.sealed {
		return fmt.Errorf("%w: synchronize peer for %s", ErrRegistrySealed, t)
	} else if !typeIsComponent(t) {
		return fmt.Errorf("%w: %s", ErrNotComponent, t)
	}
	r.peers[t] = peer
	return nil
}

// PeerFor returns the peer for the runtime type of c.
func (r *SynchronizePeerRegistry) PeerFor(c Component) (ComponentSynchronizePeer, error) {
	t := componentStructType(reflect.TypeOf(c))
	if peer, exists := r.peers[t]; exists {
		return peer, nil
	}
	info, err := parseType(t)
	if err != nil {
		return nil, err
	}
	return &reflectPeer{info: info}, nil
}

func (r *SynchronizePeerRegistry) seal() {
	r.sealed = true
}

// reflectPeer is the default peer. Input properties are the exported fields
// of the component struct, and events are its handler methods.
type reflectPeer struct {
	info *typeInfo
}

func (p *reflectPeer) InputPropertyType(property string) reflect.Type {
	return p.info.Properties[property]
}

func (p *reflectPeer) EventDataType(event string) reflect.Type {
	return p.info.Events[event].Data
}

func (p *reflectPeer) StoreInputProperty(ctx *Context, c Component, property string, index int, value interface{}) error {
	fieldIndex, exists := p.info.propertyFieldIndex[property]
	if _, accepted := p.info.Properties[property]; !exists || !accepted {
		return fmt.Errorf("%s has no input property %s", p.info.Name, property)
	}

	field := reflect.ValueOf(c).Elem().FieldByIndex(fieldIndex)
	v, err := convertValue(value, field.Type())
	if err != nil {
		return fmt.Errorf("property %s of %s: %w", property, p.info.Name, err)
	}
	field.Set(v)

	ctx.UpdateManager.SetComponentProperty(c, property, v.Interface())
	return nil
}

func (p *reflectPeer) ProcessEvent(ctx *Context, c Component, event string, data interface{}) error {
	ev, exists := p.info.Events[event]
	if !exists {
		ctx.Logger.Warn("no handler for event", "component", c.RenderID(), "type", p.info.Name, "event", event)
		return nil
	}

	method := reflect.ValueOf(c).MethodByName(ev.Method)
	var args []reflect.Value
	if ev.Data != nil {
		arg, err := convertValue(data, ev.Data)
		if err != nil {
			return fmt.Errorf("event %s of %s: %w", event, p.info.Name, err)
		}
		args = append(args, arg)
	}

	ctx.UpdateManager.SetComponentAction(c, event, data)

	for _, rv := range method.Call(args) {
		if rv.Type() == errorType && !rv.IsNil() {
			return rv.Interface().(error)
		}
	}
	return nil
}

// convertValue converts a decoded value to t, directly or through
// encoding.TextUnmarshaler. A nil value becomes the zero value of t.
func convertValue(in interface{}, t reflect.Type) (reflect.Value, error) {
	v := reflect.ValueOf(in)
	if !v.IsValid() {
		return reflect.Zero(t), nil
	} else if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	} else if v.Type().ConvertibleTo(t) && !(t.Kind() == reflect.String && v.Kind() != reflect.String) {
		// Numbers convert to strings as runes, which is never what the client meant
		return v.Convert(t), nil
	} else if v.Kind() == reflect.String && reflect.PtrTo(t).Implements(textUnmarshalerType) {
		out := reflect.New(t)
		if err := out.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			return reflect.Value{}, fmt.Errorf("unmarshal %s failed: %w", t, err)
		}
		return out.Elem(), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", v.Type(), t)
}
