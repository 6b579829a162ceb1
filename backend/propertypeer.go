package qsync

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// A PropertyPeer decodes the wire fragment of one property or event data
// value into a Go value of the type it is registered for. owner is the type
// of the component the value belongs to, when there is one.
//
// Peers are stateless and shared between sessions. Malformed fragments are
// reported as a *DeserializationError.
type PropertyPeer interface {
	Decode(ctx *Context, owner reflect.Type, el *Element) (interface{}, error)
}

// PropertyPeerFunc adapts a function to PropertyPeer.
type PropertyPeerFunc func(ctx *Context, owner reflect.Type, el *Element) (interface{}, error)

func (f PropertyPeerFunc) Decode(ctx *Context, owner reflect.Type, el *Element) (interface{}, error) {
	return f(ctx, owner, el)
}

// PropertyPeerRegistry maps property types to their peers. Each peer is also
// reachable by a short wire type name, which messages use when the type isn't
// implied by a component (as in client properties).
//
// The registry is populated at startup and sealed when an InputProcessor is
// created; it is read-only, and safe for concurrent use, from then on.
type PropertyPeerRegistry struct {
	byType map[reflect.Type]PropertyPeer
	byName map[string]reflect.Type
	sealed bool
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// NewPropertyPeerRegistry returns a registry with peers for the built-in
// types:
//
//	string     "s"
//	bool       "b"
//	int        "i"
//	int64      "l"
//	float64    "d"
//	time.Time  "t"  (RFC 3339)
//
// Any other type whose pointer implements encoding.TextUnmarshaler is decoded
// from the element text without registration.
func NewPropertyPeerRegistry() *PropertyPeerRegistry {
	r := &PropertyPeerRegistry{
		byType: make(map[reflect.Type]PropertyPeer),
		byName: make(map[string]reflect.Type),
	}
	r.mustRegister(reflect.TypeOf(""), "s", PropertyPeerFunc(decodeString))
	r.mustRegister(reflect.TypeOf(false), "b", parsedPeer(reflect.TypeOf(false), func(s string) (interface{}, error) {
		return strconv.ParseBool(s)
	}))
	r.mustRegister(reflect.TypeOf(0), "i", parsedPeer(reflect.TypeOf(0), func(s string) (interface{}, error) {
		return strconv.Atoi(s)
	}))
	r.mustRegister(reflect.TypeOf(int64(0)), "l", parsedPeer(reflect.TypeOf(int64(0)), func(s string) (interface{}, error) {
		return strconv.ParseInt(s, 10, 64)
	}))
	r.mustRegister(reflect.TypeOf(float64(0)), "d", parsedPeer(reflect.TypeOf(float64(0)), func(s string) (interface{}, error) {
		return strconv.ParseFloat(s, 64)
	}))
	r.mustRegister(reflect.TypeOf(time.Time{}), "t", parsedPeer(reflect.TypeOf(time.Time{}), func(s string) (interface{}, error) {
		return time.Parse(time.RFC3339, s)
	}))
	return r
}

func (r *PropertyPeerRegistry) mustRegister(t reflect.Type, wireName string, peer PropertyPeer) {
	if err := r.Register(t, wireName, peer); err != nil {
		panic(err)
	}
}

// Register adds a peer for values of type t. wireName may be empty if the
// type has no wire name. Registering a type again replaces its peer.
func (r *PropertyPeerRegistry) Register(t reflect.Type, wireName string, peer PropertyPeer) error {
	if r.sealed {
		return fmt.Errorf("%w: property peer for %s", ErrRegistrySealed, typeString(t))
	} else if t == nil || peer == nil {
		return fmt.Errorf("property peer registration needs a type and a peer")
	}
	if wireName != "" {
		if existing, exists := r.byName[wireName]; exists && existing != t {
			return fmt.Errorf("wire type name %q is already used by %s", wireName, existing)
		}
		r.byName[wireName] = t
	}
	r.byType[t] = peer
	return nil
}

// PeerForType returns the peer for t, or nil if none is available.
func (r *PropertyPeerRegistry) PeerForType(t reflect.Type) PropertyPeer {
	if t == nil {
		return nil
	}
	if peer, exists := r.byType[t]; exists {
		return peer
	}
	if reflect.PtrTo(t).Implements(textUnmarshalerType) {
		return textPeer{t}
	}
	return nil
}

// PeerForName returns the peer and value type for a wire type name. The peer
// is nil if the name is unknown.
func (r *PropertyPeerRegistry) PeerForName(wireName string) (PropertyPeer, reflect.Type) {
	t, exists := r.byName[wireName]
	if !exists {
		return nil, nil
	}
	return r.byType[t], t
}

func (r *PropertyPeerRegistry) seal() {
	r.sealed = true
}

func decodeString(ctx *Context, owner reflect.Type, el *Element) (interface{}, error) {
	return el.Text, nil
}

// parsedPeer builds a peer from a parse function over the trimmed element
// text. Parse errors become DeserializationErrors.
func parsedPeer(t reflect.Type, parse func(string) (interface{}, error)) PropertyPeer {
	return PropertyPeerFunc(func(ctx *Context, owner reflect.Type, el *Element) (interface{}, error) {
		v, err := parse(strings.TrimSpace(el.Text))
		if err != nil {
			return nil, &DeserializationError{Type: t, Err: err}
		}
		return v, nil
	})
}

type textPeer struct {
	t reflect.Type
}

func (p textPeer) Decode(ctx *Context, owner reflect.Type, el *Element) (interface{}, error) {
	v := reflect.New(p.t)
	um := v.Interface().(encoding.TextUnmarshaler)
	if err := um.UnmarshalText([]byte(strings.TrimSpace(el.Text))); err != nil {
		return nil, &DeserializationError{Type: p.t, Err: err}
	}
	return v.Elem().Interface(), nil
}
