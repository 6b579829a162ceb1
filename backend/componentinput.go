package qsync

import "reflect"

// Wire names of the component input directive:
//
//	<dir proc="CSync">
//	  <p i="c1" n="text">hello</p>
//	  <e t="action" i="c2"/>
//	</dir>
const (
	propertyElement = "p"
	eventElement    = "e"
)

// EventRecord is the event fired by the client in a directive. Data is the
// event element, which carries any event data as its content.
type EventRecord struct {
	ComponentID string
	Type        string
	Data        *Element
}

// Directive is the parsed form of a component input directive: the
// property values sent for each component, and at most one event.
type Directive struct {
	// Properties maps render id to property name to the value element
	Properties map[string]map[string]*Element
	Event      *EventRecord

	componentOrder []string
	propertyOrder  map[string][]string
}

// ParseDirective extracts property values and the event from a directive
// element. When a property of a component appears more than once, the last
// value is used. Only the first event element is considered.
func ParseDirective(dir *Element) *Directive {
	d := &Directive{
		Properties:    make(map[string]map[string]*Element),
		propertyOrder: make(map[string][]string),
	}

	for _, el := range dir.Children {
		switch el.Name {
		case eventElement:
			if d.Event == nil {
				d.Event = &EventRecord{
					ComponentID: el.Attr("i"),
					Type:        el.Attr("t"),
					Data:        el,
				}
			}

		case propertyElement:
			id, name := el.Attr("i"), el.Attr("n")
			props, exists := d.Properties[id]
			if !exists {
				props = make(map[string]*Element)
				d.Properties[id] = props
				d.componentOrder = append(d.componentOrder, id)
			}
			if _, exists := props[name]; !exists {
				d.propertyOrder[id] = append(d.propertyOrder[id], name)
			}
			props[name] = el
		}
	}
	return d
}

// ComponentIDs returns the render ids with property values, in the order
// they first appear.
func (d *Directive) ComponentIDs() []string {
	return d.componentOrder
}

// PropertyNames returns the properties sent for a component, in the order
// they first appear.
func (d *Directive) PropertyNames(id string) []string {
	return d.propertyOrder[id]
}

// componentInputProcessor stores client property values on components and
// then dispatches the event, if there is one. Handlers always see every
// property of the directive already stored.
type componentInputProcessor struct{}

func (componentInputProcessor) Process(ctx *Context, dir *Element) error {
	d := ParseDirective(dir)

	for _, id := range d.ComponentIDs() {
		if err := applyProperties(ctx, id, d); err != nil {
			return err
		}
	}

	if d.Event != nil {
		if err := dispatchEvent(ctx, d.Event); err != nil {
			return err
		}
	}

	ctx.UpdateManager.ProcessClientUpdates()
	return nil
}

func resolveComponent(ctx *Context, id string) (Component, ComponentSynchronizePeer, error) {
	c, err := ctx.UserInstance.ComponentByRenderID(id)
	if err != nil {
		return nil, nil, syncError("resolve component", err)
	}
	peer, err := ctx.SynchronizePeers.PeerFor(c)
	if err != nil {
		return nil, nil, syncError("resolve synchronize peer", err)
	}
	return c, peer, nil
}

func applyProperties(ctx *Context, id string, d *Directive) error {
	c, peer, err := resolveComponent(ctx, id)
	if err != nil {
		return err
	}
	owner := reflect.TypeOf(c)

	for _, name := range d.PropertyNames(id) {
		t := peer.InputPropertyType(name)
		if t == nil {
			ctx.warn("could not determine type of property", "component", id, "property", name)
			propertiesSkipped.WithLabelValues(skipUndeclared).Inc()
			continue
		}
		pp := ctx.PropertyPeers.PeerForType(t)
		if pp == nil {
			ctx.warn("no peer available for property", "component", id, "property", name, "type", t.String())
			propertiesSkipped.WithLabelValues(skipNoPeer).Inc()
			continue
		}

		value, err := pp.Decode(ctx, owner, d.Properties[id][name])
		if err != nil {
			return syncError("decode property "+name, err)
		}
		if err := peer.StoreInputProperty(ctx, c, name, NoIndex, value); err != nil {
			return syncError("store property "+name, err)
		}
		propertiesStored.Inc()
	}
	return nil
}

func dispatchEvent(ctx *Context, ev *EventRecord) error {
	c, peer, err := resolveComponent(ctx, ev.ComponentID)
	if err != nil {
		return err
	}

	var data interface{}
	dataLabel := eventDataNone
	if t := peer.EventDataType(ev.Type); t != nil {
		if pp := ctx.PropertyPeers.PeerForType(t); pp == nil {
			ctx.warn("no peer available for event data", "component", ev.ComponentID, "event", ev.Type, "type", t.String())
			dataLabel = eventDataNoPeer
		} else {
			data, err = pp.Decode(ctx, reflect.TypeOf(c), ev.Data)
			if err != nil {
				return syncError("decode event "+ev.Type, err)
			}
			dataLabel = eventDataDecoded
		}
	}

	if err := peer.ProcessEvent(ctx, c, ev.Type, data); err != nil {
		return syncError("process event "+ev.Type, err)
	}
	eventsDispatched.WithLabelValues(dataLabel).Inc()
	return nil
}
