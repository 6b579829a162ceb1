package qsync

import (
	"errors"
	"reflect"

	uuid "github.com/satori/go.uuid"
)

// Add names of any functions in Component to the blacklist in type.go

// The Component interface must be embedded in any struct that the client can
// address. Embedding it makes the struct's exported fields input properties
// and its exported methods event handlers; see the package documentation.
//
// The embedded Component is filled in by UserInstance.Register. Until then it
// is nil, and calling its methods will panic.
type Component interface {
	// RenderID is the identifier used by the client to address this
	// component.
	RenderID() string
	// UserInstance returns the session the component is registered with.
	UserInstance() *UserInstance
}

// If a type embedding Component implements ComponentHasInit, InitComponent is
// called immediately after the component is first registered.
type ComponentHasInit interface {
	Component
	InitComponent()
}

// If a type embedding Component implements ComponentHasDispose, Dispose is
// called when the component is removed from its user instance.
type ComponentHasDispose interface {
	Component
	Dispose()
}

type componentImpl struct {
	ui      *UserInstance
	id      string
	removed bool

	object   interface{}
	typeInfo *typeInfo
}

var componentType = reflect.TypeOf((*Component)(nil)).Elem()

func (c *componentImpl) RenderID() string {
	return c.id
}

func (c *componentImpl) UserInstance() *UserInstance {
	return c.ui
}

// componentField returns the embedded Component field of the struct pointed
// to by obj.
func componentField(obj interface{}) (reflect.Value, bool) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr {
		return reflect.Value{}, false
	}
	v = v.Elem()
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	sField, ok := v.Type().FieldByName("Component")
	if !ok || !sField.Anonymous || sField.Type != componentType {
		return reflect.Value{}, false
	}
	f, err := v.FieldByIndexErr(sField.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	return f, true
}

// ComponentFor indicates whether a value is a component, and returns the
// embedded Component instance if it has been registered.
func ComponentFor(obj interface{}) (bool, Component) {
	f, ok := componentField(obj)
	if !ok {
		return false, nil
	}
	if f.IsNil() {
		return true, nil
	}
	return true, f.Interface().(Component)
}

func componentImplFor(obj interface{}) *componentImpl {
	is, c := ComponentFor(obj)
	if !is || c == nil {
		return nil
	}
	impl, _ := c.(*componentImpl)
	return impl
}

func newRenderID() string {
	u, _ := uuid.NewV4()
	return u.String()
}

func initComponent(object interface{}, ui *UserInstance, id string) (*componentImpl, bool, error) {
	field, ok := componentField(object)
	if !ok {
		return nil, false, ErrNotComponent
	}

	impl, _ := field.Interface().(*componentImpl)
	if impl != nil {
		if impl.ui != ui {
			return nil, false, errors.New("component is registered with another user instance")
		}
		if !impl.removed {
			return impl, false, nil
		}
		// Registering again after Remove
		impl.removed = false
		if id != "" {
			impl.id = id
		}
		return impl, false, nil
	}

	ti, err := parseType(reflect.TypeOf(object))
	if err != nil {
		return nil, false, err
	}
	if id == "" {
		id = newRenderID()
	}
	impl = &componentImpl{
		ui:       ui,
		id:       id,
		object:   object,
		typeInfo: ti,
	}
	field.Set(reflect.ValueOf(impl))
	return impl, true, nil
}
