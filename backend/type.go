package qsync

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Methods of Component and its optional interfaces are never events.
var methodBlacklist = []string{
	"RenderID",
	"UserInstance",
	"InitComponent",
	"Dispose",
}

// typeInfo is the parsed representation of a component struct: the properties
// the client may write and the events it may fire.
type typeInfo struct {
	Name string
	// Properties accepted as client input, by property name
	Properties map[string]reflect.Type
	// Output-only properties; the client can't write these
	Outputs map[string]reflect.Type
	Events  map[string]eventInfo

	propertyFieldIndex map[string][]int
}

type eventInfo struct {
	Method string
	// Data is nil for events that carry no data
	Data reflect.Type
}

var (
	knownTypeInfo   = make(map[reflect.Type]*typeInfo)
	knownTypeInfoMu sync.RWMutex
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
)

func typeIsComponent(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	f, ok := t.FieldByName("Component")
	return ok && f.Anonymous && f.Type == componentType
}

// typeFieldTag splits a `qsync:"name,option"` tag.
func typeFieldTag(field reflect.StructField) (string, map[string]bool) {
	tag := field.Tag.Get("qsync")
	if tag == "" {
		return "", nil
	}
	parts := strings.Split(tag, ",")
	opts := make(map[string]bool)
	for _, o := range parts[1:] {
		opts[strings.TrimSpace(o)] = true
	}
	return parts[0], opts
}

func typeShouldIgnoreField(field reflect.StructField) bool {
	if field.PkgPath != "" || field.Tag.Get("qsync") == "-" {
		// Unexported or ignored field
		return true
	} else if field.Name == "Component" && field.Type == componentType {
		return true
	} else if field.Type.Kind() == reflect.Func || field.Type.Kind() == reflect.Chan {
		return true
	}
	return false
}

func typeShouldIgnoreMethod(method reflect.Method) bool {
	if method.PkgPath != "" {
		return true
	}
	for _, badName := range methodBlacklist {
		if method.Name == badName {
			return true
		}
	}
	return false
}

func lowerFirst(name string) string {
	if len(name) > 0 {
		name = strings.ToLower(name[:1]) + name[1:]
	}
	return name
}

func typeFieldName(field reflect.StructField) string {
	if name, _ := typeFieldTag(field); name != "" {
		return name
	}
	return lowerFirst(field.Name)
}

// typeEventName is the event type fired by the client for a handler method.
func typeEventName(method reflect.Method) string {
	return lowerFirst(method.Name)
}

// typeEventData returns the data type of an event handler, and false if the
// method can't be used as a handler at all. Handlers take at most one
// parameter and return nothing or an error.
func typeEventData(method reflect.Method) (reflect.Type, bool) {
	mt := method.Type
	// In(0) is the receiver
	if mt.NumIn() > 2 || mt.IsVariadic() {
		return nil, false
	}
	if mt.NumOut() > 1 || (mt.NumOut() == 1 && mt.Out(0) != errorType) {
		return nil, false
	}
	if mt.NumIn() == 2 {
		return mt.In(1), true
	}
	return nil, true
}

func parseType(t reflect.Type) (*typeInfo, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	knownTypeInfoMu.RLock()
	info, exists := knownTypeInfo[t]
	knownTypeInfoMu.RUnlock()
	if exists {
		return info, nil
	}

	if !typeIsComponent(t) {
		return nil, fmt.Errorf("type '%s' is not a component; it must embed Component", t.Name())
	}

	info = &typeInfo{
		Name:               t.Name(),
		Properties:         make(map[string]reflect.Type),
		Outputs:            make(map[string]reflect.Type),
		Events:             make(map[string]eventInfo),
		propertyFieldIndex: make(map[string][]int),
	}

	if err := typeFieldsToTypeInfo(info, t, nil); err != nil {
		return nil, err
	}

	ptrType := reflect.PtrTo(t)
	for i := 0; i < ptrType.NumMethod(); i++ {
		method := ptrType.Method(i)
		if typeShouldIgnoreMethod(method) {
			continue
		}
		data, ok := typeEventData(method)
		if !ok {
			continue
		}
		info.Events[typeEventName(method)] = eventInfo{Method: method.Name, Data: data}
	}

	knownTypeInfoMu.Lock()
	if existing, ok := knownTypeInfo[t]; ok {
		info = existing
	} else {
		knownTypeInfo[t] = info
	}
	knownTypeInfoMu.Unlock()
	return info, nil
}

func typeFieldsToTypeInfo(info *typeInfo, t reflect.Type, index []int) error {
	var anonStructs []reflect.StructField

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if typeShouldIgnoreField(field) {
			continue
		} else if field.Anonymous && field.Type.Kind() == reflect.Struct {
			// Recurse into these at the end for breadth-first
			anonStructs = append(anonStructs, field)
			continue
		} else if field.Anonymous && field.Type.Kind() == reflect.Ptr {
			// Embedded pointers may be nil; their fields can't be addressed safely
			continue
		}

		name := typeFieldName(field)
		if _, exists := info.propertyFieldIndex[name]; exists {
			// Shallower fields win, as with Go field promotion
			continue
		}

		fieldIndex := make([]int, 0, len(index)+1)
		fieldIndex = append(append(fieldIndex, index...), field.Index...)
		info.propertyFieldIndex[name] = fieldIndex

		if _, opts := typeFieldTag(field); opts["output"] {
			info.Outputs[name] = field.Type
		} else {
			info.Properties[name] = field.Type
		}
	}

	for _, ast := range anonStructs {
		anonIndex := make([]int, 0, len(index)+1)
		anonIndex = append(append(anonIndex, index...), ast.Index...)
		if err := typeFieldsToTypeInfo(info, ast.Type, anonIndex); err != nil {
			return err
		}
	}
	return nil
}

func (t *typeInfo) String() string {
	desc := struct {
		Name       string            `json:"name"`
		Properties map[string]string `json:"properties"`
		Outputs    map[string]string `json:"outputs"`
		Events     map[string]string `json:"events"`
	}{t.Name, make(map[string]string), make(map[string]string), make(map[string]string)}

	for name, pt := range t.Properties {
		desc.Properties[name] = pt.String()
	}
	for name, pt := range t.Outputs {
		desc.Outputs[name] = pt.String()
	}
	for name, ev := range t.Events {
		desc.Events[name] = typeString(ev.Data)
	}

	str, _ := json.MarshalIndent(desc, "", "  ")
	return string(str)
}
