package qsync

import (
	"errors"
	"fmt"
)

// DefaultCharacterEncoding is used to decode client messages when a
// UserInstance doesn't specify one.
const DefaultCharacterEncoding = "UTF-8"

// UserInstance is the server-side state of one client session: its
// components, addressed by render id, and the transaction id the client must
// echo to be considered synchronized.
//
// A UserInstance is not safe for concurrent use. Hosts must serialize
// processing per session; see Session.RunLockable for one way to do that.
type UserInstance struct {
	// CharacterEncoding of client messages. Empty means UTF-8.
	CharacterEncoding string
	// ClientProperties reported by the client environment (screen size,
	// locale, and so on), decoded by their wire types.
	ClientProperties map[string]interface{}

	components    map[string]Component
	transactionID int
	updateManager *UpdateManager
	focused       Component
}

// NewUserInstance creates an empty user instance at transaction id 0.
func NewUserInstance() *UserInstance {
	return &UserInstance{
		CharacterEncoding: DefaultCharacterEncoding,
		ClientProperties:  make(map[string]interface{}),
		components:        make(map[string]Component),
		updateManager:     newUpdateManager(),
	}
}

// Register makes a component addressable by the client under id. If id is
// empty, a random identifier is assigned; the assigned id is available from
// RenderID afterwards.
//
// obj must be a pointer to a struct embedding Component. Nothing is changed
// if the object is already registered with this user instance.
func (ui *UserInstance) Register(obj interface{}, id string) error {
	if id != "" {
		if existing, exists := ui.components[id]; exists && interface{}(existing) != obj {
			return fmt.Errorf("render id %q is in use", id)
		}
	}

	impl, isNew, err := initComponent(obj, ui, id)
	if err != nil {
		return err
	}

	c := obj.(Component)
	ui.components[impl.id] = c

	if isNew {
		if ic, ok := obj.(ComponentHasInit); ok {
			ic.InitComponent()
		}
	}
	return nil
}

// ComponentByRenderID returns the component registered under id. The error
// wraps ErrUnknownComponent when there is no such component; stale ids from a
// desynchronized client end up here.
func (ui *UserInstance) ComponentByRenderID(id string) (Component, error) {
	c, exists := ui.components[id]
	if !exists {
		return nil, fmt.Errorf("%w: render id %q", ErrUnknownComponent, id)
	}
	return c, nil
}

// Remove unregisters the component with the given id. The object may be
// registered again later.
func (ui *UserInstance) Remove(id string) {
	c, exists := ui.components[id]
	if !exists {
		return
	}
	delete(ui.components, id)
	if impl := componentImplFor(c); impl != nil {
		impl.removed = true
	}
	if ui.focused == c {
		ui.focused = nil
	}
	if d, ok := c.(ComponentHasDispose); ok {
		d.Dispose()
	}
}

// Components returns the number of registered components.
func (ui *UserInstance) Components() int {
	return len(ui.components)
}

// CurrentTransactionID is the id the next client message must carry.
func (ui *UserInstance) CurrentTransactionID() int {
	return ui.transactionID
}

// NextTransactionID advances the transaction id. Hosts call it once per
// response, and send the returned value to the client.
func (ui *UserInstance) NextTransactionID() int {
	ui.transactionID++
	return ui.transactionID
}

func (ui *UserInstance) UpdateManager() *UpdateManager {
	return ui.updateManager
}

// FocusedComponent returns the component focused on the client, or nil.
func (ui *UserInstance) FocusedComponent() Component {
	return ui.focused
}

// SetFocusedComponent records the focused component. A nil component clears
// the focus.
func (ui *UserInstance) SetFocusedComponent(c Component) error {
	if c != nil && c.UserInstance() != ui {
		return errors.New("focused component belongs to another user instance")
	}
	ui.focused = c
	return nil
}
