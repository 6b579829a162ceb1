package qsync

// ClientUpdate is one change made by the client during an input pass: either
// a stored property, or a fired event when Event is set.
type ClientUpdate struct {
	RenderID string
	Property string
	Event    string
	Value    interface{}
}

// UpdateManager collects the effects of client input for the outbound update
// pipeline, and carries the full refresh flag.
type UpdateManager struct {
	fullRefresh   bool
	clientUpdates []ClientUpdate
	listeners     []func([]ClientUpdate)
}

func newUpdateManager() *UpdateManager {
	return &UpdateManager{}
}

// ProcessFullRefresh flags that the next response must carry the entire UI
// state rather than an incremental update.
func (m *UpdateManager) ProcessFullRefresh() {
	m.fullRefresh = true
}

func (m *UpdateManager) FullRefreshRequired() bool {
	return m.fullRefresh
}

// ClearFullRefresh is called once a full refresh has been rendered.
func (m *UpdateManager) ClearFullRefresh() {
	m.fullRefresh = false
}

// SetComponentProperty records a property value stored from client input.
func (m *UpdateManager) SetComponentProperty(c Component, property string, value interface{}) {
	m.clientUpdates = append(m.clientUpdates, ClientUpdate{
		RenderID: c.RenderID(),
		Property: property,
		Value:    value,
	})
}

// SetComponentAction records an event fired by the client.
func (m *UpdateManager) SetComponentAction(c Component, event string, data interface{}) {
	m.clientUpdates = append(m.clientUpdates, ClientUpdate{
		RenderID: c.RenderID(),
		Event:    event,
		Value:    data,
	})
}

// ClientUpdates returns the updates recorded since the last call to
// ProcessClientUpdates.
func (m *UpdateManager) ClientUpdates() []ClientUpdate {
	return m.clientUpdates
}

// AddListener registers a function called by every ProcessClientUpdates,
// including those with nothing recorded.
func (m *UpdateManager) AddListener(f func([]ClientUpdate)) {
	m.listeners = append(m.listeners, f)
}

// ProcessClientUpdates hands the recorded client updates to the listeners and
// clears them. It runs once at the end of every synchronized input pass.
func (m *UpdateManager) ProcessClientUpdates() {
	updates := m.clientUpdates
	m.clientUpdates = nil
	for _, f := range m.listeners {
		f(updates)
	}
}
