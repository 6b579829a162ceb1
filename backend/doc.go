// Package qsync implements the server side of input processing for a
// client/server UI synchronization protocol.
//
// The server holds a tree of components; the client renders a mirror of that
// tree. When the user edits a field or clicks a button, the client sends a
// message describing the changed properties and the fired event, and qsync
// applies it to the server's components.
//
// Components
//
// Any struct embedding Component is a component. Its exported fields are
// properties the client may set, and its exported methods are events the
// client may fire:
//
//	type TextField struct {
//	    qsync.Component
//	    Text    string
//	    Length  int    `qsync:",output"`
//	    Secret  string `qsync:"-"`
//	}
//
//	func (f *TextField) Submit() {
//	    ...
//	}
//
// Property and event names are the field and method names with a lower case
// first letter, unless a qsync tag names the property. Fields tagged output
// are sent to the client but never accepted from it. An event method may take
// one parameter, the event data, and may return an error.
//
// Components are registered with a UserInstance, the state of one client
// session, under a render id the client uses to address them:
//
//	ui := qsync.NewUserInstance()
//	ui.Register(&TextField{}, "name")
//
// Peers
//
// Values on the wire are decoded by a PropertyPeer for their Go type. The
// PropertyPeerRegistry has peers for strings, booleans, integers, floats and
// times, and decodes any encoding.TextUnmarshaler; other types need a peer.
//
// A ComponentSynchronizePeer stores properties and dispatches events for a
// component type. The default peer works by reflection as described above,
// and a custom peer can be registered with the SynchronizePeerRegistry for
// types that need different handling.
//
// All registries must be populated before the first InputProcessor is
// created. They can't be changed after that.
//
// Processing
//
// InputProcessor.Process applies one message. A message is a set of
// directives, each handled by the DirectiveProcessor named in it. The
// component input directive stores every property value first, and then
// dispatches the event, so that event handlers see the new values.
//
// Each message must carry the transaction id of the user instance, which is
// advanced with every response. A message with any other id comes from a
// client that is out of sync: it is discarded, and the next response must be
// a full refresh. Initialization messages are always applied.
//
// Nothing in this package is safe for concurrent use on one user instance.
// Hosts must process messages for a session one at a time. Session does that
// for message streams, and RunLockable gives the application a lock to
// modify components safely between messages.
package qsync
