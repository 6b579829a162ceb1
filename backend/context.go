package qsync

import "log/slog"

// Context carries everything an input pass needs. It is built once per
// message by InputProcessor.Process and handed to directive processors and
// peers; none of its fields change during the pass.
type Context struct {
	Connection       *Connection
	UserInstance     *UserInstance
	PropertyPeers    *PropertyPeerRegistry
	SynchronizePeers *SynchronizePeerRegistry
	Message          *ClientMessage
	UpdateManager    *UpdateManager
	Logger           *slog.Logger
}

func (ctx *Context) warn(msg string, args ...interface{}) {
	ctx.Logger.Warn(msg, args...)
}
