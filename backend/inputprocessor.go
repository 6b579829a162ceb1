package qsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"
)

// ProcessorConfig configures an InputProcessor. Nil registries are replaced
// with the built-in defaults.
type ProcessorConfig struct {
	PropertyPeers    *PropertyPeerRegistry
	SynchronizePeers *SynchronizePeerRegistry
	Directives       *DirectiveRegistry

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// If Debug is set, every client message is written to DebugSink (or
	// stderr) before it is processed.
	Debug     bool
	DebugSink io.Writer
}

// InputProcessor applies client messages to the components of a user
// instance.
//
// Creating an InputProcessor seals its registries; nothing can be registered
// with them afterwards. An InputProcessor may be shared by any number of
// sessions, but calls to Process must be serialized for each user instance.
type InputProcessor struct {
	propertyPeers    *PropertyPeerRegistry
	synchronizePeers *SynchronizePeerRegistry
	directives       *DirectiveRegistry
	logger           *slog.Logger
	debug            bool
	debugSink        io.Writer
}

func NewInputProcessor(cfg ProcessorConfig) *InputProcessor {
	p := &InputProcessor{
		propertyPeers:    cfg.PropertyPeers,
		synchronizePeers: cfg.SynchronizePeers,
		directives:       cfg.Directives,
		logger:           cfg.Logger,
		debug:            cfg.Debug,
		debugSink:        cfg.DebugSink,
	}
	if p.propertyPeers == nil {
		p.propertyPeers = NewPropertyPeerRegistry()
	}
	if p.synchronizePeers == nil {
		p.synchronizePeers = NewSynchronizePeerRegistry()
	}
	if p.directives == nil {
		p.directives = NewDirectiveRegistry()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.debugSink == nil {
		p.debugSink = os.Stderr
	}

	p.propertyPeers.seal()
	p.synchronizePeers.seal()
	p.directives.seal()
	return p
}

// Process reads one client message from conn and applies it.
//
// An initialization message always requests a full refresh and is applied
// regardless of its transaction id. Any other message must carry the current
// transaction id of the user instance; otherwise a full refresh is requested,
// state is marked out of sync, and the message is discarded without error.
//
// state may be nil if the caller doesn't need it.
//
// All returned errors are *SynchronizationError, and the request should fail.
// Property values stored before the failure are not rolled back.
func (p *InputProcessor) Process(ctx context.Context, state *SynchronizationState, conn *Connection) (err error) {
	if conn == nil || conn.UserInstance == nil {
		return syncError("process", errors.New("connection has no user instance"))
	}
	ui := conn.UserInstance
	if state == nil {
		state = &SynchronizationState{}
	}

	start := time.Now()
	_, span := startProcessSpan(ctx, ui)
	defer func() {
		finishProcessSpan(span, state, err)
		span.End()
		processDuration.Observe(time.Since(start).Seconds())
	}()

	doc, err := ParseDocument(conn.Request, ui.CharacterEncoding)
	if err != nil {
		return syncError("parse message", err)
	}
	msg, err := ParseClientMessage(doc)
	if err != nil {
		return syncError("parse message", err)
	}
	setMessageSpanAttributes(span, msg)

	if p.debug {
		if err := doc.WriteIndent(p.debugSink); err != nil {
			return syncError("write debug message", err)
		}
	}

	um := ui.UpdateManager()
	if msg.IsInitialize() {
		um.ProcessFullRefresh()
	} else if msg.TransactionID != ui.CurrentTransactionID() {
		um.ProcessFullRefresh()
		state.SetOutOfSync()
		p.logger.Warn("client out of sync",
			"client_id", msg.TransactionID,
			"server_id", ui.CurrentTransactionID())
	}
	if state.OutOfSync() {
		return nil
	}

	pctx := &Context{
		Connection:       conn,
		UserInstance:     ui,
		PropertyPeers:    p.propertyPeers,
		SynchronizePeers: p.synchronizePeers,
		Message:          msg,
		UpdateManager:    um,
		Logger:           p.logger,
	}
	return msg.Process(pctx, p.directives)
}
