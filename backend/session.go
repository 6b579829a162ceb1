package qsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Session processes a stream of client messages for one user instance, and
// answers each with an acknowledgement (see WriteAck).
//
// Components of the user instance are only accessed during calls to Process
// or Run. Applications that change components from other goroutines should
// use RunLockable, or call Process themselves.
type Session struct {
	UserInstance *UserInstance

	conn      MessageConn
	processor *InputProcessor
	logger    *slog.Logger

	mu      sync.Mutex
	err     error
	started bool

	processSignal chan struct{}
	queue         chan []byte
}

// NewSession creates a session reading messages from conn. Processing starts
// with the first call to Run, Process or ProcessSignal.
func NewSession(conn MessageConn, ui *UserInstance, processor *InputProcessor) *Session {
	return &Session{
		UserInstance:  ui,
		conn:          conn,
		processor:     processor,
		logger:        processor.logger,
		processSignal: make(chan struct{}, 2),
		queue:         make(chan []byte, 128),
	}
}

func (s *Session) fatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.logger.Error("session failed", "error", err)
		s.err = err
		s.conn.Close()
	}
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// handle runs in an internal goroutine to read from conn. Messages are posted
// to the queue and processSignal is triggered.
func (s *Session) handle() {
	defer close(s.processSignal)
	defer close(s.queue)

	for s.Err() == nil {
		blob, err := s.conn.ReadMessage()
		if errors.Is(err, io.EOF) {
			return
		} else if err != nil {
			s.fatal(fmt.Errorf("read error: %w", err))
			return
		}

		s.queue <- blob
		s.processSignal <- struct{}{}
	}
}

func (s *Session) ensureHandler() error {
	s.mu.Lock()
	started := s.started
	s.started = true
	s.mu.Unlock()

	if !started {
		if s.UserInstance == nil {
			// handle exits at once, closing the channels
			s.fatal(errors.New("session has no user instance"))
		}
		go s.handle()
	}
	return s.Err()
}

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Run processes messages until the connection is closed or ctx is done. A
// connection closed by the client ends Run without error.
//
// Run is equivalent to a loop of Process and ProcessSignal.
func (s *Session) Run(ctx context.Context) error {
	s.ensureHandler()
	for {
		select {
		case _, open := <-s.processSignal:
			if !open {
				return s.Err()
			}
			if err := s.Process(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			s.fatal(ctx.Err())
			return s.Err()
		}
	}
}

// Process handles any pending messages, but does not block to wait for new
// messages. ProcessSignal signals when there are messages to process.
//
// Process returns nil when no messages are pending. All errors are fatal for
// the session.
func (s *Session) Process(ctx context.Context) error {
	s.ensureHandler()

	for {
		var data []byte
		select {
		case blob, open := <-s.queue:
			if !open {
				return s.Err()
			}
			data = blob
		default:
			return s.Err()
		}

		state := &SynchronizationState{}
		if err := s.processor.Process(ctx, state, NewConnectionBytes(data, s.UserInstance)); err != nil {
			s.fatal(err)
			return err
		}

		ack, err := MarshalAck(s.UserInstance, state)
		if err == nil {
			err = s.conn.WriteMessage(ack)
		}
		if err != nil {
			err = fmt.Errorf("write acknowledgement: %w", err)
			s.fatal(err)
			return err
		}
	}
}

func (s *Session) ProcessSignal() <-chan struct{} {
	s.ensureHandler()
	return s.processSignal
}

// loopLock is a sync.Locker served by the RunLockable loop. While it is held,
// the loop is parked and cannot process messages.
type loopLock struct {
	acquire chan struct{}
	release chan struct{}
}

func (l *loopLock) Lock() {
	l.acquire <- struct{}{}
}

func (l *loopLock) Unlock() {
	l.release <- struct{}{}
}

// RunLockable executes Run in a separate goroutine and returns a sync.Locker,
// which can be used for mutually exclusive execution with Process. That is,
// locking guarantees that Process is not and will not run until unlocked.
//
// Components of the user instance can be safely modified while holding this
// lock.
//
// RunLockable also returns a channel, which will receive one error value and
// close when the session ends. Lock must not be called after that.
func (s *Session) RunLockable(ctx context.Context) (sync.Locker, <-chan error) {
	lock := &loopLock{
		acquire: make(chan struct{}),
		release: make(chan struct{}),
	}
	errChannel := make(chan error, 1)

	if err := s.ensureHandler(); err != nil {
		errChannel <- err
		close(errChannel)
		return lock, errChannel
	}

	go func() {
		defer close(errChannel)
		for {
			select {
			case _, open := <-s.processSignal:
				if !open {
					errChannel <- s.Err()
					return
				} else if err := s.Process(ctx); err != nil {
					errChannel <- err
					return
				}
			case <-ctx.Done():
				s.fatal(ctx.Err())
				errChannel <- s.Err()
				return
			case <-lock.acquire:
				<-lock.release
			}
		}
	}()

	return lock, errChannel
}
