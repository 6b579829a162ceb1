package qsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TextField struct {
	Component
	Text  string
	Count int
	Tags  []string
	Total int `qsync:",output"`

	actions     []string
	submittedAt time.Time
}

func (f *TextField) Submit(at time.Time) {
	f.actions = append(f.actions, "submit:"+f.Text)
	f.submittedAt = at
}

func (f *TextField) Tag(tags []string) {
	f.actions = append(f.actions, fmt.Sprintf("tag:%d", len(tags)))
}

func (f *TextField) Fail() error {
	return errors.New("handler failed")
}

type Button struct {
	Component
}

// recordingPeer logs every call, so tests can check ordering across
// components.
type recordingPeer struct {
	calls *[]string
}

func (p recordingPeer) InputPropertyType(property string) reflect.Type {
	if property == "label" {
		return reflect.TypeOf("")
	}
	return nil
}

func (p recordingPeer) EventDataType(event string) reflect.Type {
	if event == "pressWith" {
		return reflect.TypeOf(0)
	}
	return nil
}

func (p recordingPeer) StoreInputProperty(ctx *Context, c Component, property string, index int, value interface{}) error {
	*p.calls = append(*p.calls, fmt.Sprintf("store %s.%s=%v", c.RenderID(), property, value))
	return nil
}

func (p recordingPeer) ProcessEvent(ctx *Context, c Component, event string, data interface{}) error {
	*p.calls = append(*p.calls, fmt.Sprintf("event %s.%s(%v)", c.RenderID(), event, data))
	return nil
}

type processorFixture struct {
	ui        *UserInstance
	processor *InputProcessor
	logs      *bytes.Buffer
	calls     []string

	field  *TextField
	button *Button

	flushes int
	updates []ClientUpdate
}

func newProcessorFixture(t *testing.T, cfg ProcessorConfig) *processorFixture {
	t.Helper()
	f := &processorFixture{
		ui:   NewUserInstance(),
		logs: &bytes.Buffer{},
	}

	if cfg.SynchronizePeers == nil {
		cfg.SynchronizePeers = NewSynchronizePeerRegistry()
	}
	require.NoError(t, cfg.SynchronizePeers.Register((*Button)(nil), recordingPeer{&f.calls}))
	cfg.Logger = slog.New(slog.NewTextHandler(f.logs, nil))
	f.processor = NewInputProcessor(cfg)

	f.field = &TextField{}
	require.NoError(t, f.ui.Register(f.field, "c1"))
	f.button = &Button{}
	require.NoError(t, f.ui.Register(f.button, "b1"))

	f.ui.UpdateManager().AddListener(func(updates []ClientUpdate) {
		f.flushes++
		f.updates = updates
	})
	return f
}

func (f *processorFixture) process(t *testing.T, msg string) (*SynchronizationState, error) {
	t.Helper()
	state := &SynchronizationState{}
	err := f.processor.Process(context.Background(), state, NewConnection(strings.NewReader(msg), f.ui))
	return state, err
}

func TestProcessStoresProperty(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	state, err := f.process(t, `<cmsg i="0"><dir proc="CSync"><p i="c1" n="text">hello</p></dir></cmsg>`)
	require.NoError(t, err)

	assert.False(t, state.OutOfSync())
	assert.Equal(t, "hello", f.field.Text)
	assert.Equal(t, 1, f.flushes)
	assert.Empty(t, f.field.actions)
	assert.Empty(t, f.calls)
	assert.Equal(t, []ClientUpdate{{RenderID: "c1", Property: "text", Value: "hello"}}, f.updates)
	assert.False(t, f.ui.UpdateManager().FullRefreshRequired())
}

func TestProcessWithoutEvent(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync">
  <p i="c1" n="text">abc</p>
  <p i="c1" n="count">3</p>
  <p i="b1" n="label">OK</p>
</dir></cmsg>`)
	require.NoError(t, err)

	assert.Equal(t, "abc", f.field.Text)
	assert.Equal(t, 3, f.field.Count)
	assert.Equal(t, []string{"store b1.label=OK"}, f.calls)
	assert.Empty(t, f.field.actions)
}

func TestProcessLastWriteWins(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync">
  <p i="c1" n="text">first</p>
  <p i="b1" n="label">one</p>
  <p i="c1" n="text">second</p>
  <p i="b1" n="label">two</p>
</dir></cmsg>`)
	require.NoError(t, err)

	assert.Equal(t, "second", f.field.Text)
	assert.Equal(t, []string{"store b1.label=two"}, f.calls)
}

func TestProcessEventAfterProperties(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	// The event comes first on the wire, and targets a different component
	// from some of the properties
	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync">
  <e t="press" i="b1"/>
  <p i="b1" n="label">go</p>
  <p i="c1" n="text">typed</p>
</dir></cmsg>`)
	require.NoError(t, err)
	assert.Equal(t, []string{"store b1.label=go", "event b1.press(<nil>)"}, f.calls)

	_, err = f.process(t, `<cmsg i="0"><dir proc="CSync">
  <e t="submit" i="c1">2024-03-01T12:30:00Z</e>
  <p i="c1" n="text">final</p>
</dir></cmsg>`)
	require.NoError(t, err)
	assert.Equal(t, []string{"submit:final"}, f.field.actions)
	assert.True(t, f.field.submittedAt.Equal(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)))

	require.Len(t, f.updates, 2)
	assert.Equal(t, "text", f.updates[0].Property)
	assert.Equal(t, "submit", f.updates[1].Event)
}

func TestProcessEventData(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync"><e t="pressWith" i="b1">7</e></dir></cmsg>`)
	require.NoError(t, err)
	assert.Equal(t, []string{"event b1.pressWith(7)"}, f.calls)
}

func TestProcessOutOfSync(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	for i := 0; i < 7; i++ {
		f.ui.NextTransactionID()
	}

	state, err := f.process(t, `<cmsg i="5"><dir proc="CSync">
  <p i="c1" n="text">stale</p>
  <p i="b1" n="label">stale</p>
  <e t="press" i="b1"/>
</dir></cmsg>`)
	require.NoError(t, err)

	assert.True(t, state.OutOfSync())
	assert.True(t, f.ui.UpdateManager().FullRefreshRequired())
	assert.Equal(t, "", f.field.Text)
	assert.Empty(t, f.calls)
	assert.Equal(t, 0, f.flushes)
	assert.Contains(t, f.logs.String(), `msg="client out of sync" client_id=5 server_id=7`)
}

func TestProcessMissingTransactionID(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	state, err := f.process(t, `<cmsg><dir proc="CSync"><p i="c1" n="text">x</p></dir></cmsg>`)
	require.NoError(t, err)
	assert.True(t, state.OutOfSync())
	assert.Equal(t, "", f.field.Text)
}

func TestProcessInitialize(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	f.ui.NextTransactionID()

	state, err := f.process(t, `<cmsg t="init" i="99"><dir proc="CSync"><p i="c1" n="text">boot</p></dir></cmsg>`)
	require.NoError(t, err)

	assert.False(t, state.OutOfSync())
	assert.True(t, f.ui.UpdateManager().FullRefreshRequired())
	assert.Equal(t, "boot", f.field.Text)
	assert.Equal(t, 1, f.flushes)
	assert.NotContains(t, f.logs.String(), "client out of sync")
}

func TestProcessSkipsUndeclaredProperties(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync">
  <p i="c1" n="bogus">x</p>
  <p i="c1" n="total">100</p>
  <p i="c1" n="text">kept</p>
  <p i="b1" n="bogus">y</p>
  <p i="b1" n="label">kept</p>
</dir></cmsg>`)
	require.NoError(t, err)

	assert.Equal(t, "kept", f.field.Text)
	assert.Equal(t, 0, f.field.Total)
	assert.Equal(t, []string{"store b1.label=kept"}, f.calls)
	assert.Equal(t, 3, strings.Count(f.logs.String(), `msg="could not determine type of property"`))
	assert.Contains(t, f.logs.String(), "component=c1 property=bogus")
}

func TestProcessSkipsPropertyWithoutPeer(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync">
  <p i="c1" n="tags">a b</p>
  <p i="c1" n="text">kept</p>
</dir></cmsg>`)
	require.NoError(t, err)

	assert.Nil(t, f.field.Tags)
	assert.Equal(t, "kept", f.field.Text)
	assert.Contains(t, f.logs.String(), `msg="no peer available for property" component=c1 property=tags type=[]string`)
}

func TestProcessEventWithoutDataPeer(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync"><e t="tag" i="c1">a b</e></dir></cmsg>`)
	require.NoError(t, err)

	assert.Equal(t, []string{"tag:0"}, f.field.actions)
	assert.Contains(t, f.logs.String(), `msg="no peer available for event data" component=c1 event=tag type=[]string`)
}

func TestProcessFatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		target error
	}{
		{"malformed xml", `<cmsg i="0"><dir>`, nil},
		{"bad transaction id", `<cmsg i="x"/>`, ErrMalformedMessage},
		{"unknown processor", `<cmsg i="0"><dir proc="Nope"/></cmsg>`, ErrUnknownProcessor},
		{"unknown component", `<cmsg i="0"><dir proc="CSync"><p i="gone" n="text">x</p></dir></cmsg>`, ErrUnknownComponent},
		{"unknown event component", `<cmsg i="0"><dir proc="CSync"><e t="press" i="gone"/></dir></cmsg>`, ErrUnknownComponent},
		{"handler error", `<cmsg i="0"><dir proc="CSync"><e t="fail" i="c1"/></dir></cmsg>`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessorFixture(t, ProcessorConfig{})
			_, err := f.process(t, tt.msg)

			var se *SynchronizationError
			require.True(t, errors.As(err, &se), "expected a SynchronizationError, got %v", err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "expected %v, got %v", tt.target, err)
			}
			assert.Equal(t, 0, f.flushes)
		})
	}
}

func TestProcessDecodeErrors(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync">
  <p i="c1" n="text">stored</p>
  <p i="c1" n="count">three</p>
</dir></cmsg>`)
	var de *DeserializationError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, reflect.TypeOf(0), de.Type)
	// Values stored before the failure stay
	assert.Equal(t, "stored", f.field.Text)

	_, err = f.process(t, `<cmsg i="0"><dir proc="CSync"><e t="submit" i="c1">yesterday</e></dir></cmsg>`)
	assert.True(t, errors.As(err, &de))
	assert.Empty(t, f.field.actions)
}

func TestProcessDebugEcho(t *testing.T) {
	var sink bytes.Buffer
	f := newProcessorFixture(t, ProcessorConfig{Debug: true, DebugSink: &sink})
	f.ui.NextTransactionID()

	// Echoed even when the message is discarded
	state, err := f.process(t, `<cmsg i="0"><dir proc="CSync"><p i="c1" n="text">x</p></dir></cmsg>`)
	require.NoError(t, err)
	assert.True(t, state.OutOfSync())
	assert.Contains(t, sink.String(), `<p i="c1" n="text">x</p>`)
}

func TestProcessCharacterEncoding(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	f.ui.CharacterEncoding = "ISO-8859-1"

	_, err := f.process(t, "<cmsg i=\"0\"><dir proc=\"CSync\"><p i=\"c1\" n=\"text\">caf\xe9</p></dir></cmsg>")
	require.NoError(t, err)
	assert.Equal(t, "café", f.field.Text)
}

func TestProcessorSealsRegistries(t *testing.T) {
	props := NewPropertyPeerRegistry()
	peers := NewSynchronizePeerRegistry()
	dirs := NewDirectiveRegistry()
	NewInputProcessor(ProcessorConfig{PropertyPeers: props, SynchronizePeers: peers, Directives: dirs})

	assert.True(t, errors.Is(props.Register(reflect.TypeOf(uint(0)), "u", PropertyPeerFunc(decodeString)), ErrRegistrySealed))
	assert.True(t, errors.Is(peers.Register((*Button)(nil), recordingPeer{}), ErrRegistrySealed))
	assert.True(t, errors.Is(dirs.Register("X", func() DirectiveProcessor { return nil }), ErrRegistrySealed))
}

func TestProcessNoUserInstance(t *testing.T) {
	p := NewInputProcessor(ProcessorConfig{})
	err := p.Process(context.Background(), &SynchronizationState{}, NewConnection(strings.NewReader("<cmsg/>"), nil))
	var se *SynchronizationError
	assert.True(t, errors.As(err, &se))
}

type failingDirective struct{}

func (failingDirective) Process(ctx *Context, dir *Element) error {
	return errors.New("boom")
}

func TestProcessDirectiveErrorIsSynchronizationError(t *testing.T) {
	dirs := NewDirectiveRegistry()
	require.NoError(t, dirs.Register("Bad", func() DirectiveProcessor { return failingDirective{} }))
	f := newProcessorFixture(t, ProcessorConfig{Directives: dirs})

	_, err := f.process(t, `<cmsg i="0"><dir proc="CSync"><p i="c1" n="text">first</p></dir><dir proc="Bad"/></cmsg>`)
	var se *SynchronizationError
	require.True(t, errors.As(err, &se), "expected a SynchronizationError, got %v", err)
	assert.Equal(t, "process directive Bad", se.Op)
	assert.EqualError(t, se.Err, "boom")
	// Earlier directives stay applied
	assert.Equal(t, "first", f.field.Text)
}
