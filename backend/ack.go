package qsync

import (
	"encoding/xml"
	"io"
)

// serverMessage is the acknowledgement sent after each client message. It
// carries the transaction id the client must send next; rendering the UI
// changes themselves is left to the outbound pipeline.
type serverMessage struct {
	XMLName       xml.Name `xml:"smsg"`
	TransactionID int      `xml:"i,attr"`
	FullRefresh   bool     `xml:"fr,attr,omitempty"`
	OutOfSync     bool     `xml:"oos,attr,omitempty"`
}

// WriteAck advances the transaction id of ui and writes the acknowledgement
// for a processed message:
//
//	<smsg i="8" fr="true" oos="true"/>
//
// fr is present when a full refresh was requested, which is then considered
// done; oos is present when the client was out of sync.
func WriteAck(w io.Writer, ui *UserInstance, state *SynchronizationState) error {
	buf, err := MarshalAck(ui, state)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// MarshalAck is like WriteAck, but returns the message.
func MarshalAck(ui *UserInstance, state *SynchronizationState) ([]byte, error) {
	um := ui.UpdateManager()
	msg := serverMessage{
		TransactionID: ui.NextTransactionID(),
		FullRefresh:   um.FullRefreshRequired(),
		OutOfSync:     state.OutOfSync(),
	}
	um.ClearFullRefresh()
	return xml.Marshal(msg)
}
