package qsync

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Connection is one inbound client message: its body and the user instance
// it is addressed to.
type Connection struct {
	Request      io.Reader
	UserInstance *UserInstance
}

func NewConnection(request io.Reader, ui *UserInstance) *Connection {
	return &Connection{Request: request, UserInstance: ui}
}

// NewConnectionBytes is equivalent to NewConnection for a message that has
// already been read.
func NewConnectionBytes(request []byte, ui *UserInstance) *Connection {
	return NewConnection(bytes.NewReader(request), ui)
}

// MessageConn is a bidirectional stream of whole messages, used by Session.
type MessageConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DefaultMaxMessageBytes is the largest message a framed conn accepts unless
// another limit is given.
const DefaultMaxMessageBytes = 1 << 20

// framedConn frames messages on a byte stream as
//
//	<length> <data>\n
//
// where length is the decimal byte count of data.
type framedConn struct {
	in      io.ReadCloser
	out     io.WriteCloser
	rd      *bufio.Reader
	maxSize int64

	writeMu sync.Mutex
}

// NewFramedConn creates a MessageConn from an open stream.
func NewFramedConn(data io.ReadWriteCloser) MessageConn {
	return NewFramedConnSplit(data, data)
}

// NewFramedConnSplit is equivalent to NewFramedConn, except that it uses
// separate streams for reading and writing. This is useful for certain kinds
// of pipe or when using stdin and stdout.
func NewFramedConnSplit(in io.ReadCloser, out io.WriteCloser) MessageConn {
	return NewFramedConnLimit(in, out, DefaultMaxMessageBytes)
}

// NewFramedConnLimit is equivalent to NewFramedConnSplit, but rejects
// messages larger than maxSize bytes. A maxSize of 0 or less means
// DefaultMaxMessageBytes.
func NewFramedConnLimit(in io.ReadCloser, out io.WriteCloser, maxSize int64) MessageConn {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageBytes
	}
	return &framedConn{
		in:      in,
		out:     out,
		rd:      bufio.NewReader(in),
		maxSize: maxSize,
	}
}

// readSize reads the length prefix and its terminating space, without
// buffering more digits than any allowed size can have.
func (c *framedConn) readSize() (int64, error) {
	maxDigits := len(strconv.FormatInt(c.maxSize, 10))
	var digits []byte
	for {
		b, err := c.rd.ReadByte()
		if err != nil {
			return 0, err
		} else if b == ' ' {
			break
		} else if len(digits) >= maxDigits {
			return 0, fmt.Errorf("invalid message: size exceeds %d bytes", c.maxSize)
		}
		digits = append(digits, b)
	}
	if len(digits) == 0 {
		return 0, errors.New("invalid message: invalid size")
	}

	size, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message: invalid size: %w", err)
	} else if size < 1 {
		return 0, errors.New("invalid message: size too short")
	} else if size > c.maxSize {
		return 0, fmt.Errorf("invalid message: size %d exceeds %d bytes", size, c.maxSize)
	}
	return size, nil
}

func (c *framedConn) ReadMessage() ([]byte, error) {
	byteCnt, err := c.readSize()
	if err != nil {
		return nil, err
	}

	blob := make([]byte, byteCnt)
	if _, err := io.ReadFull(c.rd, blob); err != nil {
		return nil, err
	}

	// Read the final newline
	if nl, err := c.rd.ReadByte(); err != nil {
		return nil, err
	} else if nl != '\n' {
		return nil, fmt.Errorf("invalid message: expected terminating newline, read %c", nl)
	}
	return blob, nil
}

func (c *framedConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := fmt.Fprintf(c.out, "%d %s\n", len(data), data)
	return err
}

func (c *framedConn) Close() error {
	err := c.in.Close()
	if oerr := c.out.Close(); err == nil {
		err = oerr
	}
	return err
}
