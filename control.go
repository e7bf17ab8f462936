package shmpipe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Handoff is sent by the owner to the spawned process. It carries everything
// the child needs to attach the region and run its role.
type Handoff struct {
	Version    string `msgpack:"version"`
	RegionID   int    `msgpack:"region_id"`
	RegionSize int    `msgpack:"region_size"`
	Capacity   int    `msgpack:"capacity"`
	Count      int    `msgpack:"count"`
	Role       Role   `msgpack:"role"`
	Sleep      bool   `msgpack:"sleep"`
	MaxDelay   int64  `msgpack:"max_delay_ns"`
	Seed       uint64 `msgpack:"seed"`
	OwnerPID   int    `msgpack:"owner_pid"`
}

// Report is sent back by the spawned process just before it exits.
type Report struct {
	Role      Role   `msgpack:"role"`
	PID       int    `msgpack:"pid"`
	Completed int    `msgpack:"completed"`
	Error     string `msgpack:"error,omitempty"`
}

// Serializer defines the interface for control message encoding and decoding.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Transport defines the interface for sending and receiving framed messages.
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

type msgpackSerializer struct{}

func (msgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// maxFrameSize bounds the length prefix so a corrupt frame cannot force a
// huge allocation. Control messages are a few dozen bytes.
const maxFrameSize = 64 * 1024

var errFrameTooLarge = errors.New("control frame too large")

// frameTransport sends messages as a 4-byte big-endian length followed by
// the payload.
type frameTransport struct {
	reader io.ReadCloser
	writer io.WriteCloser
	pool   *framePool
}

func newFrameTransport(reader io.ReadCloser, writer io.WriteCloser) *frameTransport {
	return &frameTransport{
		reader: reader,
		writer: writer,
		pool:   newFramePool(512, 4),
	}
}

func (t *frameTransport) Send(data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(data))
	}
	// length and payload in one write so a reader never sees half a frame
	// header followed by a stall
	frame := t.pool.Get()[:0]
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(data)))
	frame = append(frame, data...)
	_, err := t.writer.Write(frame)
	t.pool.Put(frame)
	return err
}

func (t *frameTransport) Receive() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(t.reader, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(t.reader, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

func (t *frameTransport) Close() error {
	var errs []error
	if t.reader != nil {
		errs = append(errs, t.reader.Close())
	}
	if t.writer != nil {
		errs = append(errs, t.writer.Close())
	}
	return errors.Join(errs...)
}

// framePool is a channel-based pool of frame buffers, safe for concurrent use.
type framePool struct {
	pool    chan []byte
	bufSize int
}

func newFramePool(bufSize, count int) *framePool {
	pool := make(chan []byte, count)
	for range count {
		pool <- make([]byte, 0, bufSize)
	}
	return &framePool{pool: pool, bufSize: bufSize}
}

// Get returns a buffer with capacity bufSize, allocating when the pool is empty.
func (p *framePool) Get() []byte {
	select {
	case buf := <-p.pool:
		return buf
	default:
		return make([]byte, 0, p.bufSize)
	}
}

// Put returns buf to the pool. Buffers that grew past bufSize are dropped,
// as are buffers offered while the pool is full.
func (p *framePool) Put(buf []byte) {
	if cap(buf) != p.bufSize {
		return
	}
	select {
	case p.pool <- buf[:0]:
	default:
	}
}

// controlChannel exchanges typed control messages with the other process.
type controlChannel struct {
	serializer Serializer
	transport  Transport
}

func newControlChannel(reader io.ReadCloser, writer io.WriteCloser) *controlChannel {
	return &controlChannel{
		serializer: msgpackSerializer{},
		transport:  newFrameTransport(reader, writer),
	}
}

func (c *controlChannel) send(v interface{}) error {
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return c.transport.Send(data)
}

func (c *controlChannel) receive(v interface{}) error {
	data, err := c.transport.Receive()
	if err != nil {
		return err
	}
	if err := c.serializer.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func (c *controlChannel) Close() error {
	return c.transport.Close()
}
