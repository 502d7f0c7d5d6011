package tftp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Outbound is the sender side of a transfer: the server answering a
// RRQ, or the client driving a WRQ. It sends one DATA block at a time
// and blocks in Write until the matching ACK arrives, retransmitting
// on a timer in between (spec §4.3).
type Outbound struct {
	conn     *net.UDPConn
	interval time.Duration
	metrics  *Metrics
	log      logrus.FieldLogger

	peerMu  sync.Mutex
	peer    TID
	peerSet bool

	block      uint16
	outputSize atomic.Uint64

	writeMu sync.Mutex
	writing bool

	incoming chan outboundEvent
	loopDone chan struct{}
	loopErr  error

	closeOnce sync.Once
	closed    chan struct{}
}

type outboundEvent struct {
	ack *Ack
	err *Error
}

// NewOutbound wraps conn in an Outbound engine. If peerKnown is false,
// the peer TID is learned from the first accepted reply (the client
// WRQ case); otherwise peer is pinned immediately (the server RRQ
// case, where the listener already knows the client's TID).
func NewOutbound(conn *net.UDPConn, peer TID, peerKnown bool, interval time.Duration, metrics *Metrics, log logrus.FieldLogger) *Outbound {
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &Outbound{
		conn:     conn,
		interval: interval,
		metrics:  metrics,
		log:      log,
		peer:     peer,
		peerSet:  peerKnown,
		incoming: make(chan outboundEvent, 1),
		loopDone: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go o.readLoop()
	return o
}

func (o *Outbound) readLoop() {
	defer close(o.loopDone)
	buf := make([]byte, 65536)
	for {
		n, addr, err := o.conn.ReadFromUDP(buf)
		if err != nil {
			o.loopErr = errors.Wrap(ErrTransportClosed, err.Error())
			return
		}
		senderTID, terr := tidFromAddr(addr)
		if terr != nil {
			continue
		}

		o.peerMu.Lock()
		if o.peerSet && senderTID != o.peer {
			o.peerMu.Unlock()
			continue // foreign TID, spec §3/testable property 4
		}
		o.peerMu.Unlock()

		raw := make([]byte, n)
		copy(raw, buf[:n])
		pkt, perr := Parse(raw)
		if perr != nil {
			continue
		}

		var ev outboundEvent
		switch p := pkt.(type) {
		case *Ack:
			ev.ack = p
		case *Error:
			ev.err = p
		default:
			continue
		}

		o.peerMu.Lock()
		if !o.peerSet {
			o.peer = senderTID
			o.peerSet = true
		}
		o.peerMu.Unlock()

		select {
		case o.incoming <- ev:
		case <-o.closed:
			return
		default:
			// No one is waiting on this event right now (e.g. a
			// straggling duplicate ACK after Write already returned);
			// dropping it is safe, the sender's own retransmit timer
			// is the only thing that must ever be relied upon.
		}
	}
}

func (o *Outbound) peerAddr() *net.UDPAddr {
	o.peerMu.Lock()
	defer o.peerMu.Unlock()
	return o.peer.UDPAddr()
}

// Start performs the client WRQ handshake: send Request(WRQ, filename,
// octet) to server, retransmitting until ACK(0) is observed. The
// sender of that ACK becomes the pinned peer TID.
func (o *Outbound) Start(ctx context.Context, filename string, server TID) error {
	req := &Request{Op: WRQ, Filename: filename, Mode: Octet}
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	if err := o.awaitAck(ctx, 0, payload, server.UDPAddr()); err != nil {
		return err
	}
	o.block = 0
	return nil
}

// Write sends chunk as the next DATA block and blocks until it is
// acknowledged. len(chunk) must be at most 512 bytes; a chunk shorter
// than 512 bytes (including empty) is the final block and Write closes
// the engine's socket once it is acknowledged. Only one Write may be
// outstanding at a time.
func (o *Outbound) Write(ctx context.Context, chunk []byte) error {
	o.writeMu.Lock()
	if o.writing {
		o.writeMu.Unlock()
		return ErrBusyWriter
	}
	o.writing = true
	o.writeMu.Unlock()
	defer func() {
		o.writeMu.Lock()
		o.writing = false
		o.writeMu.Unlock()
	}()

	if len(chunk) > maxPayload {
		return errors.Wrapf(ErrInvalidPacket, "chunk of %d bytes exceeds %d", len(chunk), maxPayload)
	}

	o.block++
	data := &Data{Block: o.block, Payload: chunk}
	payload, err := data.Encode()
	if err != nil {
		return err
	}

	if err := o.awaitAck(ctx, o.block, payload, o.peerAddr()); err != nil {
		return err
	}

	o.outputSize.Add(uint64(len(chunk)))
	o.metrics.bytesMoved("tx", len(chunk))
	if len(chunk) < maxPayload {
		o.Close()
	}
	return nil
}

// awaitAck sends payload to dest, retransmitting every o.interval,
// until an ACK for block arrives, a peer ERROR arrives, the context is
// cancelled, or the transport closes. These are the engine's only two
// suspension points (spec §5): awaiting the next datagram and awaiting
// the retransmit timer.
func (o *Outbound) awaitAck(ctx context.Context, block uint16, payload []byte, dest *net.UDPAddr) error {
	send := func() {
		_, _ = o.conn.WriteToUDP(payload, dest)
	}
	send()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-o.incoming:
			if ev.err != nil {
				return &RemotePeerError{Code: ev.err.Code, Message: ev.err.Message}
			}
			if ev.ack != nil && ev.ack.Block == block {
				return nil
			}
			// ACK for a different block: stale duplicate, keep waiting.
		case <-ticker.C:
			o.metrics.retransmitted()
			send()
		case <-ctx.Done():
			return ctx.Err()
		case <-o.loopDone:
			if o.loopErr != nil {
				return o.loopErr
			}
			return ErrTransportClosed
		}
	}
}

// Close closes the engine's socket. Safe to call more than once.
func (o *Outbound) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.closed)
		err = o.conn.Close()
	})
	return err
}

// OutputSize returns the number of payload bytes successfully written
// so far (telemetry only, spec §3).
func (o *Outbound) OutputSize() uint64 {
	return o.outputSize.Load()
}
