package tftp

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Inbound is the receiver side of a transfer: the server answering a
// WRQ, or the client draining a RRQ. It ACKs each DATA block as it
// arrives and exposes the payload through a Stream (spec §4.4).
type Inbound struct {
	conn     *net.UDPConn
	interval time.Duration
	dally    time.Duration
	metrics  *Metrics
	log      logrus.FieldLogger

	peer     TID
	peerSet  bool
	expected uint16

	Stream *Stream

	closeOnce sync.Once
	closed    chan struct{}
}

// NewInbound wraps conn in an Inbound engine expecting block 1 first.
// If peerKnown is false the peer TID is learned from the first
// accepted datagram (the client RRQ case); otherwise peer is pinned
// immediately (the server WRQ case).
func NewInbound(conn *net.UDPConn, peer TID, peerKnown bool, interval, dally time.Duration, metrics *Metrics, log logrus.FieldLogger) *Inbound {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Inbound{
		conn:     conn,
		interval: interval,
		dally:    dally,
		metrics:  metrics,
		log:      log,
		peer:     peer,
		peerSet:  peerKnown,
		expected: 1,
		Stream:   NewStream(),
		closed:   make(chan struct{}),
	}
}

// SendRequest sends a Request(RRQ, filename, octet) to server over the
// engine's own socket, the conventional first move of a client RRQ
// (spec §4.4). It is sent exactly once; recovering from its loss is
// the caller's overall-timeout responsibility (spec §5).
func (in *Inbound) SendRequest(filename string, server TID) error {
	req := &Request{Op: RRQ, Filename: filename, Mode: Octet}
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	_, err = in.conn.WriteToUDP(payload, server.UDPAddr())
	return err
}

// ServeWRQ starts the server side of a WRQ: ACK(0) is sent immediately
// and retransmitted until the first DATA block arrives.
func (in *Inbound) ServeWRQ() {
	go in.run(true)
}

// ServeRRQ starts the client side of a RRQ receive: no initial ACK is
// due, the engine simply waits for the first DATA block.
func (in *Inbound) ServeRRQ() {
	go in.run(false)
}

type rawDatagram struct {
	data []byte
	addr *net.UDPAddr
}

func (in *Inbound) run(sendInitialAck bool) {
	rawCh := make(chan rawDatagram, 8)
	readErrCh := make(chan error, 1)
	go in.readLoop(rawCh, readErrCh)

	var ticker *time.Ticker
	var tickerC <-chan time.Time
	var pendingAck []byte

	// startRetransmit (re)arms the ticker to resend payload, the ACK
	// for the block most recently acknowledged, until it is superseded
	// by the next block's ACK or cancelled outright (spec §4.4: "start
	// a retransmit task re-sending this ACK").
	startRetransmit := func(payload []byte) {
		pendingAck = payload
		in.sendTo(payload)
		if ticker != nil {
			ticker.Stop()
		}
		ticker = time.NewTicker(in.interval)
		tickerC = ticker.C
	}
	stopRetransmit := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickerC = nil
		}
	}
	defer stopRetransmit()

	if sendInitialAck {
		ack := &Ack{Block: 0}
		payload, _ := ack.Encode()
		startRetransmit(payload)
	}

	var lingerDeadline <-chan time.Time

	for {
		select {
		case raw := <-rawCh:
			done := in.handleDatagram(raw, startRetransmit, stopRetransmit)
			if done {
				if in.dally > 0 {
					lingerDeadline = time.After(in.dally)
					continue
				}
				in.Close()
				return
			}

		case <-tickerC:
			in.metrics.retransmitted()
			in.sendTo(pendingAck)

		case err := <-readErrCh:
			stopRetransmit()
			if err != nil {
				in.Stream.SetException(errors.Wrap(ErrTransportClosed, err.Error()))
			}
			return

		case <-lingerDeadline:
			in.Close()
			return

		case <-in.closed:
			return
		}
	}
}

// handleDatagram processes one datagram, discarding it if it comes
// from a TID other than the pinned peer. It returns true once the
// transfer has reached a terminal state.
func (in *Inbound) handleDatagram(raw rawDatagram, startRetransmit func([]byte), stopRetransmit func()) bool {
	senderTID, terr := tidFromAddr(raw.addr)
	if terr != nil {
		return false
	}
	if in.peerSet && senderTID != in.peer {
		return false // foreign TID, spec §3/testable property 4
	}

	pkt, perr := Parse(raw.data)
	if perr != nil {
		return false
	}

	if !in.peerSet {
		in.peer = senderTID
		in.peerSet = true
	}

	switch p := pkt.(type) {
	case *Error:
		in.Stream.SetException(&RemotePeerError{Code: p.Code, Message: p.Message})
		return true

	case *Data:
		switch {
		case p.Block == in.expected:
			stopRetransmit()
			ack := &Ack{Block: in.expected}
			payload, _ := ack.Encode()
			last := len(p.Payload) < maxPayload
			in.sendTo(payload)
			in.Stream.mu.Lock()
			finished := in.Stream.eof
			in.Stream.mu.Unlock()
			if finished {
				// A retransmitted final block during the dally linger:
				// the ACK above answers it and nothing more is fed.
				return false
			}
			in.metrics.bytesMoved("rx", len(p.Payload))

			if len(p.Payload) > 0 {
				in.Stream.FeedData(append([]byte(nil), p.Payload...))
			}
			if last {
				in.Stream.FeedEOF()
				return true
			}
			in.expected++
			startRetransmit(payload)
			return false

		case p.Block == in.expected-1:
			// Our last ACK was lost and the sender retransmitted the
			// previous block; the retransmit timer already resends
			// the last ACK, so there is nothing further to do here.
			return false

		default:
			return false
		}

	default:
		return false
	}
}

func (in *Inbound) readLoop(out chan<- rawDatagram, errOut chan<- error) {
	buf := make([]byte, 65536)
	for {
		n, addr, err := in.conn.ReadFromUDP(buf)
		if err != nil {
			errOut <- err
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- rawDatagram{data: data, addr: addr}:
		case <-in.closed:
			return
		}
	}
}

func (in *Inbound) sendTo(payload []byte) {
	dest := in.peer.UDPAddr()
	if !in.peerSet {
		return
	}
	_, _ = in.conn.WriteToUDP(payload, dest)
}

// Close closes the engine's socket. Safe to call more than once.
func (in *Inbound) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.closed)
		err = in.conn.Close()
	})
	return err
}
