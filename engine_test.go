package tftp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func localTID(t *testing.T, conn *net.UDPConn) TID {
	t.Helper()
	tid, err := tidFromAddr(conn.LocalAddr())
	require.NoError(t, err)
	return tid
}

// TestOutboundWriteAckedImmediately covers S1/S2 style tiny transfers:
// a peer that ACKs promptly should let Write return without any
// retransmit firing.
func TestOutboundWriteAckedImmediately(t *testing.T) {
	serverConn := listenLoopback(t)
	clientConn := listenLoopback(t)
	clientTID := localTID(t, clientConn)

	out := NewOutbound(serverConn, clientTID, true, 50*time.Millisecond, nil, nil)
	defer out.Close()

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := clientConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt, err := Parse(buf[:n])
		if err != nil {
			return
		}
		data := pkt.(*Data)
		ack := &Ack{Block: data.Block}
		payload, _ := ack.Encode()
		_, _ = clientConn.WriteToUDP(payload, addr)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := out.Write(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(5), out.OutputSize())
}

// TestOutboundRetransmitsOnLostAck covers the lost-ACK scenario (S4):
// the peer drops the first DATA and only ACKs the retransmission.
func TestOutboundRetransmitsOnLostAck(t *testing.T) {
	serverConn := listenLoopback(t)
	clientConn := listenLoopback(t)
	clientTID := localTID(t, clientConn)

	out := NewOutbound(serverConn, clientTID, true, 30*time.Millisecond, nil, nil)
	defer out.Close()

	go func() {
		buf := make([]byte, 2048)
		seen := 0
		for {
			n, addr, err := clientConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			seen++
			if seen == 1 {
				continue // drop the first DATA
			}
			pkt, err := Parse(buf[:n])
			if err != nil {
				continue
			}
			data := pkt.(*Data)
			ack := &Ack{Block: data.Block}
			payload, _ := ack.Encode()
			_, _ = clientConn.WriteToUDP(payload, addr)
			return
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := out.Write(ctx, []byte("retry me"))
	require.NoError(t, err)
}

// TestInboundServeWRQAcksEachBlock exercises the server's WRQ receive
// path end to end against a hand-rolled peer.
func TestInboundServeWRQAcksEachBlock(t *testing.T) {
	serverConn := listenLoopback(t)
	clientConn := listenLoopback(t)
	clientTID := localTID(t, clientConn)

	in := NewInbound(serverConn, clientTID, true, 40*time.Millisecond, 0, nil, nil)
	defer in.Close()
	in.ServeWRQ()

	serverTID := localTID(t, serverConn)

	// drain ACK(0)
	readAck(t, clientConn, 0)

	sendData(t, clientConn, serverTID, 1, []byte("abcde"))
	readAck(t, clientConn, 1)

	buf := make([]byte, 16)
	n, err := in.Stream.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abcde", string(buf[:n]))
}

func sendData(t *testing.T, conn *net.UDPConn, to TID, block uint16, payload []byte) {
	t.Helper()
	d := &Data{Block: block, Payload: payload}
	b, err := d.Encode()
	require.NoError(t, err)
	_, err = conn.WriteToUDP(b, to.UDPAddr())
	require.NoError(t, err)
}

func readAck(t *testing.T, conn *net.UDPConn, want uint16) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	pkt, err := Parse(buf[:n])
	require.NoError(t, err)
	ack, ok := pkt.(*Ack)
	require.True(t, ok)
	require.Equal(t, want, ack.Block)
}
