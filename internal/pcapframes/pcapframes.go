// Package pcapframes recovers producer frames from a packet capture of the
// TCP stream. It reads classic pcap files with gopacket's pure Go reader, so
// no libpcap is needed.
package pcapframes

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/producer"
	"github.com/banshee-data/netviz/internal/transport"
)

// maxPending bounds the out-of-order bytes buffered per stream.
const maxPending = 16 << 20

var ErrStreamGap = errors.New("capture is missing stream bytes")

// Frame is one producer frame seen on the wire.
type Frame struct {
	Stream  int       // index of the TCP stream, in order of first packet
	Time    time.Time // capture time of the segment that completed the frame
	Payload []byte
}

// Result summarises an extraction.
type Result struct {
	Frames      []Frame
	Packets     int // packets read from the file
	Segments    int // producer segments carrying payload
	Retransmits int // segments whose bytes were already delivered
	Streams     int
	// Trailing counts bytes left in streams that did not end on a frame
	// boundary, typically a capture cut mid-frame.
	Trailing int
}

type flowKey struct {
	net, tp gopacket.Flow
}

type stream struct {
	index    int
	started  bool
	synSeen  bool
	isn      uint32
	next     uint32            // next expected sequence number
	pending  map[uint32][]byte // out-of-order segments keyed by seq
	buffered int
	buf      []byte
}

// Extract reads a pcap from r and returns the frames sent from srcPort, in
// capture order per stream.
func Extract(r io.Reader, srcPort int) (*Result, error) {
	rd, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	src := gopacket.NewPacketSource(rd, rd.LinkType())

	res := &Result{}
	streams := make(map[flowKey]*stream)
	var order []*stream

	for {
		packet, err := src.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", res.Packets+1, err)
		}
		res.Packets++

		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || int(tcp.SrcPort) != srcPort || packet.NetworkLayer() == nil {
			continue
		}
		key := flowKey{packet.NetworkLayer().NetworkFlow(), tcp.TransportFlow()}
		st := streams[key]
		if st == nil || (tcp.SYN && st.synSeen && tcp.Seq != st.isn) {
			st = &stream{index: len(order), pending: make(map[uint32][]byte)}
			streams[key] = st
			order = append(order, st)
		}

		if tcp.SYN {
			if !st.synSeen {
				st.synSeen, st.started = true, true
				st.isn = tcp.Seq
				st.next = tcp.Seq + 1
			}
			continue
		}
		if len(tcp.Payload) == 0 {
			continue
		}
		res.Segments++
		if !st.started {
			st.started = true
			st.next = tcp.Seq
		}

		ts := packet.Metadata().Timestamp
		if !st.accept(tcp.Seq, tcp.Payload) {
			res.Retransmits++
			continue
		}
		if st.buffered > maxPending {
			return nil, fmt.Errorf("stream %d: %w (%d bytes waiting)", st.index, ErrStreamGap, st.buffered)
		}
		frames, err := st.split(ts)
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", st.index, err)
		}
		res.Frames = append(res.Frames, frames...)
	}

	res.Streams = len(order)
	for _, st := range order {
		if len(st.pending) > 0 {
			return res, fmt.Errorf("stream %d: %w (%d segments never filled)", st.index, ErrStreamGap, len(st.pending))
		}
		if len(st.buf) > 0 {
			res.Trailing += len(st.buf)
			monitoring.Logf("[pcapframes] stream %d ends with %d bytes of an incomplete frame", st.index, len(st.buf))
		}
	}
	return res, nil
}

// accept merges a segment into the stream and reports whether it carried any
// new bytes.
func (s *stream) accept(seq uint32, data []byte) bool {
	// signed distance handles sequence wraparound
	d := int32(seq - s.next)
	switch {
	case d < 0:
		if -int(d) >= len(data) {
			return false
		}
		data = data[-d:]
	case d > 0:
		if _, dup := s.pending[seq]; dup {
			return false
		}
		s.pending[seq] = append([]byte(nil), data...)
		s.buffered += len(data)
		return true
	}

	s.buf = append(s.buf, data...)
	s.next += uint32(len(data))
	s.drainPending()
	return true
}

func (s *stream) drainPending() {
	for len(s.pending) > 0 {
		progressed := false
		for seq, data := range s.pending {
			d := int32(seq - s.next)
			if d > 0 {
				continue
			}
			delete(s.pending, seq)
			s.buffered -= len(data)
			progressed = true
			if -int(d) < len(data) {
				s.buf = append(s.buf, data[-d:]...)
				s.next += uint32(len(data) + int(d))
			}
		}
		if !progressed {
			return
		}
	}
}

// split removes every complete frame from the front of the buffer.
func (s *stream) split(ts time.Time) ([]Frame, error) {
	var out []Frame
	for len(s.buf) >= transport.HeaderSize {
		length := binary.BigEndian.Uint32(s.buf)
		if uint64(len(s.buf)-transport.HeaderSize) < uint64(length) {
			if length > transport.DefaultMaxFrameSize {
				return out, &transport.FrameError{Length: length, Err: transport.ErrFrameTooLarge}
			}
			break
		}
		r := bytes.NewReader(s.buf)
		payload, err := transport.ReadFrame(r)
		if err != nil {
			return out, err
		}
		s.buf = s.buf[len(s.buf)-r.Len():]
		out = append(out, Frame{Stream: s.index, Time: ts, Payload: payload})
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return out, nil
}

// Source turns one stream's frames into a replay source timed by capture
// timestamps. Gaps above maxGap are clamped; zero keeps them.
func Source(frames []Frame, stream int, maxGap time.Duration) *producer.Frames {
	var sel []Frame
	for _, f := range frames {
		if f.Stream == stream {
			sel = append(sel, f)
		}
	}
	out := make([]producer.Frame, len(sel))
	for i, f := range sel {
		out[i].Payload = f.Payload
		if i+1 < len(sel) {
			gap := sel[i+1].Time.Sub(f.Time)
			if gap < 0 {
				gap = 0
			}
			if maxGap > 0 && gap > maxGap {
				gap = maxGap
			}
			out[i].Delay = gap
		}
	}
	return producer.NewFrames(out)
}
