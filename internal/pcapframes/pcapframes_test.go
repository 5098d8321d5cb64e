package pcapframes

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/netviz/internal/transport"
)

const producerPort = 65432

type segment struct {
	srcPort, dstPort uint16
	seq              uint32
	syn              bool
	payload          []byte
	at               time.Duration
}

func writePcap(t *testing.T, segs []segment) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, s := range segs {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IPv4(127, 0, 0, 1),
			DstIP:    net.IPv4(127, 0, 0, 1),
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(s.srcPort),
			DstPort: layers.TCPPort(s.dstPort),
			Seq:     s.seq,
			SYN:     s.syn,
			ACK:     !s.syn,
			Window:  65535,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.payload)))
		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     base.Add(s.at),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return &out
}

func streamBytes(payloads ...string) []byte {
	var out []byte
	for _, p := range payloads {
		out = transport.AppendFrame(out, []byte(p))
	}
	return out
}

func payloads(frames []Frame) []string {
	var out []string
	for _, f := range frames {
		out = append(out, string(f.Payload))
	}
	return out
}

func TestExtractInOrder(t *testing.T) {
	data := streamBytes(`{"type":"a"}`, `{"type":"bb"}`, `{"type":"ccc"}`)
	const isn = 1000
	segs := []segment{
		{srcPort: producerPort, dstPort: 50000, seq: isn, syn: true},
		{srcPort: 50000, dstPort: producerPort, seq: 7, payload: []byte("ignored client bytes")},
		{srcPort: producerPort, dstPort: 50000, seq: isn + 1, payload: data[:6], at: time.Second},
		{srcPort: producerPort, dstPort: 50000, seq: isn + 7, payload: data[6:20], at: 2 * time.Second},
		{srcPort: producerPort, dstPort: 50000, seq: isn + 21, payload: data[20:], at: 3 * time.Second},
	}

	res, err := Extract(writePcap(t, segs), producerPort)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Packets)
	assert.Equal(t, 3, res.Segments)
	assert.Equal(t, 1, res.Streams)
	assert.Equal(t, 0, res.Trailing)
	assert.Equal(t, []string{`{"type":"a"}`, `{"type":"bb"}`, `{"type":"ccc"}`}, payloads(res.Frames))

	// the first frame completes in the second segment
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, base.Add(2*time.Second).Equal(res.Frames[0].Time))
	assert.True(t, base.Add(3*time.Second).Equal(res.Frames[2].Time))
}

func TestExtractRetransmitAndReorder(t *testing.T) {
	data := streamBytes("one", "two", "three")
	isn := uint32(4294967290) // wraps during the stream
	segs := []segment{
		{srcPort: producerPort, dstPort: 50001, seq: isn, syn: true},
		{srcPort: producerPort, dstPort: 50001, seq: isn + 1, payload: data[:5]},
		{srcPort: producerPort, dstPort: 50001, seq: isn + 1 + 12, payload: data[12:]}, // early
		{srcPort: producerPort, dstPort: 50001, seq: isn + 1, payload: data[:5]},       // retransmit
		{srcPort: producerPort, dstPort: 50001, seq: isn + 1 + 3, payload: data[3:12]}, // overlaps
		{srcPort: producerPort, dstPort: 50001, seq: isn, syn: true},                   // SYN-ACK again
	}

	res, err := Extract(writePcap(t, segs), producerPort)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retransmits)
	assert.Equal(t, 1, res.Streams)
	assert.Equal(t, []string{"one", "two", "three"}, payloads(res.Frames))
}

func TestExtractMultipleStreams(t *testing.T) {
	segs := []segment{
		{srcPort: producerPort, dstPort: 50002, seq: 10, payload: streamBytes("first")},
		{srcPort: producerPort, dstPort: 50003, seq: 99, payload: streamBytes("second")},
	}
	res, err := Extract(writePcap(t, segs), producerPort)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Streams)
	require.Len(t, res.Frames, 2)
	assert.Equal(t, 0, res.Frames[0].Stream)
	assert.Equal(t, 1, res.Frames[1].Stream)
}

func TestExtractTrailingAndGap(t *testing.T) {
	data := streamBytes("complete", "cut short")

	res, err := Extract(writePcap(t, []segment{
		{srcPort: producerPort, dstPort: 50004, seq: 1, payload: data[:len(data)-3]},
	}), producerPort)
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, payloads(res.Frames))
	assert.Equal(t, 4+len("cut short")-3, res.Trailing)

	_, err = Extract(writePcap(t, []segment{
		{srcPort: producerPort, dstPort: 50005, seq: 1, payload: data[:4]},
		{srcPort: producerPort, dstPort: 50005, seq: 9, payload: data[8:]},
	}), producerPort)
	assert.True(t, errors.Is(err, ErrStreamGap))
}

func TestExtractOversizedFrame(t *testing.T) {
	hdr := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := Extract(writePcap(t, []segment{
		{srcPort: producerPort, dstPort: 50006, seq: 1, payload: hdr},
	}), producerPort)
	assert.True(t, errors.Is(err, transport.ErrFrameTooLarge))
}

func TestExtractNotPcap(t *testing.T) {
	_, err := Extract(bytes.NewReader([]byte("definitely not a capture")), producerPort)
	assert.Error(t, err)
}

func TestSource(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := []Frame{
		{Stream: 0, Time: base, Payload: []byte("a")},
		{Stream: 1, Time: base, Payload: []byte("x")},
		{Stream: 0, Time: base.Add(10 * time.Second), Payload: []byte("b")},
		{Stream: 0, Time: base.Add(11 * time.Second), Payload: []byte("c")},
	}
	src := Source(frames, 0, 5*time.Second)
	var delays []time.Duration
	var got string
	for {
		fr, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		delays = append(delays, fr.Delay)
		got += string(fr.Payload)
	}
	assert.Equal(t, "abc", got)
	assert.Equal(t, []time.Duration{5 * time.Second, time.Second, 0}, delays)
}
