// Command pcap-extract pulls producer frames out of a packet capture of the
// TCP stream. Frames are written as JSON lines, one envelope per line, which
// replay-server -script accepts, and can also be imported into a capture
// database.
//
// Usage:
//
//	go run ./cmd/tools/pcap-extract -pcap session.pcap [-port 65432] [-out frames.jsonl] [-capture capture.db]
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/netviz/internal/capture"
	"github.com/banshee-data/netviz/internal/pcapframes"
)

func main() {
	pcapFile := flag.String("pcap", "", "pcap file to read (required)")
	port := flag.Int("port", 65432, "Producer TCP port")
	out := flag.String("out", "-", "JSON-lines output path, - for stdout, empty to skip")
	capturePath := flag.String("capture", "", "Also import each stream into this capture database")
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("Error: -pcap flag is required")
	}

	f, err := os.Open(*pcapFile)
	if err != nil {
		log.Fatalf("Failed to open pcap: %v", err)
	}
	defer f.Close()

	res, err := pcapframes.Extract(f, *port)
	if err != nil {
		log.Fatalf("Failed to extract frames: %v", err)
	}
	log.Printf("%d packets, %d segments (%d retransmitted), %d streams, %d frames, %d trailing bytes",
		res.Packets, res.Segments, res.Retransmits, res.Streams, len(res.Frames), res.Trailing)

	if *out != "" {
		w := io.Writer(os.Stdout)
		if *out != "-" {
			of, err := os.Create(*out)
			if err != nil {
				log.Fatalf("Failed to create output: %v", err)
			}
			defer of.Close()
			w = of
		}
		skipped, err := writeJSONLines(w, res.Frames)
		if err != nil {
			log.Fatalf("Failed to write frames: %v", err)
		}
		if skipped > 0 {
			log.Printf("skipped %d frames that are not valid JSON", skipped)
		}
	}

	if *capturePath != "" {
		ids, err := importFrames(*capturePath, *pcapFile, res)
		if err != nil {
			log.Fatalf("Failed to import frames: %v", err)
		}
		for _, id := range ids {
			log.Printf("imported capture session %s", id)
		}
	}
}

// writeJSONLines writes each payload on one line. Payloads that are not JSON
// cannot be represented and are counted instead.
func writeJSONLines(w io.Writer, frames []pcapframes.Frame) (skipped int, err error) {
	bw := bufio.NewWriter(w)
	var buf bytes.Buffer
	for _, fr := range frames {
		buf.Reset()
		if err := json.Compact(&buf, fr.Payload); err != nil {
			skipped++
			continue
		}
		buf.WriteByte('\n')
		if _, err := bw.Write(buf.Bytes()); err != nil {
			return skipped, err
		}
	}
	return skipped, bw.Flush()
}

// importFrames stores every stream as its own capture session.
func importFrames(path, source string, res *pcapframes.Result) ([]string, error) {
	store, err := capture.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ids := make([]string, res.Streams)
	seqs := make([]int64, res.Streams)
	last := make([]time.Time, res.Streams)
	for _, fr := range res.Frames {
		if ids[fr.Stream] == "" {
			ids[fr.Stream] = uuid.NewString()
			addr := fmt.Sprintf("pcap:%s#%d", source, fr.Stream)
			if err := store.BeginSession(ids[fr.Stream], addr, fr.Time); err != nil {
				return nil, err
			}
		}
		seqs[fr.Stream]++
		last[fr.Stream] = fr.Time
		if err := store.InsertFrame(capture.Frame{
			SessionID:  ids[fr.Stream],
			Seq:        seqs[fr.Stream],
			ReceivedAt: fr.Time,
			Type:       capture.FrameType(fr.Payload),
			Payload:    fr.Payload,
		}); err != nil {
			return nil, err
		}
	}

	var out []string
	for i, id := range ids {
		if id == "" {
			continue
		}
		if err := store.EndSession(id, last[i]); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
