// Command replay-server plays the producer side of a session to a netviz
// consumer. Frames come from a JSON-lines script, a capture database, a pcap
// of an earlier session, or a synthetic walkthrough of the reference network.
//
// Usage:
//
//	go run ./cmd/tools/replay-server [flags]
//
// Flags:
//
//	-addr      Listen address (default: 127.0.0.1:65432)
//	-script    JSON-lines file, one envelope per line
//	-capture   Capture database to replay from
//	-session   Capture session ID (default: most recent)
//	-pcap      pcap file of a producer stream
//	-scale     Multiply every delay (default: 1, the director's timing)
//	-loop      Serve consumers until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/netviz/internal/capture"
	"github.com/banshee-data/netviz/internal/pcapframes"
	"github.com/banshee-data/netviz/internal/producer"
)

type options struct {
	addr     string
	script   string
	capture  string
	session  string
	pcap     string
	pcapPort int
	stream   int
	maxGap   time.Duration
	scale    float64
	seed     uint64
	steps    int
	holdOpen bool
	loop     bool
}

func main() {
	var o options
	flag.StringVar(&o.addr, "addr", producer.DefaultAddr, "Listen address")
	flag.StringVar(&o.script, "script", "", "JSON-lines script to replay")
	flag.StringVar(&o.capture, "capture", "", "Capture database to replay from")
	flag.StringVar(&o.session, "session", "", "Capture session ID (default: most recent)")
	flag.StringVar(&o.pcap, "pcap", "", "pcap file of a producer stream")
	flag.IntVar(&o.pcapPort, "pcap-port", 65432, "Producer TCP port inside the pcap")
	flag.IntVar(&o.stream, "stream", 0, "Stream index inside the pcap")
	flag.DurationVar(&o.maxGap, "max-gap", 15*time.Second, "Clamp recorded gaps (capture and pcap sources)")
	flag.Float64Var(&o.scale, "scale", 1, "Multiply every delay")
	flag.Uint64Var(&o.seed, "seed", 1, "Seed for the synthetic walkthrough")
	flag.IntVar(&o.steps, "steps", 4, "Conv/pool steps per layer in the synthetic walkthrough")
	flag.BoolVar(&o.holdOpen, "hold", true, "Keep the connection open after the last frame until the consumer leaves")
	flag.BoolVar(&o.loop, "loop", false, "Serve consumers until interrupted")
	flag.Parse()

	if err := o.validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("replay-server: %v", err)
	}
	log.Printf("Shutting down...")
}

func (o options) validate() error {
	if o.scale < 0 {
		return fmt.Errorf("-scale must not be negative")
	}
	sources := 0
	for _, s := range []string{o.script, o.capture, o.pcap} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		return fmt.Errorf("use at most one of -script, -capture and -pcap")
	}
	return nil
}

func serve(ctx context.Context, o options) error {
	srv, err := producer.Listen(o.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer srv.Close()
	srv.HoldOpen = o.holdOpen
	log.Printf("Replay server listening on %s", srv.Addr())

	for {
		src, err := openSource(o)
		if err != nil {
			return err
		}
		log.Printf("Waiting for a consumer (%d frames queued)...", src.Len())
		sent, err := srv.ServeOne(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Replay ended early after %d frames: %v", sent, err)
		} else {
			log.Printf("Replay finished: %d frames", sent)
		}
		if !o.loop {
			return nil
		}
	}
}

// openSource builds a fresh source for each consumer.
func openSource(o options) (*producer.Frames, error) {
	switch {
	case o.script != "":
		f, err := os.Open(o.script)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		payloads, err := producer.ReadJSONLines(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.script, err)
		}
		return producer.Paced(payloads, producer.DirectorPacing().Scale(o.scale)), nil

	case o.capture != "":
		store, err := capture.Open(o.capture)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		id := o.session
		if id == "" {
			sessions, err := store.Sessions()
			if err != nil {
				return nil, err
			}
			if len(sessions) == 0 {
				return nil, fmt.Errorf("%s holds no sessions", o.capture)
			}
			id = sessions[0].ID
		}
		src, err := store.Source(id, o.maxGap)
		if err != nil {
			return nil, err
		}
		log.Printf("Replaying capture session %s", id)
		return src.Scale(o.scale), nil

	case o.pcap != "":
		f, err := os.Open(o.pcap)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		res, err := pcapframes.Extract(f, o.pcapPort)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.pcap, err)
		}
		if o.stream < 0 || o.stream >= res.Streams {
			return nil, fmt.Errorf("%s has %d streams, no stream %d", o.pcap, res.Streams, o.stream)
		}
		return pcapframes.Source(res.Frames, o.stream, o.maxGap).Scale(o.scale), nil

	default:
		opts := producer.DefaultWalkthroughOptions()
		opts.Seed, opts.StepsPerLayer = o.seed, o.steps
		cmds, err := producer.Walkthrough(opts)
		if err != nil {
			return nil, err
		}
		payloads, err := producer.EncodeAll(cmds...)
		if err != nil {
			return nil, err
		}
		return producer.Paced(payloads, producer.DirectorPacing().Scale(o.scale)), nil
	}
}
