package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

type options struct {
	server  string
	token   string
	timeout time.Duration
	asJSON  bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected one of: toggle, start, stop, status, tail, version")
		os.Exit(2)
	}

	var opts options
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	fs.StringVar(&opts.server, "server", envOr("LOQA_DICTATE_BUS_SERVERS", nats.DefaultURL), "NATS server URL")
	fs.StringVar(&opts.token, "token", os.Getenv("LOQA_DICTATE_BUS_TOKEN"), "NATS auth token")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Request timeout")
	fs.BoolVar(&opts.asJSON, "json", false, "Print raw JSON")

	switch os.Args[1] {
	case protocol.ActionToggle, protocol.ActionStart, protocol.ActionStop, protocol.ActionStatus:
		fs.Parse(os.Args[2:])
		if err := runControl(opts, os.Args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "tail":
		fs.Parse(os.Args[2:])
		if err := runTail(opts); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func connect(opts options) (*nats.Conn, error) {
	natsOpts := []nats.Option{nats.Name("loqa-dictatectl"), nats.Timeout(opts.timeout)}
	if opts.token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.token))
	}
	nc, err := nats.Connect(opts.server, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.server, err)
	}
	return nc, nil
}

func runControl(opts options, action string) error {
	nc, err := connect(opts)
	if err != nil {
		return err
	}
	defer nc.Close()

	data, err := json.Marshal(protocol.ControlRequest{Action: action})
	if err != nil {
		return err
	}
	msg, err := nc.Request(protocol.SubjectControl, data, opts.timeout)
	if err != nil {
		return fmt.Errorf("%s request: %w", action, err)
	}
	if opts.asJSON {
		fmt.Println(string(msg.Data))
		return nil
	}
	var st protocol.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	fmt.Printf("state:    %s\n", st.State)
	if st.SessionID != "" {
		fmt.Printf("session:  %s\n", st.SessionID)
	}
	fmt.Printf("engine:   %s %s\n", st.Engine, st.Model)
	fmt.Printf("insert:   %s\n", st.InsertMode)
	fmt.Printf("vad:      %t (%s)\n", st.VAD, st.Strategy)
	fmt.Printf("emitted:  %d\n", st.SegmentsEmitted)
	if st.Error != "" {
		return fmt.Errorf("%s failed: %s", action, st.Error)
	}
	return nil
}

func runTail(opts options) error {
	nc, err := connect(opts)
	if err != nil {
		return err
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe("dictate.>", msgs)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-sigs:
			return nil
		case msg := <-msgs:
			printEvent(msg, opts.asJSON)
		}
	}
}

func printEvent(msg *nats.Msg, asJSON bool) {
	if asJSON {
		fmt.Printf("%s %s\n", msg.Subject, msg.Data)
		return
	}
	switch msg.Subject {
	case protocol.SubjectTranscript:
		var tr protocol.Transcript
		if json.Unmarshal(msg.Data, &tr) == nil {
			fmt.Printf("[%s #%d %dms] %s\n", tr.Timestamp.Local().Format(time.TimeOnly), tr.Sequence, tr.LatencyMS, tr.Text)
		}
	case protocol.SubjectState:
		var sc protocol.StateChange
		if json.Unmarshal(msg.Data, &sc) == nil {
			line := fmt.Sprintf("-- %s -> %s", sc.From, sc.To)
			if sc.Error != "" {
				line += " (" + sc.Error + ")"
			}
			fmt.Println(line)
		}
	case protocol.SubjectFailure:
		var f protocol.Failure
		if json.Unmarshal(msg.Data, &f) == nil {
			fmt.Printf("!! %s #%d: %s\n", f.Stage, f.Sequence, f.Error)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
