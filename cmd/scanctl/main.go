// Command scanctl talks to a scanner directly over its serial port: it sends
// one command and prints the handshake result, probes the link, or waits for
// a single barcode. Stop the scanner service first; the port is exclusive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/scanner"
	"github.com/banshee-data/barcode.scanner/internal/serialmux"
	"github.com/banshee-data/barcode.scanner/internal/version"
)

const usage = `usage: scanctl [flags] <command>

commands:
  probe            check the scanner responds, recovering its baud rate if needed
  read             wait for one barcode and print it
  version          query the firmware version
  <OPCODE><VALUE>  send a raw setting, e.g. LAMENA1 or SCMCNT

flags:
`

// opener opens the transport for a port path.
type opener func(path string, opts serialmux.PortOptions) (scanner.Transport, error)

func openSerial(path string, opts serialmux.PortOptions) (scanner.Transport, error) {
	t, err := serialmux.OpenSerialTransport(path, opts)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], openSerial, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, open opener, out io.Writer) error {
	fs := flag.NewFlagSet("scanctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}
	port := fs.String("port", "/dev/ttyUSB0", "serial port of the scanner")
	baud := fs.Int("baud", scanner.FactoryBaudRate, "baud rate the scanner is configured for")
	timeout := fs.Duration("timeout", 30*time.Second, "how long read waits for a barcode")
	codeID := fs.Bool("code-id", false, "payloads carry a leading code ID byte (CIDENA1)")
	poll := fs.Duration("poll", serialmux.DefaultPollInterval, "read poll interval")
	verbose := fs.Bool("verbose", false, "log protocol traces")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(out, "scanctl", version.String())
		return nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}
	monitoring.SetVerbose(*verbose)
	cmd := strings.ToUpper(fs.Arg(0))

	opts, err := serialmux.PortOptions{BaudRate: *baud}.Normalize()
	if err != nil {
		return err
	}
	t, err := open(*port, opts)
	if err != nil {
		return fmt.Errorf("open %s: %w", *port, err)
	}
	s := scanner.NewSession(t, scanner.Options{})
	defer s.Close()

	switch cmd {
	case "PROBE":
		if !s.IsConnected(ctx) {
			return fmt.Errorf("%w at %d bps", serialmux.ErrNotConnected, s.BaudRate())
		}
		fmt.Fprintf(out, "connected at %d bps\n", s.BaudRate())
		return nil
	case "READ":
		return readOne(ctx, s, *timeout, *poll, *codeID, out)
	case "VERSION":
		cmd = scanner.OpGetVersion
	}

	opcode, value := serialmux.SplitCommand(cmd)
	if err := s.Apply(ctx, opcode, value); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", scanner.NewCommand(opcode, value), scanner.Acked)
	return nil
}

// readOne polls s until a complete barcode arrives or timeout elapses.
func readOne(ctx context.Context, s *scanner.Session, timeout, every time.Duration, codeID bool, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := scanner.NewScanBuffer(scanner.DefaultScanBufferSize, scanner.OverflowTruncate)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		done, err := s.ReadBarcode(buf)
		if err != nil {
			return err
		}
		if done {
			id, payload := serialmux.ParseScan(buf.String(), codeID)
			if codeID {
				fmt.Fprintf(out, "[%s] ", serialmux.SymbologyName(id))
			}
			fmt.Fprintln(out, payload)
			if buf.Truncated() {
				log.Printf("payload truncated to %d bytes", buf.Len())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no barcode: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
