// Command labrig-log inspects protocol captures written by labrigd with
// logging.protocol_log set.
//
// Usage:
//
//	labrig-log <command> [flags] <file.lrlog>
//
// Commands:
//
//	view     Print events in human-readable form
//	export   Write events as JSON lines
//	stats    Summarize a capture
//
// Examples:
//
//	labrig-log view -device cam0 -category state server.lrlog
//	labrig-log export -o capture.jsonl server.lrlog
//	labrig-log stats server.lrlog
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/labrig/labrig-go/cmd/labrig-log/commands"
	"github.com/labrig/labrig-go/pkg/log"
)

const usage = `labrig-log - protocol capture viewer

Usage:
  labrig-log <command> [flags] <file.lrlog>

Commands:
  view     Print events in human-readable form
  export   Write events as JSON lines
  stats    Summarize a capture

Use "labrig-log <command> -help" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// filterFlags registers the event filter flags on fs.
func filterFlags(fs *flag.FlagSet) func() (log.Filter, error) {
	conn := fs.String("conn-id", "", "Only events of this connection")
	dev := fs.String("device", "", "Only events of this device")
	layer := fs.String("layer", "", "Only events of this layer (transport, wire, service)")
	direction := fs.String("direction", "", "Only events in this direction (in, out)")
	category := fs.String("category", "", "Only events of this category (message, control, state, error)")

	return func() (log.Filter, error) {
		f := log.Filter{ConnectionID: *conn, DeviceID: *dev}
		if *layer != "" {
			l, err := commands.ParseLayer(*layer)
			if err != nil {
				return f, err
			}
			f.Layer = &l
		}
		if *direction != "" {
			d, err := commands.ParseDirection(*direction)
			if err != nil {
				return f, err
			}
			f.Direction = &d
		}
		if *category != "" {
			c, err := commands.ParseCategory(*category)
			if err != nil {
				return f, err
			}
			f.Category = &c
		}
		return f, nil
	}
}

func parse(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("capture file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	filter := filterFlags(fs)
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	f, err := filter()
	if err != nil {
		return err
	}
	return commands.RunView(path, f, os.Stdout)
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	filter := filterFlags(fs)
	output := fs.String("o", "", "Output file (default: stdout)")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	f, err := filter()
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		out, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}
	return commands.RunExport(path, f, w)
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
