package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

// NewReplCommand constructs the `repl` command: an interactive session
// with history against a running server.
func NewReplCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := &repl{c: newHTTPClient(baseURL()), out: cmd.OutOrStdout()}
			return r.run(cmd.Context())
		},
	}
}

type repl struct {
	c     *httpClient
	out   io.Writer
	liner *liner.State
}

var replCommands = []string{"put", "get", "del", "state", "clear-cache", "gc", "help", "exit", "quit"}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".strata_history")
}

func (r *repl) run(ctx context.Context) error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(func(line string) (out []string) {
		for _, c := range replCommands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}
		return out
	})

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintf(r.out, "strata - connected to %s\n", r.c.base)
	fmt.Fprintln(r.out, "Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("strata> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(r.out)
				r.saveHistory()
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "put":
			if len(args) < 2 {
				fmt.Fprintln(r.out, "usage: put <key> <value>")
				continue
			}
			// The value is everything after the key, spaces included.
			value := strings.TrimSpace(strings.TrimPrefix(line[len(cmd):], " "+args[0]))
			if err := r.c.put(ctx, args[0], []byte(value)); err != nil {
				fmt.Fprintln(r.out, "error:", err)
				continue
			}
			fmt.Fprintln(r.out, "OK")

		case "get":
			if len(args) != 1 {
				fmt.Fprintln(r.out, "usage: get <key>")
				continue
			}
			value, maybeStale, err := r.c.get(ctx, args[0])
			if err != nil {
				fmt.Fprintln(r.out, "error:", err)
				continue
			}
			fmt.Fprintln(r.out, string(value))
			if maybeStale {
				fmt.Fprintln(r.out, "(maybe stale)")
			}

		case "del", "delete":
			if len(args) != 1 {
				fmt.Fprintln(r.out, "usage: del <key>")
				continue
			}
			if err := r.c.del(ctx, args[0]); err != nil {
				fmt.Fprintln(r.out, "error:", err)
				continue
			}
			fmt.Fprintln(r.out, "OK")

		case "state":
			state, err := r.c.state(ctx)
			if err != nil {
				fmt.Fprintln(r.out, "error:", err)
				continue
			}
			fmt.Fprintln(r.out, state)

		case "clear-cache":
			if err := r.c.clearCache(ctx); err != nil {
				fmt.Fprintln(r.out, "error:", err)
				continue
			}
			fmt.Fprintln(r.out, "OK")

		case "gc":
			enabled, auto := true, true
			for _, a := range args {
				switch a {
				case "off":
					enabled = false
				case "on":
					enabled = true
				case "manual":
					auto = false
				case "auto":
					auto = true
				default:
					fmt.Fprintln(r.out, "usage: gc [on|off] [auto|manual]")
				}
			}
			if err := r.c.setGc(ctx, enabled, auto); err != nil {
				fmt.Fprintln(r.out, "error:", err)
				continue
			}
			fmt.Fprintln(r.out, "OK")

		default:
			fmt.Fprintf(r.out, "unknown command %q; type 'help'\n", cmd)
		}
	}
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, `Commands:
  put <key> <value>     store a value
  get <key>             fetch a value
  del <key>             delete a key
  state                 dump engine state
  clear-cache           drop cached values
  gc [on|off] [auto|manual]
  exit`)
}

func (r *repl) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}
