package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const defaultAddr = "http://localhost:8080"

// cli holds the state shared by every subcommand of one invocation.
type cli struct {
	out     io.Writer
	addr    string
	timeout time.Duration
	retries int
	raw     bool
	c       *client
}

func newRootCmd(out io.Writer) *cobra.Command {
	s := &cli{out: out}

	addr := os.Getenv("SENTINEL_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	root := &cobra.Command{
		Use:           "sentinelctl",
		Short:         "Control a running sentinel daemon",
		Long:          "sentinelctl queries and steers the alert ingestion daemon through its control API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			c, err := newClient(s.addr, s.timeout, s.retries)
			if err != nil {
				return err
			}
			s.c = c
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&s.addr, "addr", addr, "daemon control API address (env SENTINEL_ADDR)")
	root.PersistentFlags().DurationVar(&s.timeout, "timeout", 30*time.Second, "request timeout including retries")
	root.PersistentFlags().IntVar(&s.retries, "retries", 2, "retries on connection errors and 5xx responses")
	root.PersistentFlags().BoolVar(&s.raw, "json", false, "print the raw JSON response")

	root.AddCommand(
		s.pingCmd(),
		s.statusCmd(),
		s.simplePost("start", "Resume processing of queued notices", "/start"),
		s.simplePost("pause", "Stop dequeuing after the notice in flight", "/pause"),
		s.simplePost("shutdown", "Stop the daemon after the notice in flight", "/shutdown"),
		s.simplePost("kill", "Abort the notice in flight and stop the daemon", "/kill"),
		s.ingestCmd(),
		s.submitCmd(),
		s.queueCmd(),
		s.topicsCmd(),
		s.eventCmd(),
		s.promptsCmd(),
		s.answerCmd(),
	)
	return root
}

// print writes the response, indented when --json is set and through
// human otherwise.
func (s *cli) print(data []byte, human func(gjson.Result) error) error {
	if s.raw || human == nil {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			_, err = s.out.Write(data)
			return err
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(s.out)
		return err
	}
	return human(gjson.ParseBytes(data))
}

func (s *cli) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the daemon is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := s.c.get(cmd.Context(), "/ping")
			if err != nil {
				return err
			}
			return s.print(data, func(r gjson.Result) error {
				_, err := fmt.Fprintf(s.out, "pong (%s)\n", r.Get("state").String())
				return err
			})
		},
	}
}

func (s *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker state, queue depth and outcome counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := s.c.get(cmd.Context(), "/status")
			if err != nil {
				return err
			}
			return s.print(data, func(r gjson.Result) error {
				tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "state\t%s\n", r.Get("state").String())
				fmt.Fprintf(tw, "queue\t%d\n", r.Get("queue_depth").Int())
				fmt.Fprintf(tw, "events\t%d\n", r.Get("events").Int())
				fmt.Fprintf(tw, "prompts\t%d\n", r.Get("open_prompts").Int())
				if cur := r.Get("current"); cur.Exists() {
					fmt.Fprintf(tw, "current\t%s (%s)\n", cur.Get("notice_id").String(), cur.Get("state").String())
				}
				r.Get("processed").ForEach(func(k, v gjson.Result) bool {
					fmt.Fprintf(tw, "%s\t%d\n", k.String(), v.Int())
					return true
				})
				if last := r.Get("last"); last.Exists() {
					fmt.Fprintf(tw, "last\t%s %s\n", last.Get("notice_id").String(), last.Get("outcome").String())
				}
				return tw.Flush()
			})
		},
	}
}

func (s *cli) simplePost(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := s.c.post(cmd.Context(), path, nil)
			if err != nil {
				return err
			}
			return s.print(data, nil)
		},
	}
}

func (s *cli) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <ivorn-or-path>",
		Short: "Queue one notice by archive identifier or daemon-side file path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := s.c.post(cmd.Context(), "/ingest", map[string]string{"target": args[0]})
			if err != nil {
				return err
			}
			return s.print(data, printSubmit(s.out))
		},
	}
}

func (s *cli) submitCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Push a local notice payload to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			h := http.Header{}
			if topic != "" {
				h.Set("X-Notice-Topic", topic)
			}
			data, err := s.c.do(cmd.Context(), http.MethodPost, "/notices", bytes.NewReader(payload), h)
			if err != nil {
				return err
			}
			return s.print(data, printSubmit(s.out))
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic the payload arrived on")
	return cmd
}

func printSubmit(out io.Writer) func(gjson.Result) error {
	return func(r gjson.Result) error {
		var err error
		if r.Get("skipped").Bool() {
			_, err = fmt.Fprintf(out, "skipped %s: %s\n", r.Get("notice_id").String(), r.Get("reason").String())
		} else {
			_, err = fmt.Fprintf(out, "queued %s as %s\n", r.Get("notice_id").String(), r.Get("id").String())
		}
		return err
	}
}

func (s *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued notices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := s.c.get(cmd.Context(), "/queue")
			if err != nil {
				return err
			}
			return s.print(data, func(r gjson.Result) error {
				entries := r.Get("entries").Array()
				if len(entries) == 0 {
					_, err := fmt.Fprintln(s.out, "queue is empty")
					return err
				}
				tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNOTICE\tORIGIN\tSTATE\tATTEMPTS")
				for _, e := range entries {
					state := e.Get("state").String()
					if e.Get("in_flight").Bool() {
						state += "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
						e.Get("id").String(), e.Get("notice_id").String(), e.Get("origin").String(), state, e.Get("attempts").Int())
				}
				return tw.Flush()
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every queued notice except the one in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := s.c.do(cmd.Context(), http.MethodDelete, "/queue", nil, nil)
			if err != nil {
				return err
			}
			return s.print(data, func(r gjson.Result) error {
				_, err := fmt.Fprintf(s.out, "dropped %d\n", r.Get("dropped").Int())
				return err
			})
		},
	})
	return cmd
}

func (s *cli) topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List subscribed topics and understood schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := s.c.get(cmd.Context(), "/topics")
			if err != nil {
				return err
			}
			return s.print(data, func(r gjson.Result) error {
				fmt.Fprintln(s.out, "subscribed:")
				for _, t := range r.Get("subscribed").Array() {
					fmt.Fprintf(s.out, "  %s\n", t.String())
				}
				fmt.Fprintln(s.out, "schemas:")
				for _, t := range r.Get("schemas").Array() {
					fmt.Fprintf(s.out, "  %s\n", t.String())
				}
				return nil
			})
		},
	}
}

func (s *cli) eventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "event <key>",
		Short: "Show a stored event and its targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := s.c.get(cmd.Context(), "/events/"+url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return s.print(data, nil)
		},
	}
}

func (s *cli) promptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List open operator prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := s.c.get(cmd.Context(), "/prompts")
			if err != nil {
				return err
			}
			return s.print(data, func(r gjson.Result) error {
				prompts := r.Get("prompts").Array()
				if len(prompts) == 0 {
					_, err := fmt.Fprintln(s.out, "no open prompts")
					return err
				}
				tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tNOTICE\tEXPIRES\tMESSAGE")
				for _, p := range prompts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						p.Get("id").String(), p.Get("kind").String(), p.Get("notice_id").String(),
						p.Get("expires").String(), p.Get("message").String())
				}
				return tw.Flush()
			})
		},
	}
}

func (s *cli) answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <prompt-id> [value]",
		Short: "Answer an operator prompt; omit the value to decline",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			if len(args) == 2 {
				value = args[1]
			}
			data, err := s.c.post(cmd.Context(), "/prompts/"+url.PathEscape(args[0]), map[string]string{"value": value})
			if err != nil {
				return err
			}
			return s.print(data, nil)
		},
	}
}
