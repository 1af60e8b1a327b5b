package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"echohook/internal/client"
)

func main() {
	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

var root = &cli.Command{
	Name:  "echohookctl",
	Usage: "Control echohook tenants",
	Commands: []*cli.Command{
		responsesCmd,
		requestsCmd,
		exportCmd,
		replayCmd,
	},
}

var debugEnabled bool

func withDefaults(flags ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.BoolFlag{
			Name:        "debug",
			Destination: &debugEnabled,
		},
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "The echohook server to talk to",
			Value:   "http://localhost:8080",
			Sources: cli.EnvVars("ECHOHOOK_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:     "tenant",
			Usage:    "The tenant id (a UUID)",
			Required: true,
			Sources:  cli.EnvVars("ECHOHOOK_TENANT"),
		},
	}, flags...)
}

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.TimestampFlag{
			Name:   "from",
			Usage:  "Range start, RFC3339 (default: one day before --to)",
			Config: cli.TimestampConfig{Layouts: []string{time.RFC3339}},
		},
		&cli.TimestampFlag{
			Name:   "to",
			Usage:  "Range end, RFC3339 (default: now)",
			Config: cli.TimestampConfig{Layouts: []string{time.RFC3339}},
		},
	}
}

func debugf(format string, args ...any) {
	if debugEnabled {
		fmt.Fprintln(os.Stderr, "[DEBUG] "+fmt.Sprintf(format, args...))
	}
}

func newClient(c *cli.Command) (*client.Client, error) {
	debugf("using endpoint %s tenant %s", c.String("endpoint"), c.String("tenant"))
	return client.New(c.String("endpoint"), c.String("tenant"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var responsesCmd = &cli.Command{
	Name:    "responses",
	Aliases: []string{"response"},
	Usage:   "Manage configured responses",
	Commands: []*cli.Command{
		responsesList,
		responsesSet,
		responsesDelete,
	},
}

var responsesList = &cli.Command{
	Name:  "list",
	Usage: "List configured responses",
	Flags: withDefaults(),
	Action: func(ctx context.Context, c *cli.Command) error {
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		list, err := cl.ListResponses(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

var responsesSet = &cli.Command{
	Name:      "set",
	Usage:     "Configure the reply for a path; the body is read from the file argument or stdin",
	ArgsUsage: "[body-file]",
	Flags: withDefaults(
		&cli.StringFlag{
			Name:     "path",
			Usage:    "The path to answer, starting with a slash",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "content-kind",
			Usage: "The reply content kind (json|text|html)",
			Value: "json",
		},
		&cli.IntFlag{
			Name:  "status",
			Usage: "The reply status code",
			Value: 200,
		},
	),
	Action: func(ctx context.Context, c *cli.Command) error {
		body, err := fileOrStdin(c.Args().First())
		if err != nil {
			return err
		}
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		status := c.Int("status")
		rule, err := cl.ConfigureResponse(ctx, client.ConfigureRequest{
			Path:        c.String("path"),
			Body:        string(body),
			ContentKind: c.String("content-kind"),
			StatusCode:  &status,
		})
		if err != nil {
			return err
		}
		return printJSON(rule)
	},
}

var responsesDelete = &cli.Command{
	Name:  "delete",
	Usage: "Delete the response for a path, or all of them",
	Flags: withDefaults(
		&cli.StringFlag{
			Name:  "path",
			Usage: "The path whose response is removed",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Remove every configured response of the tenant",
		},
	),
	Action: func(ctx context.Context, c *cli.Command) error {
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		if c.Bool("all") {
			n, err := cl.PurgeResponses(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d responses\n", n)
			return nil
		}
		if c.String("path") == "" {
			return errors.New("either --path or --all is required")
		}
		return cl.DeleteResponse(ctx, c.String("path"))
	},
}

var requestsCmd = &cli.Command{
	Name:    "requests",
	Aliases: []string{"request"},
	Usage:   "Inspect captured requests",
	Commands: []*cli.Command{
		requestsList,
		requestsGet,
		requestsPurge,
	},
}

var requestsList = &cli.Command{
	Name:  "list",
	Usage: "List captured requests, newest first",
	Flags: withDefaults(append(rangeFlags(),
		&cli.IntFlag{
			Name:  "limit",
			Usage: "The maximum number of requests listed (default: server side)",
		},
	)...),
	Action: func(ctx context.Context, c *cli.Command) error {
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		list, err := cl.ListRequests(ctx, c.Timestamp("from"), c.Timestamp("to"), c.Int("limit"))
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

var requestsGet = &cli.Command{
	Name:      "get",
	Usage:     "Show one captured request",
	ArgsUsage: "<id>",
	Flags: withDefaults(
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "Print the request as an HTTP/1.1 message",
		},
	),
	Action: func(ctx context.Context, c *cli.Command) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("a request id is required")
		}
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		if c.Bool("raw") {
			raw, err := cl.RawRequest(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println(raw)
			return nil
		}
		req, err := cl.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(req)
	},
}

var requestsPurge = &cli.Command{
	Name:  "purge",
	Usage: "Delete every captured request of the tenant",
	Flags: withDefaults(),
	Action: func(ctx context.Context, c *cli.Command) error {
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		n, err := cl.PurgeRequests(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d requests\n", n)
		return nil
	},
}

var exportCmd = &cli.Command{
	Name:  "export",
	Usage: "Export captured requests",
	Commands: []*cli.Command{
		{
			Name:  "har",
			Usage: "Write a HAR document to the output file or stdout",
			Flags: withDefaults(append(rangeFlags(),
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "The file to write (default: stdout)",
				},
			)...),
			Action: func(ctx context.Context, c *cli.Command) error {
				cl, err := newClient(c)
				if err != nil {
					return err
				}
				var w io.Writer = os.Stdout
				if path := c.String("output"); path != "" {
					f, err := os.Create(path)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return cl.ExportHAR(ctx, c.Timestamp("from"), c.Timestamp("to"), w)
			},
		},
	},
}

var replayCmd = &cli.Command{
	Name:      "replay",
	Usage:     "Re-send one captured request, or every request in a range, to a target",
	ArgsUsage: "[id]",
	Flags: withDefaults(append(rangeFlags(),
		&cli.StringFlag{
			Name:     "target",
			Usage:    "The absolute http(s) URL requests are sent to",
			Required: true,
		},
	)...),
	Action: func(ctx context.Context, c *cli.Command) error {
		cl, err := newClient(c)
		if err != nil {
			return err
		}
		if id := c.Args().First(); id != "" {
			res, err := cl.Replay(ctx, id, c.String("target"))
			if err != nil {
				return err
			}
			fmt.Println(res)
			return nil
		}
		results, err := cl.ReplayRange(ctx, c.Timestamp("from"), c.Timestamp("to"), c.String("target"))
		if err != nil {
			return err
		}
		for _, res := range results {
			fmt.Println(res)
		}
		return nil
	},
}

func fileOrStdin(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
