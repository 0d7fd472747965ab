// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// mcp-probe is a small diagnostic client for MCP endpoints fronted by the
// proxy. It exercises both addressing modes: the path-scoped session
// endpoints and the header-scoped streamable endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/client"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/jsonrpc"
)

var (
	flagServer  string
	flagToken   string
	flagTimeout time.Duration
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "mcp-probe",
		Short:         "Probe an MCP endpoint through the proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagServer, "server", "s", "http://127.0.0.1:8090", "proxy base URL")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token sent with every request")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "per-command timeout")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		sessionCmd(),
		initCmd(),
		toolsCmd(),
		fetchCmd(),
		listenCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("probe failed")
	}
}

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Create a session and print its identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := probeContext()
			defer cancel()

			id, err := newProbe().CreateSession(ctx)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a session and perform the initialize handshake",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := probeContext()
			defer cancel()

			c := newProbe()
			if _, err := c.CreateSession(ctx); err != nil {
				return err
			}
			reply, err := c.Initialize(ctx)
			if err != nil {
				return err
			}
			return printMessage(reply)
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := probeContext()
			defer cancel()

			c := newProbe()
			if _, err := c.CreateSession(ctx); err != nil {
				return err
			}
			if _, err := c.Initialize(ctx); err != nil {
				return err
			}
			reply, err := c.ListTools(ctx)
			if err != nil {
				return err
			}
			return printMessage(reply)
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url>",
		Short: "Invoke the remote fetch tool against a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := probeContext()
			defer cancel()

			c := newProbe()
			if _, err := c.CreateSession(ctx); err != nil {
				return err
			}
			if _, err := c.Initialize(ctx); err != nil {
				return err
			}
			reply, err := c.FetchURL(ctx, args[0])
			if err != nil {
				return err
			}
			return printMessage(reply)
		},
	}
}

func listenCmd() *cobra.Command {
	var stopAfterMessage bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Open the event stream and print incoming events",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Streams are long-lived; only a signal ends the command.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := newProbe()
			stream, err := c.Connect(ctx)
			if err != nil {
				return err
			}
			defer stream.Close()

			fmt.Fprintf(os.Stderr, "session: %s\n", stream.SessionID)

			for {
				ev, err := stream.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}

				fmt.Printf("event=%s data=%s\n", ev.Name, ev.Data)

				if stopAfterMessage && ev.Name == "message" {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&stopAfterMessage, "stop-after-message", true, "close the stream after the first message event")
	return cmd
}

func newProbe() *client.Client {
	logger := zerolog.Nop()
	if flagVerbose {
		logger = log.Logger.Level(zerolog.DebugLevel)
	}

	httpc := &http.Client{Transport: &authTransport{token: flagToken}}
	return client.New(flagServer,
		client.WithHTTPClient(httpc),
		client.WithLogger(logger),
	)
}

func probeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), flagTimeout)
}

func printMessage(msg *jsonrpc.Message) error {
	out, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// authTransport injects the bearer token, when set, on every request.
type authTransport struct {
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return http.DefaultTransport.RoundTrip(req)
}
