// Command grpcwebcall is a small diagnostic harness for the grpcweb client
// core: it drives a single unary call against a gRPC-Web endpoint with a
// raw, pre-encoded message body and prints the response headers, body, and
// trailers it got back. It exists to exercise the call core end-to-end
// without requiring generated protobuf types for the target service.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"

	"github.com/grpcweb-core/client/grpcweb"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "grpcwebcall",
		Short: "Send a single raw gRPC-Web call and print the response",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	root.AddCommand(newCallCommand())

	return root
}

func newCallCommand() *cobra.Command {
	var (
		addr     string
		method   string
		dataHex  string
		insecure bool
		text     bool
		native   bool
		timeout  time.Duration
		header   []string
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Invoke a unary method with a raw, hex-encoded request body",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(dataHex)
			if err != nil {
				return fmt.Errorf("--data must be hex-encoded: %w", err)
			}

			opts := []grpcweb.DialOption{
				grpcweb.WithLogger(zap.Must(zap.NewDevelopment())),
			}
			if insecure {
				opts = append(opts, grpcweb.WithInsecure())
			}
			if native {
				opts = append(opts, grpcweb.WithNative())
			} else if text {
				opts = append(opts, grpcweb.WithGRPCWebText())
			}

			conn, err := grpcweb.NewClient(addr, opts...)
			if err != nil {
				return fmt.Errorf("failed to build client: %w", err)
			}

			ctx := cmd.Context()
			var cancel context.CancelFunc
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			callOpts := []grpcweb.CallOption{grpcweb.CallContentSubtype("raw")}
			for _, h := range header {
				name, value, ok := splitHeader(h)
				if !ok {
					return fmt.Errorf("--header must be name:value, got %q", h)
				}
				callOpts = append(callOpts, grpcweb.WithOutgoingHeader(name, value))
			}
			if timeout > 0 {
				callOpts = append(callOpts, grpcweb.Deadline(time.Now().UTC().Add(timeout)))
			}

			var respHeader, respTrailer metadata.MD
			callOpts = append(callOpts,
				grpcweb.Header(&respHeader),
				grpcweb.Trailer(&respTrailer),
			)

			var reply []byte
			callErr := conn.Invoke(ctx, method, &payload, &reply, callOpts...)

			fmt.Fprintf(cmd.OutOrStdout(), "headers:  %v\n", respHeader)
			fmt.Fprintf(cmd.OutOrStdout(), "body:     %s\n", hex.EncodeToString(reply))
			fmt.Fprintf(cmd.OutOrStdout(), "trailers: %v\n", respTrailer)

			return callErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "host:port of the gRPC-Web endpoint")
	cmd.Flags().StringVar(&method, "method", "", "fully qualified method, e.g. /pkg.Service/Method")
	cmd.Flags().StringVar(&dataHex, "data", "", "hex-encoded request message body")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "dial over plain HTTP instead of HTTPS")
	cmd.Flags().BoolVar(&text, "text", false, "use the gRPC-Web-text (base64) content type")
	cmd.Flags().BoolVar(&native, "native", false, "target a plain application/grpc endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "call deadline; 0 disables it")
	cmd.Flags().StringArrayVar(&header, "header", nil, "outgoing metadata, name:value, repeatable")

	_ = cmd.MarkFlagRequired("addr")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

func splitHeader(s string) (name, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
