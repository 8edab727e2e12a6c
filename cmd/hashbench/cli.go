package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/hashbench/pkg/client"
)

var (
	serverURL     string
	clientTimeout time.Duration
	useH2C        bool
	outputJSON    bool
)

func addClientFlags(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:3427", "Sink server URL")
		cmd.Flags().DurationVar(&clientTimeout, "timeout", 60*time.Second, "Per-request timeout (0 disables)")
		cmd.Flags().BoolVar(&useH2C, "h2c", false, "Use HTTP/2 over cleartext TCP")
		cmd.Flags().BoolVar(&outputJSON, "output-json", false, "Output as JSON")
	}
}

func newClient() *client.Client {
	opts := []client.Option{client.WithTimeout(clientTimeout)}
	if useH2C {
		opts = append(opts, client.WithH2C())
	}
	return client.New(serverURL, opts...)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, string(data))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
