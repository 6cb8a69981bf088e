package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/matheus3301/golaco/internal/api"
	"github.com/matheus3301/golaco/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonOutput  bool
	callTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "golacoctl",
	Short:         "Control a golaco session daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second, "per-call timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withClient resolves the session, connects to its daemon and runs fn.
func withClient(fn func(ctx context.Context, c *api.Client) error) error {
	name, err := session.ResolveValid(sessionFlag)
	if err != nil {
		return err
	}
	c, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return fn(ctx, c)
}

// call runs one unary method and prints the response.
func call(service, method string, req map[string]any, human func(map[string]any)) error {
	return withClient(func(ctx context.Context, c *api.Client) error {
		out, err := c.Call(ctx, service, method, req)
		if err != nil {
			return err
		}
		if jsonOutput || human == nil {
			outputJSON(out)
			return nil
		}
		human(out)
		return nil
	})
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

// printFields prints a flat response as aligned key: value lines.
func printFields(out map[string]any) {
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-20s %v\n", k+":", out[k])
	}
}
