// Package cli implements holdctl, the operator command line for the holds
// engine.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-library-holds/internal/holds"
)

// Backend is what a command runs against.
type Backend struct {
	Engine  *holds.Engine
	Migrate func(ctx context.Context) error // nil when the store has no schema
	Close   func()
}

// Opener builds a Backend. at, when non-zero, pins the engine clock.
type Opener func(ctx context.Context, at time.Time) (*Backend, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	At     string // RFC3339 simulated date

	open Opener
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "holdctl",
		Short: "Operate the book hold engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if _, err := opts.at(); err != nil {
				return err
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.At, "at", "", "run as of this RFC3339 date instead of now")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewBookCommand(opts))
	cmd.AddCommand(NewWaitlistCommand(opts))

	return cmd
}

func (o *RootOptions) at() (time.Time, error) {
	if o.At == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, o.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t, nil
}

// backend opens the store for one command run; callers defer Close.
func (o *RootOptions) backend(ctx context.Context) (*Backend, error) {
	at, err := o.at()
	if err != nil {
		return nil, err
	}
	b, err := o.open(ctx, at)
	if err != nil {
		return nil, err
	}
	if b.Close == nil {
		b.Close = func() {}
	}
	return b, nil
}

// print writes v as JSON, or text() in text mode.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
