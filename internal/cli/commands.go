package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-library-holds/internal/holds"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			if b.Migrate == nil {
				return errors.New("migrate: store has no schema")
			}
			if err := b.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var overdue bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed claim windows and advance every held book",
		Long: `Run one sweep pass. Each held book whose claim window or premium
phase has ended moves to its next state. Running it twice in a row
reports nothing the second time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			rep, sweepErr := b.Engine.Sweep(cmd.Context())
			var marked int64
			if overdue {
				if marked, err = b.Engine.MarkOverdue(cmd.Context()); err != nil {
					return err
				}
			}
			out := struct {
				holds.SweepReport
				Overdue int64 `json:"overdue"`
			}{rep, marked}
			if err := rootOpts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "expired %d, advanced %d, overdue %d\n", len(rep.Expired), len(rep.Advanced), marked)
				for _, e := range rep.Expired {
					fmt.Fprintf(w, "  expired %s (book %s, user %s)\n", e.ID, e.BookID, e.UserID)
				}
			}); err != nil {
				return err
			}
			return sweepErr
		},
	}
	cmd.Flags().BoolVar(&overdue, "overdue", true, "also mark overdue checkouts")
	return cmd
}

func NewBookCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Catalog operations",
	}
	cmd.AddCommand(bookAction(rootOpts, "add", "Register a copy as available",
		func(c *cobra.Command, e *holds.Engine, id string) (holds.Book, error) {
			return e.RegisterBook(c.Context(), id)
		}))
	cmd.AddCommand(bookAction(rootOpts, "deactivate", "Take a copy out of circulation",
		func(c *cobra.Command, e *holds.Engine, id string) (holds.Book, error) {
			return e.Deactivate(c.Context(), id)
		}))
	cmd.AddCommand(bookAction(rootOpts, "reactivate", "Return a copy to circulation",
		func(c *cobra.Command, e *holds.Engine, id string) (holds.Book, error) {
			return e.Reactivate(c.Context(), id)
		}))
	cmd.AddCommand(&cobra.Command{
		Use:   "show <book-id>",
		Short: "Show availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			a, err := b.Engine.Availability(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), a, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s waiting=%d%s\n", a.BookID, a.Status, a.Waiting, until(a.HoldUntil))
			})
		},
	})
	return cmd
}

func bookAction(rootOpts *RootOptions, use, short string, run func(*cobra.Command, *holds.Engine, string) (holds.Book, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <book-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			book, err := run(cmd, b.Engine, args[0])
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), book, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s%s\n", book.ID, book.Status, until(book.HoldUntil))
			})
		},
	}
}

func NewWaitlistCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "waitlist <book-id>",
		Short: "List the active waitlist of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			list, err := b.Engine.Waitlist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if list == nil {
				list = []holds.WaitlistEntry{}
			}
			return rootOpts.print(cmd.OutOrStdout(), list, func(w io.Writer) {
				for _, e := range list {
					fmt.Fprintf(w, "%3d %-8s %-8s %s%s\n", e.Position, e.Status, e.Tier, e.UserID, until(e.ExpiresAt))
				}
			})
		},
	}
}

func until(t *time.Time) string {
	if t == nil {
		return ""
	}
	return " until " + t.UTC().Format(time.RFC3339)
}
