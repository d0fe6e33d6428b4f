package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"
)

// A CobraRegistrar turns registered commands into cobra subcommands and runs
// them from text lines.
type CobraRegistrar struct {
	root   *cobra.Command
	logger *log.Logger
}

// NewCobraRegistrar creates a registrar whose help and usage text go to out.
// Failed commands are reported to logger.
func NewCobraRegistrar(out io.Writer, logger *log.Logger) *CobraRegistrar {
	root := &cobra.Command{
		Use:           "console",
		Short:         "Operator commands.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.CompletionOptions.DisableDefaultCmd = true

	return &CobraRegistrar{root: root, logger: logger}
}

// Register adds a subcommand.
func (r *CobraRegistrar) Register(
	name, params, description string,
	handler Handler,
) {
	required, total := countParams(params)

	r.root.AddCommand(&cobra.Command{
		Use:   strings.TrimSpace(name + " " + params),
		Short: description,
		Args:  cobra.RangeArgs(required, total),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handler(cmd.Context(), args)
		},
	})
}

// Commands returns the names of all registered commands.
func (r *CobraRegistrar) Commands() []string {
	var names []string
	for _, c := range r.root.Commands() {
		names = append(names, c.Name())
	}

	return names
}

// Execute runs one command line. Blank lines are ignored.
func (r *CobraRegistrar) Execute(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	r.root.SetArgs(args)

	return r.root.ExecuteContext(ctx)
}

// Serve executes lines from in until it ends or ctx is cancelled. Failed
// commands are logged and do not stop the loop.
func (r *CobraRegistrar) Serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}

			if err := r.Execute(ctx, line); err != nil {
				r.logger.Printf("%s: %v", firstWord(line), err)
			}
		}
	}
}

func countParams(params string) (required, total int) {
	for _, p := range strings.Fields(params) {
		total++

		if strings.HasPrefix(p, "<") {
			required++
		}
	}

	return required, total
}

func firstWord(line string) string {
	if f := strings.Fields(line); len(f) > 0 {
		return f[0]
	}

	return fmt.Sprintf("%q", line)
}
