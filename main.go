package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zbh233/tpcvm/vm"
)

// runFlags holds the CLI's three dump/report switches. They are independent
// and may combine, so they are plain bools rather than an enum.
type runFlags struct {
	exit    bool
	mem     bool
	fullMem bool
}

func newRootCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "tpcvm <image> [argv...]",
		Short: "tpcvm — register-based bytecode VM with a precise mark-and-compact GC",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runImage(cmd, args[0], args[1:], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.exit, "exit", "e", false, "print the exit code after the program halts")
	cmd.Flags().BoolVarP(&flags.mem, "mem", "m", false, "dump stack/globals/literals/functions/entry and a heap preview after halt")
	// pflag shorthands are a single character; "-fm" is not expressible as
	// one, so --full-mem is long-only here and normalizeFullMemFlag below
	// rewrites that spelling to "--full-mem" before cobra parses.
	cmd.Flags().BoolVar(&flags.fullMem, "full-mem", false, "like --mem but dumps the entire heap")
	// Arguments after the image path are the guest program's argv and must
	// never be scanned as harness flags, even if one happens to look like
	// -e or -m.
	cmd.Flags().SetInterspersed(false)

	return cmd
}

// normalizeFullMemFlag rewrites the single-dash "-fm" spelling to the long
// flag pflag actually recognizes, leaving every other argument untouched.
// Only the harness flags before the image path are rewritten; the image
// path and the guest argv after it are passed through as given.
func normalizeFullMemFlag(args []string) []string {
	out := make([]string, len(args))
	harness := true
	for i, a := range args {
		if harness && a == "-fm" {
			a = "--full-mem"
		} else if len(a) == 0 || a[0] != '-' {
			harness = false
		}
		out[i] = a
	}
	return out
}

func runImage(cmd *cobra.Command, path string, argv []string, flags runFlags) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tpcvm: %w", err)
	}

	width, err := imageWidth(image)
	if err != nil {
		return fmt.Errorf("tpcvm: %w", err)
	}

	m := vm.New(vm.MemSizeFromEnv(), width)
	m.SetRecursionLimit(vm.RecursionLimitFromEnv())
	m.Args = argv

	if err := m.Load(image); err != nil {
		return fmt.Errorf("tpcvm: load: %w", err)
	}

	runErr := m.RunProgram()

	if flags.mem || flags.fullMem {
		m.DumpMemory(cmd.OutOrStdout(), flags.fullMem)
	}
	if flags.exit {
		fmt.Fprintf(cmd.OutOrStdout(), "exit code %d\n", m.ExitCode())
	}

	if runErr != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), runErr)
		os.Exit(int(m.ExitCode()))
	}
	return nil
}

// imageWidth peeks the image header's bit-width byte so the CLI can
// construct a Machine of matching word width before handing the rest of
// validation to Machine.Load.
func imageWidth(image []byte) (int, error) {
	const signatureLen = 4
	if len(image) <= signatureLen {
		return 0, fmt.Errorf("image too short to contain a header")
	}
	switch image[signatureLen] {
	case 32:
		return 4, nil
	case 64:
		return 8, nil
	default:
		return 0, fmt.Errorf("bad bit width %d in image header", image[signatureLen])
	}
}

func main() {
	cmd := newRootCmd()
	cmd.SetArgs(normalizeFullMemFlag(os.Args[1:]))
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
