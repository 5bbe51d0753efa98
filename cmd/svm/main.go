// SVM CLI - runs, disassembles, assembles and interactively drives SLang
// bytecode containers.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/slangvm/svm/manifest"
	"github.com/slangvm/svm/vm"
)

type mode int

const (
	modeNone mode = iota
	modeRun
	modeDisassemble
	modeAssemble
	modeInteract
)

type options struct {
	mode       mode
	input      string
	output     string
	password   string
	verbose    bool
	stackLimit int
}

// parseArgs scans the argument list by hand: exactly one mode flag is
// honored and unknown options are ignored rather than rejected.
func parseArgs(args []string) options {
	var opts options
	next := func(i int) string {
		if i+1 < len(args) {
			return args[i+1]
		}
		return ""
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-r":
			opts.mode = modeRun
			opts.input = next(i)
			i++
		case "-d":
			opts.mode = modeDisassemble
			opts.input = next(i)
			i++
		case "-a":
			opts.mode = modeAssemble
			opts.input = next(i)
			i++
		case "-i":
			opts.mode = modeInteract
		case "-o":
			opts.output = next(i)
			i++
		case "-p":
			opts.password = next(i)
			i++
		case "-v":
			opts.verbose = true
		}
	}
	return opts
}

// applyManifest fills the gaps flags left open: the flag value wins when
// both are set, verbose is the OR of the two, and the stack limit only
// comes from the manifest.
func applyManifest(opts options, mf *manifest.Manifest) options {
	if mf == nil {
		return opts
	}
	if opts.password == "" {
		opts.password = mf.Machine.Password
	}
	opts.verbose = opts.verbose || mf.Machine.Verbose
	opts.stackLimit = mf.Machine.StackLimit
	return opts
}

func main() {
	commonlog.Configure(0, nil)
	opts := parseArgs(os.Args[1:])

	mf, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	opts = applyManifest(opts, mf)

	switch opts.mode {
	case modeRun:
		err = runProgram(opts)
	case modeDisassemble:
		err = disassembleProgram(opts)
	case modeAssemble:
		err = assembleProgram(opts, mf)
	case modeInteract:
		err = interact(opts)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: svm -r PATH | -d PATH | -a PATH -o PATH | -i [options]\n\n")
	fmt.Fprintf(os.Stderr, "Modes:\n")
	fmt.Fprintf(os.Stderr, "  -r PATH   Run a compiled container\n")
	fmt.Fprintf(os.Stderr, "  -d PATH   Disassemble a compiled container\n")
	fmt.Fprintf(os.Stderr, "  -a PATH   Assemble a mnemonic-form source file\n")
	fmt.Fprintf(os.Stderr, "  -i        Interact mode: read records from stdin\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	fmt.Fprintf(os.Stderr, "  -o PATH       Output path for -a\n")
	fmt.Fprintf(os.Stderr, "  -p PASSWORD   Container obfuscation password\n")
	fmt.Fprintf(os.Stderr, "  -v            Verbose: narrate (-r) or step (-i) each instruction\n")
}

// runProgram loads and executes a container. A magic mismatch returns
// silently with no execution, matching the loader contract.
func runProgram(opts options) error {
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return err
	}

	m := vm.NewMachine(os.Stdout)
	defer m.Reset()
	m.SetStackLimit(opts.stackLimit)
	if opts.verbose {
		m.SetTracer(vm.NewTracer(os.Stdout))
	}
	if err := m.LoadContainer(data, opts.password); err != nil {
		if errors.Is(err, vm.ErrBadMagic) {
			return nil
		}
		return err
	}
	return m.Run()
}

func disassembleProgram(opts options) error {
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return err
	}
	if err := vm.Disassemble(data, opts.password, os.Stdout); err != nil {
		if errors.Is(err, vm.ErrBadMagic) {
			return nil
		}
		return err
	}
	return nil
}

// assembleProgram compiles a mnemonic-form source file into a container,
// and records a snapshot of the program in the store when the manifest
// configures one.
func assembleProgram(opts options, mf *manifest.Manifest) error {
	if opts.output == "" {
		return errors.New("assemble mode requires -o PATH")
	}
	src, err := os.Open(opts.input)
	if err != nil {
		return err
	}
	defer src.Close()

	container, err := vm.Assemble(src, opts.password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.output, container, 0o644); err != nil {
		return err
	}

	if mf != nil && mf.StorePath() != "" {
		if err := recordProgram(container, opts.password, mf.StorePath()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: program store: %v\n", err)
		}
	}
	return nil
}

// recordProgram stores the assembled program's snapshot keyed by the digest
// of the plaintext container, so the same source lands on the same row
// regardless of password. A digest already present is left alone; the
// snapshot is content-addressed, so re-assembling identical source has
// nothing new to say.
func recordProgram(container []byte, password, storePath string) error {
	plain := vm.EncodeContainer(container, password)
	digest := vm.ContainerDigest(plain)

	store, err := vm.OpenProgramStore(storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if ok, err := store.Has(digest); err != nil {
		return err
	} else if ok {
		return nil
	}

	m := vm.NewMachine(nil)
	defer m.Reset()
	if err := m.LoadContainer(plain, ""); err != nil {
		return err
	}
	blob, err := vm.MarshalSnapshot(m.Snapshot())
	if err != nil {
		return err
	}
	return store.Put(digest, blob, m.RunID())
}

// interact feeds mnemonic records from stdin to the machine. The tracer and
// the record loader share one buffered reader, since step acknowledgements
// arrive on the same stream as the program.
func interact(opts options) error {
	stdin := bufio.NewReader(os.Stdin)
	m := vm.NewMachine(os.Stdout)
	defer m.Reset()
	m.SetStackLimit(opts.stackLimit)
	if opts.verbose {
		m.SetTracer(vm.NewSteppingTracer(os.Stdout, stdin))
	}
	return m.Interact(stdin)
}
