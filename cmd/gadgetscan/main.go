package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "scan":
		err = cmdScan(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "minimize":
		err = cmdMinimize(os.Args[2:])
	case "index":
		err = cmdIndex(os.Args[2:])
	case "gadgets":
		err = cmdGadgets(os.Args[2:])
	case "rules":
		err = cmdRules(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `gadgetscan: speculative-execution gadget detector

Usage:
  gadgetscan scan     --in <glob> [--out <dir>] [--db <dir>]   Detect gadgets and rank similar windows
  gadgetscan validate --in <file> --vuln <type>                Validate a window against one rule
  gadgetscan minimize --in <file> --vuln <type> [--dot]        Shrink a matching window to a witness
  gadgetscan index    --in <glob> --db <dir> [--witnesses]     Add reference gadgets to a library
  gadgetscan gadgets  --db <dir> [--count] [--delete <sig>]    List or edit a gadget library
  gadgetscan rules    [--rules <file>] [--show <type>]         List detection rules

Flags:
  --in <glob>          Input files: .jsonl/.json records or assembly (.s, .asm, .txt), optionally .zst
  --out <dir>          Output directory
  --rules <file>       Rules YAML (built-in rules by default)
  --arch <name>        Force architecture (x86_64, arm64); inferred from path otherwise
  --vuln <list>        Vulnerability types, comma-separated
  --db <dir>           Reference gadget library (Pebble)
  --threshold <f>      Minimum similarity confidence (default 0.3)
  --top <n>            Keep the n best similarity candidates (default 100)
  --workers <n>        Parallel workers (default GOMAXPROCS)
  --strategies <list>  Window strategies: sliding,controlflow,dataflow,signature or all
  --sizes <list>       Sliding window sizes (default 10,15,20,25)
  --metrics-out <file> Write Prometheus metrics after the run
  --verbose            Log progress detail to stderr
`)
}
