package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gadgetscan/internal/output"
	"gadgetscan/internal/store"
)

func cmdGadgets(args []string) error {
	fs := flag.NewFlagSet("gadgets", flag.ExitOnError)
	db := fs.String("db", "", "reference gadget library")
	vuln := fs.String("vuln", "", "only list this vulnerability type")
	count := fs.Bool("count", false, "print the number of gadgets only")
	del := fs.String("delete", "", "delete gadgets by signature (comma-separated)")
	asJSON := fs.Bool("json", false, "list gadgets as JSONL")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *db == "" {
		return fmt.Errorf("--db is required")
	}

	opts := store.DefaultOptions()
	opts.ReadOnly = *del == ""
	s, err := store.Open(*db, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if *del != "" {
		for _, sig := range splitList(*del) {
			if err := s.Delete(sig); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "deleted %s\n", sig)
		}
		return nil
	}

	if *count {
		n, err := s.Count()
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	}

	gs, err := s.List(*vuln)
	if err != nil {
		return err
	}
	if *asJSON {
		return output.WriteJSONL(os.Stdout, gs)
	}
	for _, g := range gs {
		fmt.Printf("%s  %-26s %-7s %3d  %s  %s\n", g.Signature, g.VulnType, g.Arch, len(g.Insts), g.Name, strings.Join(g.Opcodes(), " "))
	}
	fmt.Fprintf(os.Stderr, "%d gadgets\n", len(gs))
	return nil
}
