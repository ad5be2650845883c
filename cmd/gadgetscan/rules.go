package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

func cmdRules(args []string) error {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	rulesPath := fs.String("rules", "", "rules YAML (default: built-in rules)")
	show := fs.String("show", "", "print one rule in detail")

	if err := fs.Parse(args); err != nil {
		return err
	}
	rs, err := loadRules(*rulesPath)
	if err != nil {
		return err
	}

	if *show == "" {
		for _, r := range rs.Rules() {
			fmt.Printf("%-26s %s\n", r.Name, r.Description)
		}
		fmt.Fprintf(os.Stderr, "%d rules\n", rs.Len())
		return nil
	}

	r, err := rs.Lookup(*show)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n  %s\n", r.Name, r.Description)
	fmt.Println("sequence:")
	for i, st := range r.Sequence {
		if st.Bounded {
			fmt.Printf("  %d. %s within %d\n", i+1, st.Tag, st.Within)
		} else {
			fmt.Printf("  %d. %s\n", i+1, st.Tag)
		}
	}
	if r.MaxDistance > 0 {
		fmt.Printf("max_distance: %d\n", r.MaxDistance)
	}
	if len(r.Properties) > 0 {
		fmt.Println("requires:")
		for _, p := range r.Properties {
			fmt.Printf("  %s\n", p)
		}
	}
	if len(r.AntiPatterns) > 0 {
		fmt.Println("anti_patterns:")
		for _, a := range r.AntiPatterns {
			fmt.Printf("  %s\n", a)
		}
	}
	if len(r.Signatures) > 0 {
		fmt.Println("signatures:")
		for _, sig := range r.Signatures {
			fmt.Printf("  %s\n", strings.Join(sig, " "))
		}
	}
	return nil
}
