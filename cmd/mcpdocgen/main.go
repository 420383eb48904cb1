package main

import (
	"fmt"
	"io"
	"os"

	"github.com/atlasbridge/atlasbridge/internal/registry"
)

func main() {
	render(os.Stdout)
}

// render writes the tool catalogue as Markdown, grouped by backend, with
// arguments in catalogue order.
func render(w io.Writer) {
	fmt.Fprintln(w, "# MCP Tools (Generated)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "This file is generated from `internal/registry`. Do not edit by hand.")

	var domain registry.Domain
	for _, t := range registry.List() {
		if t.Domain != domain {
			domain = t.Domain
			fmt.Fprintln(w)
			fmt.Fprintf(w, "## %s\n", domainTitle(domain))
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "- `%s`", t.Name)
		if t.Mutating {
			fmt.Fprint(w, " (mutating)")
		}
		fmt.Fprintln(w)
		if t.Description != "" {
			fmt.Fprintf(w, "  - Description: %s\n", t.Description)
		}
		fmt.Fprintf(w, "  - Usage: `%s`\n", registry.Usage(t))
		fmt.Fprintf(w, "  - Returns: %s\n", t.Shape)

		if len(t.Required)+len(t.Optional) == 0 {
			continue
		}
		fmt.Fprintln(w, "  - Input:")
		for _, a := range t.Required {
			writeArg(w, a, "required")
		}
		for _, a := range t.Optional {
			writeArg(w, a, "optional")
		}
	}
}

func writeArg(w io.Writer, name, req string) {
	fmt.Fprintf(w, "    - `%s` (%s)", name, req)
	if h := registry.ArgHelp(name); h != "" {
		fmt.Fprintf(w, ": %s", h)
	}
	fmt.Fprintln(w)
}

func domainTitle(d registry.Domain) string {
	switch d {
	case registry.DomainJira:
		return "Jira"
	case registry.DomainConfluence:
		return "Confluence"
	}
	return string(d)
}
