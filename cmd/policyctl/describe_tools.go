package main

import (
	"encoding/json"
	"fmt"
	"os"

	"policyengine.dev/core/internal/policy/tooldef"
)

// runDescribeTools prints the jsonschema-reflected parameter shape for one
// tool, or for every known tool when no name is given. The schema is
// reflected from tooldef's parameter structs through
// github.com/invopop/jsonschema rather than hand-duplicated here; the
// Interceptor does not validate tool calls against it.
func runDescribeTools(args []string) {
	if len(args) == 0 {
		out := make(map[string]*json.RawMessage, len(tooldef.Known))
		for _, name := range tooldef.Known {
			raw, err := json.Marshal(tooldef.Schema(name))
			if err != nil {
				fmt.Fprintf(os.Stderr, "marshalling schema for %s: %v\n", name, err)
				os.Exit(1)
			}
			msg := json.RawMessage(raw)
			out[string(name)] = &msg
		}
		printJSON(out)
		return
	}

	name := tooldef.Name(tooldef.NormalizeName(args[0]))
	if !tooldef.IsKnown(string(name)) {
		fmt.Fprintf(os.Stderr, "unknown tool %q\n", args[0])
		os.Exit(1)
	}
	printJSON(tooldef.Schema(name))
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		os.Exit(1)
	}
}
