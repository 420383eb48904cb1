package registry

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/atlasbridge/atlasbridge/internal/core"
)

// Any call accepted by Validate names a registered tool and carries every
// required argument.
func TestValidateAcceptsOnlyCompleteCallsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	names := append(Names(), "", "none", "get_jira", "GET_JIRA_TICKET")
	argNames := []string{"ticket_id", "project_key", "summary", "description", "issue_type", "jql_query", "page_id", "space_key", "title", "body", "query", "bogus"}

	properties.Property("validated calls are complete", prop.ForAll(
		func(toolIdx int, mask uint16, blank uint16) bool {
			call := core.ToolCall{Tool: names[toolIdx], Arguments: map[string]string{}}
			for i, a := range argNames {
				if mask&(1<<i) == 0 {
					continue
				}
				v := "value"
				if blank&(1<<i) != 0 {
					v = " "
				}
				call.Arguments[a] = v
			}
			if Validate(call) != nil {
				return true
			}
			spec, err := Resolve(call.Tool)
			if err != nil {
				return false
			}
			for _, r := range spec.Required {
				if call.Arg(r) == "" {
					return false
				}
			}
			for k := range call.Arguments {
				if !spec.Accepts(k) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(names)-1),
		gen.UInt16(),
		gen.UInt16(),
	))

	properties.Property("complete calls with accepted optionals validate", prop.ForAll(
		func(toolIdx int, optMask uint8) bool {
			spec := List()[toolIdx]
			call := core.ToolCall{Tool: spec.Name, Arguments: map[string]string{}}
			for _, r := range spec.Required {
				call.Arguments[r] = "x"
			}
			for i, o := range spec.Optional {
				if optMask&(1<<i) != 0 {
					call.Arguments[o] = "y"
				}
			}
			return Validate(call) == nil
		},
		gen.IntRange(0, len(Names())-1),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
