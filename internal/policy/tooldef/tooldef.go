// Package tooldef defines the fixed tool surface the core understands:
// the known tool names, legacy camelCase alias normalisation, and a
// jsonschema-reflected parameter shape per tool, printed by
// `policyctl describe-tools`. The Interceptor does not use this package.
package tooldef

import (
	"github.com/invopop/jsonschema"
)

// Name is one of the fixed tool names the core understands.
type Name string

const (
	ReadFile          Name = "read_file"
	ListFiles         Name = "list_files"
	SearchFiles       Name = "search_files"
	ExecuteCommand    Name = "execute_command"
	ApplyDiff         Name = "apply_diff"
	WriteToFile       Name = "write_to_file"
	SearchAndReplace  Name = "search_and_replace"
	SearchReplace     Name = "search_replace"
	UseMCPTool        Name = "use_mcp_tool"
	AccessMCPResource Name = "access_mcp_resource"
	AttemptCompletion Name = "attempt_completion"
)

// Known lists every tool name the core recognises.
var Known = []Name{
	ReadFile, ListFiles, SearchFiles, ExecuteCommand, ApplyDiff, WriteToFile,
	SearchAndReplace, SearchReplace, UseMCPTool, AccessMCPResource, AttemptCompletion,
}

// legacyAliases maps legacy camelCase parameter keys to their canonical
// snake_case form.
var legacyAliases = map[string]string{
	"readFile":         "read_file",
	"listFiles":        "list_files",
	"searchFiles":      "search_files",
	"executeCommand":   "execute_command",
	"applyDiff":        "apply_diff",
	"writeToFile":      "write_to_file",
	"searchAndReplace": "search_and_replace",
	"searchReplace":    "search_replace",
	"useMcpTool":       "use_mcp_tool",
	"accessMcpResource": "access_mcp_resource",
	"attemptCompletion": "attempt_completion",
	"filePath":         "file_path",
}

// NormalizeName rewrites a legacy camelCase tool or key name to its
// canonical snake_case form, leaving already-canonical names unchanged.
func NormalizeName(name string) string {
	if canonical, ok := legacyAliases[name]; ok {
		return canonical
	}
	return name
}

// NormalizeParams returns a new map holding params with any legacy
// camelCase keys rewritten to their canonical form; params is not modified.
func NormalizeParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[NormalizeName(k)] = v
	}
	return out
}

// IsKnown reports whether name is one of the fixed tool names.
func IsKnown(name string) bool {
	for _, n := range Known {
		if string(n) == name {
			return true
		}
	}
	return false
}

// Parameter shapes, one struct per tool, tagged with
// `jsonschema:"required,description=..."`. These are reflected into JSON
// Schema on demand; they do not gate dispatch themselves (the core accepts
// an opaque string-keyed map at runtime, and the Interceptor does not check
// calls against them) but give `policyctl describe-tools` one source of
// truth for each tool's shape.

type ReadFileParams struct {
	Path string `json:"path" jsonschema:"required,description=Path of the file to read"`
}

type ListFilesParams struct {
	Path      string `json:"path" jsonschema:"required,description=Directory to list"`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"description=List subdirectories recursively"`
}

type SearchFilesParams struct {
	Path  string `json:"path" jsonschema:"required,description=Directory to search"`
	Regex string `json:"regex" jsonschema:"required,description=Regular expression to search for"`
}

type ExecuteCommandParams struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to execute"`
	Cwd     string `json:"cwd,omitempty" jsonschema:"description=Working directory for the command"`
}

type ApplyDiffParams struct {
	Path string `json:"path" jsonschema:"required,description=Path of the file to patch"`
	Diff string `json:"diff" jsonschema:"required,description=Unified diff to apply"`
}

type WriteToFileParams struct {
	Path    string `json:"path" jsonschema:"required,description=Path of the file to write"`
	Content string `json:"content" jsonschema:"required,description=Full file content to write"`
}

type SearchAndReplaceParams struct {
	Path    string `json:"path" jsonschema:"required,description=Path of the file to edit"`
	Pattern string `json:"pattern" jsonschema:"required,description=Text or regex to find"`
	Replace string `json:"replace" jsonschema:"required,description=Replacement text"`
}

type UseMCPToolParams struct {
	ServerName string `json:"server_name" jsonschema:"required,description=Name of the MCP server"`
	ToolName   string `json:"tool_name" jsonschema:"required,description=Name of the tool exposed by the server"`
	Args       string `json:"args,omitempty" jsonschema:"description=Opaque XML arguments block"`
}

type AccessMCPResourceParams struct {
	ServerName string `json:"server_name" jsonschema:"required,description=Name of the MCP server"`
	URI        string `json:"uri" jsonschema:"required,description=Resource URI to access"`
}

type AttemptCompletionParams struct {
	Result string `json:"result" jsonschema:"required,description=Summary of the completed work"`
}

var paramShapes = map[Name]any{
	ReadFile:          ReadFileParams{},
	ListFiles:         ListFilesParams{},
	SearchFiles:       SearchFilesParams{},
	ExecuteCommand:    ExecuteCommandParams{},
	ApplyDiff:         ApplyDiffParams{},
	WriteToFile:       WriteToFileParams{},
	SearchAndReplace:  SearchAndReplaceParams{},
	SearchReplace:     SearchAndReplaceParams{},
	UseMCPTool:        UseMCPToolParams{},
	AccessMCPResource: AccessMCPResourceParams{},
	AttemptCompletion: AttemptCompletionParams{},
}

// Schema reflects the JSON Schema for name's parameter shape. Returns nil
// for an unknown tool.
func Schema(name Name) *jsonschema.Schema {
	shape, ok := paramShapes[name]
	if !ok {
		return nil
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(shape)
}
