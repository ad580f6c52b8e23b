package tooldef

import "testing"

func TestNormalizeNameAliases(t *testing.T) {
	cases := map[string]string{
		"readFile":       "read_file",
		"applyDiff":      "apply_diff",
		"filePath":       "file_path",
		"already_snake":  "already_snake",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeParamsRewritesKeys(t *testing.T) {
	in := map[string]string{"filePath": "a.py", "command": "ls"}
	out := NormalizeParams(in)
	if out["file_path"] != "a.py" {
		t.Errorf("expected file_path key after normalisation, got %v", out)
	}
	if out["command"] != "ls" {
		t.Errorf("expected command key to pass through unchanged, got %v", out)
	}
}

func TestIsKnown(t *testing.T) {
	if !IsKnown("execute_command") {
		t.Error("execute_command should be known")
	}
	if IsKnown("delete_repository") {
		t.Error("delete_repository should not be known")
	}
}

func TestSchemaReflectsRequiredFields(t *testing.T) {
	schema := Schema(ApplyDiff)
	if schema == nil {
		t.Fatal("expected a schema for apply_diff")
	}
	if len(schema.Required) == 0 {
		t.Error("expected apply_diff schema to list required fields")
	}
}

func TestSchemaUnknownToolReturnsNil(t *testing.T) {
	if Schema(Name("not_a_tool")) != nil {
		t.Error("expected nil schema for an unknown tool")
	}
}
