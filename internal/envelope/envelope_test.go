package envelope

import "testing"

func TestBuilderData(t *testing.T) {
	resp := New().Data(map[string]int{"a": 1}).Build()
	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", resp.SchemaVersion, CurrentSchemaVersion)
	}
	data, ok := resp.Data.(map[string]int)
	if !ok || data["a"] != 1 {
		t.Errorf("Data = %v, want map[a:1]", resp.Data)
	}
}

func TestBuilderWithTruncationNoOpWhenNotTruncated(t *testing.T) {
	resp := New().Data("x").WithTruncation(false, 10, 10, "").Build()
	if resp.Meta != nil {
		t.Errorf("Meta = %+v, want nil when not truncated", resp.Meta)
	}
}

func TestBuilderWithTruncation(t *testing.T) {
	resp := New().Data("x").WithTruncation(true, 5, 20, "token_budget").Build()
	if resp.Meta == nil || resp.Meta.Truncation == nil {
		t.Fatal("expected truncation metadata to be populated")
	}
	tr := resp.Meta.Truncation
	if !tr.IsTruncated || tr.Shown != 5 || tr.Total != 20 || tr.Reason != "token_budget" {
		t.Errorf("Truncation = %+v, want {true 5 20 token_budget}", tr)
	}
}

func TestBuilderWarning(t *testing.T) {
	resp := New().Warning("index is stale").WarningWithCode("stale_index", "rebuild recommended").Build()
	if len(resp.Warnings) != 2 {
		t.Fatalf("len(Warnings) = %d, want 2", len(resp.Warnings))
	}
	if resp.Warnings[0].Message != "index is stale" {
		t.Errorf("Warnings[0].Message = %q", resp.Warnings[0].Message)
	}
	if resp.Warnings[1].Code != "stale_index" || resp.Warnings[1].Message != "rebuild recommended" {
		t.Errorf("Warnings[1] = %+v", resp.Warnings[1])
	}
}

func TestBuilderSuggestCall(t *testing.T) {
	resp := New().SuggestCall("get_dependents", map[string]interface{}{"symbol": "Foo"}, "see callers").Build()
	if len(resp.SuggestedNextCalls) != 1 {
		t.Fatalf("len(SuggestedNextCalls) = %d, want 1", len(resp.SuggestedNextCalls))
	}
	call := resp.SuggestedNextCalls[0]
	if call.Tool != "get_dependents" || call.Reason != "see callers" {
		t.Errorf("SuggestedNextCalls[0] = %+v", call)
	}
	if call.Params["symbol"] != "Foo" {
		t.Errorf("call params = %+v", call.Params)
	}
}

func TestBuilderError(t *testing.T) {
	resp := New().Error(nil).Build()
	if resp.Error != nil {
		t.Errorf("Error = %v, want nil", resp.Error)
	}

	resp = New().Error(errBoom).Build()
	if resp.Error == nil || *resp.Error != "boom" {
		t.Errorf("Error = %v, want \"boom\"", resp.Error)
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}

func TestOperational(t *testing.T) {
	resp := Operational(map[string]bool{"ok": true})
	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", resp.SchemaVersion, CurrentSchemaVersion)
	}
	if resp.Meta != nil {
		t.Errorf("Meta = %+v, want nil for operational response", resp.Meta)
	}
}
