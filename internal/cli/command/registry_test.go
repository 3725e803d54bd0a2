package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"solveq/internal/testutil"
)

func TestBuildUploadWithInputFile(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.json")
	if err := os.WriteFile(inputPath, []byte(`{"weights":[3,4,5]}`), 0o600); err != nil {
		t.Fatalf("write temp input failed: %v", err)
	}

	cmd := Registry()["problem upload"]
	params := Params{}
	params.Set("id", "4")
	params.Set("input_file", inputPath)
	params.Set("input_data", "_file_")
	params.Set("metadata", `{"timeLimit":60}`)

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	testutil.AssertEqual(t, req.Method, "PUT")
	testutil.AssertEqual(t, req.Path, "/api/v1/problems/4/input")

	var payload map[string]string
	testutil.MustUnmarshalJSON(t, req.Body, &payload)
	testutil.AssertEqual(t, payload["inputData"], `{"weights":[3,4,5]}`)
	testutil.AssertEqual(t, payload["metadata"], `{"timeLimit":60}`)
}

func TestBuildUploadRejectsInvalidJSON(t *testing.T) {
	params := Params{}
	params.Set("id", "4")
	params.Set("input_data", "{not json")
	if _, err := BuildRequest(Registry()["problem upload"], params); err == nil {
		t.Fatalf("expected invalid input_data to fail")
	}
}

func TestBuildCreateProblem(t *testing.T) {
	params := Params{}
	params.Set("name", "Knapsack")
	params.Set("model", "3")

	req, err := BuildRequest(Registry()["problem create"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	var payload map[string]interface{}
	testutil.MustUnmarshalJSON(t, req.Body, &payload)
	testutil.AssertEqual(t, payload["name"], "Knapsack")
	testutil.AssertEqual(t, payload["modelId"], float64(3))
	testutil.AssertEqual(t, req.Service, "problem")
}

func TestBuildPathParams(t *testing.T) {
	cases := []struct {
		key    string
		params map[string]string
		path   string
	}{
		{"problem result", map[string]string{"id": "99"}, "/api/v1/problems/99/result"},
		{"problem unlock", map[string]string{"problem_id": "12"}, "/api/v1/problems/12/result/unlock"},
		{"credit balance", map[string]string{"user_id": "7"}, "/api/v1/credits/7"},
		{"credit transactions", map[string]string{"id": "7", "limit": "5"}, "/api/v1/credits/7/transactions?limit=5"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			params := Params{}
			for k, v := range tc.params {
				params.Set(k, v)
			}
			req, err := BuildRequest(Registry()[tc.key], params)
			if err != nil {
				t.Fatalf("build request failed: %v", err)
			}
			testutil.AssertEqual(t, req.Path, tc.path)
			testutil.AssertEqual(t, len(req.Body), 0)
		})
	}
}

func TestBuildAddCredits(t *testing.T) {
	params := Params{}
	params.Set("user_id", "7")
	params.Set("amount", "-20")
	req, err := BuildRequest(Registry()["credit add"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	var payload map[string]json.Number
	testutil.MustUnmarshalJSON(t, req.Body, &payload)
	testutil.AssertEqual(t, payload["amount"].String(), "-20")

	params.Set("amount", "lots")
	if _, err := BuildRequest(Registry()["credit add"], params); err == nil {
		t.Fatalf("expected non-numeric amount to fail")
	}
}

func TestMissingPathParam(t *testing.T) {
	if _, err := BuildRequest(Registry()["problem run"], Params{}); err == nil {
		t.Fatalf("expected missing id to fail")
	}
}
