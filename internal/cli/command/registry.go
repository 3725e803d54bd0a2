package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// fileMarker tells BuildRequest to read a value from its companion file field.
const fileMarker = "_file_"

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	problemID := Field{Name: "id", Aliases: []string{"problem_id"}, Prompt: "problem_id", Type: FieldInt64, Required: true}
	userID := Field{Name: "user_id", Aliases: []string{"id"}, Prompt: "user_id", Type: FieldInt64, Required: true}

	commands := []Command{
		{
			Service:      "problem",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/problems",
			Fields: []Field{
				{Name: "name", Prompt: "name", Type: FieldString, Required: true},
				{Name: "model_id", Aliases: []string{"model"}, Prompt: "model_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "problem",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/problems/:id",
			Fields:       []Field{problemID},
		},
		{
			Service:      "problem",
			Action:       "delete",
			Method:       "DELETE",
			PathTemplate: "/api/v1/problems/:id",
			Fields:       []Field{problemID},
		},
		{
			Service:      "problem",
			Action:       "upload",
			Method:       "PUT",
			PathTemplate: "/api/v1/problems/:id/input",
			Fields: []Field{
				problemID,
				{Name: "input_data", Aliases: []string{"input"}, Prompt: "input_data (JSON)", Type: FieldJSON, Required: true},
				{Name: "metadata", Prompt: "metadata (JSON)", Type: FieldJSON, Required: false},
				{Name: "input_file", Prompt: "input_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "problem",
			Action:       "clear-input",
			Method:       "DELETE",
			PathTemplate: "/api/v1/problems/:id/input",
			Fields:       []Field{problemID},
		},
		{
			Service:      "problem",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:id/run",
			Fields:       []Field{problemID},
		},
		{
			Service:      "problem",
			Action:       "result",
			Method:       "GET",
			PathTemplate: "/api/v1/problems/:id/result",
			Fields:       []Field{problemID},
		},
		{
			Service:      "problem",
			Action:       "unlock",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:id/result/unlock",
			Fields:       []Field{problemID},
		},
		{
			Service:      "credit",
			Action:       "balance",
			Method:       "GET",
			PathTemplate: "/api/v1/credits/:user_id",
			Fields:       []Field{userID},
		},
		{
			Service:      "credit",
			Action:       "add",
			Method:       "POST",
			PathTemplate: "/api/v1/credits/:user_id",
			Fields: []Field{
				userID,
				{Name: "amount", Prompt: "amount", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "credit",
			Action:       "transactions",
			Method:       "GET",
			PathTemplate: "/api/v1/credits/:user_id/transactions",
			Fields: []Field{
				userID,
				{Name: "limit", Prompt: "limit", Type: FieldInt64, Required: false},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// Names lists the registry keys in order, for help output and completion.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for key := range commands {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if err := validateFields(cmd.Fields, params); err != nil {
		return RequestSpec{}, err
	}
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if cmd.Service == "credit" && cmd.Action == "transactions" && params.Get("limit") != "" {
		path += "?limit=" + url.QueryEscape(params.Get("limit"))
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Service: cmd.Service,
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func validateFields(fields []Field, params Params) error {
	for _, field := range fields {
		if field.Type != FieldInt64 || params.Get(field.Name) == "" {
			continue
		}
		if _, err := ParseInt64(params.Get(field.Name)); err != nil {
			return fmt.Errorf("invalid %s: %w", field.Name, err)
		}
	}
	return nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"user_id", "id"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "problem":
		switch cmd.Action {
		case "create":
			modelID, _ := ParseInt64(params.Get("model_id"))
			return map[string]interface{}{
				"name":    params.Get("name"),
				"modelId": modelID,
			}, nil
		case "upload":
			return buildUploadPayload(params)
		}
	case "credit":
		if cmd.Action == "add" {
			amount, _ := ParseInt64(params.Get("amount"))
			return map[string]interface{}{"amount": amount}, nil
		}
	}
	return nil, nil
}

// buildUploadPayload sends input and metadata as JSON strings, the way the
// solvers receive them.
func buildUploadPayload(params Params) (interface{}, error) {
	input, err := parseJSONOrFile(params, "input_data", "input_file")
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{"inputData": string(input)}
	if raw := params.Get("metadata"); raw != "" {
		metadata, err := ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
		payload["metadata"] = string(metadata)
	}
	return payload, nil
}

func parseJSONOrFile(params Params, key, fileKey string) (json.RawMessage, error) {
	value := params.Get(key)
	if (value == "" || value == fileMarker) && params.Get(fileKey) != "" {
		data, err := ReadFile(params.Get(fileKey))
		if err != nil {
			return nil, err
		}
		value = data
	}
	if value == "" || value == fileMarker {
		return nil, fmt.Errorf("%s is required", key)
	}
	parsed, err := ParseJSON(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
