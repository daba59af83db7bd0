package observability

import (
	"encoding/json"
	"testing"
)

func TestRedactJSON_ConfigDump(t *testing.T) {
	// Shaped like the resolved config the server logs in debug mode.
	in := map[string]any{
		"provider": map[string]any{
			"openai_api_key":    "sk-live-123",
			"anthropic_api_key": "sk-ant-456",
			"embed_model":       "text-embedding-3-small",
		},
		"server": map[string]any{
			"api_key": "svc-key",
			"addr":    ":8080",
		},
		"storage": map[string]any{
			"s3": map[string]any{
				"secret_key": "minio-secret",
				"bucket":     "sources",
			},
		},
		"extract": []any{
			map[string]any{"token": "tok"},
			"docs.example.com",
		},
	}
	b, _ := json.Marshal(in)

	var v map[string]any
	if err := json.Unmarshal(RedactJSON(b), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	provider := v["provider"].(map[string]any)
	if provider["openai_api_key"] != "[REDACTED]" || provider["anthropic_api_key"] != "[REDACTED]" {
		t.Errorf("provider keys not redacted: %v", provider)
	}
	if provider["embed_model"] != "text-embedding-3-small" {
		t.Errorf("non-sensitive provider field mutated: %v", provider["embed_model"])
	}
	server := v["server"].(map[string]any)
	if server["api_key"] != "[REDACTED]" {
		t.Errorf("server api_key not redacted: %v", server["api_key"])
	}
	if server["addr"] != ":8080" {
		t.Errorf("addr mutated: %v", server["addr"])
	}
	s3cfg := v["storage"].(map[string]any)["s3"].(map[string]any)
	if s3cfg["secret_key"] != "[REDACTED]" {
		t.Errorf("s3 secret not redacted: %v", s3cfg["secret_key"])
	}
	if s3cfg["bucket"] != "sources" {
		t.Errorf("bucket mutated: %v", s3cfg["bucket"])
	}
	extract := v["extract"].([]any)
	if extract[0].(map[string]any)["token"] != "[REDACTED]" {
		t.Errorf("array-nested token not redacted: %v", extract[0])
	}
	if extract[1] != "docs.example.com" {
		t.Errorf("plain array element mutated: %v", extract[1])
	}
}

func TestRedactJSON_EmptyAndInvalid(t *testing.T) {
	if got := RedactJSON(nil); got != nil {
		t.Errorf("expected nil raw for empty input, got %v", got)
	}

	// Invalid JSON passes through untouched rather than erroring.
	raw := json.RawMessage([]byte("notjson"))
	if res := RedactJSON(raw); string(res) != "notjson" {
		t.Errorf("expected original bytes for invalid json, got %s", res)
	}
}
