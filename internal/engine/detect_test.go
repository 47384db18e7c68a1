package engine

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DetectConfig
		want    string
		wantErr bool
	}{
		{"default is ollama", DetectConfig{OllamaBaseURL: "http://localhost:11434"}, "ollama", false},
		{"explicit ollama", DetectConfig{Provider: ProviderOllama, OllamaBaseURL: "http://localhost:11434"}, "ollama", false},
		{"openai with key", DetectConfig{Provider: ProviderOpenAI, OpenAIAPIKey: "sk-test"}, "openai", false},
		{"openai compatible server", DetectConfig{Provider: ProviderOpenAI, OpenAIBaseURL: "http://localhost:8080/v1"}, "openai", false},
		{"openai without credentials", DetectConfig{Provider: ProviderOpenAI}, "", true},
		{"unknown provider", DetectConfig{Provider: "bedrock"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Detect(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Detect: expected error, got %T", e)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			switch tt.want {
			case "ollama":
				if _, ok := e.(*OllamaEngine); !ok {
					t.Errorf("Detect returned %T, want *OllamaEngine", e)
				}
			case "openai":
				if _, ok := e.(*OpenAIEngine); !ok {
					t.Errorf("Detect returned %T, want *OpenAIEngine", e)
				}
			}
		})
	}
}
