package llm

import (
	"testing"
)

func TestGeminiGenerator_ConvRequest(t *testing.T) {
	g := &GeminiGenerator{
		Model:  "gemini-2.0-flash",
		Params: &Params{MaxTokens: 4096, TopK: 40},
	}

	t.Run("roles and system", func(t *testing.T) {
		cfg, contents, err := g.convRequest(&Request{
			System: "be brief",
			Messages: []*Message{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleModel, Content: "hello"},
				{Role: RoleUser, Content: "bye"},
			},
		})
		if err != nil {
			t.Fatalf("conv: %v", err)
		}
		if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be brief" {
			t.Error("system instruction missing")
		}
		if cfg.MaxOutputTokens != 4096 {
			t.Errorf("max tokens=%d", cfg.MaxOutputTokens)
		}
		if cfg.TopK == nil || *cfg.TopK != 40 {
			t.Error("top_k missing")
		}
		roles := []string{}
		for _, c := range contents {
			roles = append(roles, c.Role)
		}
		if len(roles) != 3 || roles[0] != "user" || roles[1] != "model" || roles[2] != "user" {
			t.Errorf("roles=%v", roles)
		}
	})

	t.Run("merges consecutive same-role messages", func(t *testing.T) {
		_, contents, err := g.convRequest(&Request{
			Messages: []*Message{
				{Role: RoleUser, Content: "one"},
				{Role: RoleUser, Content: "two"},
				{Role: RoleModel, Content: "three"},
			},
		})
		if err != nil {
			t.Fatalf("conv: %v", err)
		}
		if len(contents) != 2 {
			t.Fatalf("len=%d, want 2", len(contents))
		}
		if len(contents[0].Parts) != 2 {
			t.Errorf("merged parts=%d, want 2", len(contents[0].Parts))
		}
		if contents[0].Parts[1].Text != "two" {
			t.Errorf("second part=%q", contents[0].Parts[1].Text)
		}
	})

	t.Run("empty content skipped", func(t *testing.T) {
		_, contents, err := g.convRequest(&Request{
			Messages: []*Message{
				{Role: RoleUser, Content: ""},
				{Role: RoleUser, Content: "kept"},
			},
		})
		if err != nil {
			t.Fatalf("conv: %v", err)
		}
		if len(contents) != 1 {
			t.Errorf("len=%d, want 1", len(contents))
		}
	})

	t.Run("no contents", func(t *testing.T) {
		_, _, err := g.convRequest(&Request{System: "only system"})
		if err == nil {
			t.Error("empty message list accepted")
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		_, _, err := g.convRequest(&Request{Messages: []*Message{{Role: "tool", Content: "x"}}})
		if err == nil {
			t.Error("unknown role accepted")
		}
	})
}
