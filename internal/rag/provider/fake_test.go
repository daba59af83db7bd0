package provider

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestFake_EmbedIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f1 := NewFake(16)
	f2 := NewFake(16)

	texts := []string{"the Nile river flows north", "Paris is the capital of France"}
	v1, err := f1.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, err := f2.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if !reflect.DeepEqual(v1, v2) {
		t.Fatal("expected identical embeddings from two independently constructed fakes given the same input")
	}
}

func TestFake_EmbedIsUnitLengthNormalized(t *testing.T) {
	ctx := context.Background()
	f := NewFake(8)
	vecs, err := f.Embed(ctx, []string{"some reasonably long input text to hash into grams"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var sumSq float64
	for _, x := range vecs[0] {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 0.99 || sumSq > 1.01 {
		t.Fatalf("expected unit-length embedding, got squared norm %f", sumSq)
	}
}

func TestFake_ChatSynthesizeCitesOverlappingChunks(t *testing.T) {
	ctx := context.Background()
	f := NewFake(8)
	messages := []ChatMessage{
		{Role: "system", Content: "TASK:" + TaskSynthesize},
		{Role: "user", Content: "QUESTION: Where does the Nile flow?\n\n[CHUNK c1]: The Nile flows north through Egypt.\n[CHUNK c2]: Bananas grow in tropical climates.\n"},
	}
	res, err := f.Chat(ctx, messages, ChatOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected non-empty chat response")
	}
	if !strings.Contains(res.Text, `"citations":["c1"]`) {
		t.Fatalf("expected only the overlapping chunk c1 to be cited, got %s", res.Text)
	}
}

func TestFake_ChatIsDeterministicAcrossCalls(t *testing.T) {
	ctx := context.Background()
	f := NewFake(8)
	messages := []ChatMessage{
		{Role: "system", Content: "TASK:" + TaskSynthesize},
		{Role: "user", Content: "QUESTION: Where does the Nile flow?\n\n[CHUNK c1]: The Nile flows north through Egypt.\n"},
	}
	r1, err := f.Chat(ctx, messages, ChatOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	r2, err := f.Chat(ctx, messages, ChatOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if r1.Text != r2.Text {
		t.Fatalf("expected deterministic chat output, got %q vs %q", r1.Text, r2.Text)
	}
}

func TestFake_DimensionAndNameReportConfiguredValues(t *testing.T) {
	f := NewFake(32)
	if f.Dimension() != 32 {
		t.Fatalf("expected dimension 32, got %d", f.Dimension())
	}
	if f.Name() != "fake" {
		t.Fatalf("expected name 'fake', got %q", f.Name())
	}
}
