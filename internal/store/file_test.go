package store

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type record struct {
	ID    string    `json:"id"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

func TestJSONFileMissingIsEmpty(t *testing.T) {
	f := NewJSONFile[record](filepath.Join(t.TempDir(), "none.json"))
	items, err := f.Load(context.Background())
	if err != nil || items != nil {
		t.Fatalf("Load missing = %v, %v", items, err)
	}
}

func TestJSONFileRoundTripKeepsOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "lots.json")
	f := NewJSONFile[record](path)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := []record{{"c", 3, at}, {"a", 1, at.Add(time.Hour)}, {"b", 2, at.Add(2 * time.Hour)}}
	if err := f.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}

	out, err := NewJSONFile[record](path).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].Value != in[i].Value || !out[i].At.Equal(in[i].At) {
			t.Fatalf("item %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestJSONFileSaveEmptyOverwrites(t *testing.T) {
	ctx := context.Background()
	f := NewJSONFile[record](filepath.Join(t.TempDir(), "x.json"))
	if err := f.Save(ctx, []record{{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Save(ctx, nil); err != nil {
		t.Fatal(err)
	}
	out, err := f.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("after empty save = %v", out)
	}
}

func TestJSONFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJSONFile[record](path).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMemoryCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[record]()
	in := []record{{ID: "a"}, {ID: "b"}}
	_ = m.Save(ctx, in)
	in[0].ID = "mutated"

	out, _ := m.Load(ctx)
	if !reflect.DeepEqual(out, []record{{ID: "a"}, {ID: "b"}}) {
		t.Fatalf("memory store aliased input: %v", out)
	}
	out[1].ID = "mutated"
	again, _ := m.Load(ctx)
	if again[1].ID != "b" {
		t.Fatalf("memory store aliased output: %v", again)
	}
}

var (
	_ Store[record] = (*Memory[record])(nil)
	_ Store[record] = (*JSONFile[record])(nil)
	_ Store[record] = (*Postgres[record])(nil)
	_ Store[record] = (*Redis[record])(nil)
)
