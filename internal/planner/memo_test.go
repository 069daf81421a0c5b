package planner

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMemoRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memo.json")
	memo, err := OpenMemo(path)
	if err != nil {
		t.Fatalf("OpenMemo() error = %v", err)
	}
	defer memo.Close()

	if _, ok, err := memo.Load(); err != nil || ok {
		t.Fatalf("Load() on missing file = %v, %v", ok, err)
	}

	state := State{
		Seen:  []string{"foo"},
		Queue: []Entry{{FMRI: "pkg:/bar@1.0", Optional: true}},
	}
	if err := memo.Save(state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read memo: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode memo: %v", err)
	}
	for _, key := range []string{"seen", "q", "fails"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("memo %s missing key %q", data, key)
		}
	}
	if string(raw["fails"]) != "[]" {
		t.Fatalf("fails = %s, want []", raw["fails"])
	}

	loaded, ok, err := memo.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	want := State{Seen: []string{"foo"}, Queue: state.Queue, Fails: []Entry{}}
	if !reflect.DeepEqual(loaded, want) {
		t.Fatalf("Load() = %+v, want %+v", loaded, want)
	}
}

func TestMemoLoadsExternalFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memo.json")
	content := `{"seen":["a"],"q":[{"fmri":"pkg:/b","optional":false}],"fails":[{"fmri":"c","optional":true}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write memo: %v", err)
	}

	memo, err := OpenMemo(path)
	if err != nil {
		t.Fatalf("OpenMemo() error = %v", err)
	}
	defer memo.Close()

	state, ok, err := memo.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	want := State{
		Seen:  []string{"a"},
		Queue: []Entry{{FMRI: "pkg:/b"}},
		Fails: []Entry{{FMRI: "c", Optional: true}},
	}
	if !reflect.DeepEqual(state, want) {
		t.Fatalf("Load() = %+v, want %+v", state, want)
	}
}

func TestMemoIsExclusive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memo.json")
	first, err := OpenMemo(path)
	if err != nil {
		t.Fatalf("OpenMemo() error = %v", err)
	}

	if _, err := OpenMemo(path); !errors.Is(err, ErrMemoLocked) {
		t.Fatalf("second OpenMemo() error = %v, want ErrMemoLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	second, err := OpenMemo(path)
	if err != nil {
		t.Fatalf("OpenMemo() after Close error = %v", err)
	}
	second.Close()
}
