package shard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/tally/internal/storage/types"
)

func TestName(t *testing.T) {
	tests := []struct {
		ts   int64
		want string
	}{
		{0, "metrics_0000000000000.json"},
		{1700000000000, "metrics_1700000000000.json"},
		{42, "metrics_0000000000042.json"},
	}

	for _, tt := range tests {
		if got := Name(tt.ts); got != tt.want {
			t.Errorf("Name(%d) = %q, want %q", tt.ts, got, tt.want)
		}

		ts, ok := ParseName(tt.want)
		if !ok || ts != tt.ts {
			t.Errorf("ParseName(%q) = %d, %v", tt.want, ts, ok)
		}
	}

	// Lexical order matches chronological order
	if !(Name(999) < Name(1000)) {
		t.Error("names must sort chronologically")
	}
}

func TestParseName_Rejects(t *testing.T) {
	for _, name := range []string{
		"metrics_.json",
		"metrics_abc.json",
		"metrics_1700000000000.json.tmp",
		"other_1700000000000.json",
		"metrics_1700000000000.txt",
		"metrics_-1.json",
	} {
		if _, ok := ParseName(name); ok {
			t.Errorf("ParseName(%q) should fail", name)
		}
	}
}

func testShard(ts int64) *types.Shard {
	return &types.Shard{
		Timestamp: ts,
		Metrics: map[string][]types.Sample{
			"cpu": {
				{MetricName: "cpu", Value: 1, Dimensions: map[string]string{"region": "east"}, Timestamp: ts - 2},
				{MetricName: "cpu", Value: 2, Dimensions: nil, Timestamp: ts - 1},
			},
			"empty": {},
		},
	}
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()

	path, err := Write(dir, testShard(1700000000000))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "metrics_1700000000000.json" {
		t.Errorf("unexpected path %s", path)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d", got.Timestamp)
	}
	if _, ok := got.Metrics["empty"]; ok {
		t.Error("metrics with no samples must not be written")
	}

	cpu := got.Metrics["cpu"]
	if len(cpu) != 2 {
		t.Fatalf("expected 2 cpu samples, got %d", len(cpu))
	}
	if cpu[0].MetricName != "cpu" || cpu[0].Value != 1 || cpu[0].Dimensions["region"] != "east" {
		t.Errorf("unexpected first sample %+v", cpu[0])
	}
	if cpu[1].Dimensions == nil || len(cpu[1].Dimensions) != 0 {
		t.Errorf("expected empty dimension map, got %v", cpu[1].Dimensions)
	}
}

func TestWrite_OnDiskFormat(t *testing.T) {
	dir := t.TempDir()

	path, err := Write(dir, testShard(1000))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)

	for _, want := range []string{`"timestamp":1000`, `"metrics":{"cpu":[`, `"value":1`, `"dimensions":{}`} {
		if !strings.Contains(text, want) {
			t.Errorf("shard JSON missing %s: %s", want, text)
		}
	}
	if strings.Contains(text, `"name"`) {
		t.Error("entries should not repeat the metric name")
	}
}

func TestWrite_NoOverwrite(t *testing.T) {
	dir := t.TempDir()

	if _, err := Write(dir, testShard(5)); err != nil {
		t.Fatal(err)
	}
	if _, err := Write(dir, testShard(5)); err == nil {
		t.Error("expected error writing duplicate shard")
	}
}

func TestWrite_MissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")

	if _, err := Write(dir, testShard(5)); err == nil {
		t.Error("expected error writing into missing directory")
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode(strings.NewReader("{not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()

	for _, ts := range []int64{3000, 1000, 2000} {
		if _, err := Write(dir, testShard(ts)); err != nil {
			t.Fatal(err)
		}
	}

	// Noise that must be ignored
	os.WriteFile(filepath.Join(dir, Name(4000)+".tmp"), []byte("{}"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "metrics_0000000005000.json"), 0755)

	infos, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(infos) != 3 {
		t.Fatalf("expected 3 shards, got %d", len(infos))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if infos[i].Timestamp != want {
			t.Errorf("shard %d: expected ts %d, got %d", i, want, infos[i].Timestamp)
		}
		if infos[i].Size <= 0 {
			t.Errorf("shard %d: expected size", i)
		}
	}

	kept := FilterRange(infos, 2000)
	if len(kept) != 2 || kept[0].Timestamp != 2000 {
		t.Errorf("FilterRange kept %v", kept)
	}
	if len(FilterRange(infos, 0)) != 3 {
		t.Error("zero start must keep all shards")
	}
}

func TestList_MissingDir(t *testing.T) {
	infos, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no shards, got %d", len(infos))
	}
}
