package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stakeledger/internal/app"
	"stakeledger/internal/config"
	"stakeledger/internal/model"
)

const (
	admin = "0x00000000000000000000000000000000000000ad"
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b2"
)

func openApp(t *testing.T, dir string) *app.App {
	t.Helper()
	a, err := app.Open(context.Background(), config.Config{
		Store:     config.StoreFile,
		StateFile: filepath.Join(dir, "ledger.json"),
		Journal:   filepath.Join(dir, "events.jsonl"),
		Admins:    []string{admin},
		Custody:   "0x00000000000000000000000000000000000000c0",
		Token:     config.TokenMemory,
		Decimals:  18,
	}, nil)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func runConfig(dir, in string) RunConfig {
	return RunConfig{
		In:                in,
		Results:           filepath.Join(dir, "results.jsonl"),
		Errors:            filepath.Join(dir, "errors.jsonl"),
		CheckpointPath:    filepath.Join(dir, "checkpoint.json"),
		CheckpointEnabled: true,
		Decimals:          18,
	}
}

func writeOps(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write ops: %v", err)
	}
}

func readLines[T any](t *testing.T, path string) []T {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		out = append(out, v)
	}
	return out
}

func TestRunLateDepositorScenario(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "ops.jsonl")
	writeOps(t, in,
		`# fund every participant`,
		`{"op":"fund","caller":"`+admin+`","amount":"1000"}`,
		`{"op":"fund","caller":"`+alice+`","amount":"1000"}`,
		`{"op":"fund","caller":"`+bob+`","amount":"1000"}`,
		`{"op":"create_pool","caller":"`+admin+`"}`,
		`{"op":"deposit","caller":"`+alice+`","pool_id":0,"amount":"100"}`,
		`{"op":"add_rewards","caller":"`+admin+`","pool_id":0,"amount":"200"}`,
		`{"op":"deposit","caller":"`+bob+`","pool_id":0,"amount":"300"}`,
		`{"op":"withdraw_all","caller":"`+alice+`","pool_id":0}`,
		`{"op":"withdraw_all","caller":"`+bob+`","pool_id":0}`,
		`{"op":"withdraw_all","caller":"`+bob+`","pool_id":0}`,
	)

	a := openApp(t, dir)
	summary, err := NewRunner(runConfig(dir, in), a, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 10 || summary.Applied != 9 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	results := readLines[model.OperationResult](t, filepath.Join(dir, "results.jsonl"))
	if len(results) != 9 {
		t.Fatalf("expected 9 results, got %d", len(results))
	}
	if results[7].Payout != "300.0" || results[8].Payout != "300.0" {
		t.Fatalf("unexpected payouts %q %q", results[7].Payout, results[8].Payout)
	}

	errs := readLines[model.OperationError](t, filepath.Join(dir, "errors.jsonl"))
	if len(errs) != 1 || errs[0].Code != "zero_amount" || errs[0].Line != 11 {
		t.Fatalf("unexpected errors %+v", errs)
	}
}

func TestRunRecordsInvalidOperations(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "ops.jsonl")
	writeOps(t, in,
		`not json`,
		`{"op":"deposit","caller":"nobody","pool_id":0,"amount":"1"}`,
		`{"op":"deposit","caller":"`+alice+`","pool_id":0,"amount":"0.0000000000000000001"}`,
		`{"op":"explode","caller":"`+alice+`","amount":"1"}`,
		`{"op":"deposit","caller":"`+alice+`","pool_id":0,"amount":"1"}`,
	)

	a := openApp(t, dir)
	summary, err := NewRunner(runConfig(dir, in), a, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 5 {
		t.Fatalf("expected 5 failures, got %+v", summary)
	}

	errs := readLines[model.OperationError](t, filepath.Join(dir, "errors.jsonl"))
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	want := "invalid_operation,invalid_operation,invalid_operation,invalid_operation,pool_not_found"
	if got := strings.Join(codes, ","); got != want {
		t.Fatalf("codes = %s, want %s", got, want)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "ops.jsonl")
	writeOps(t, in,
		`{"op":"fund","caller":"`+admin+`","amount":"10"}`,
		`{"op":"create_pool","caller":"`+admin+`"}`,
	)

	a := openApp(t, dir)
	cfg := runConfig(dir, in)
	if _, err := NewRunner(cfg, a, nil).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	writeOps(t, in,
		`{"op":"fund","caller":"`+admin+`","amount":"10"}`,
		`{"op":"create_pool","caller":"`+admin+`"}`,
		`{"op":"create_pool","caller":"`+admin+`"}`,
	)
	summary, err := NewRunner(cfg, a, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Skipped != 2 || summary.Applied != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if n := len(a.Ledger.Pools(context.Background())); n != 2 {
		t.Fatalf("expected 2 pools, got %d", n)
	}

	results := readLines[model.OperationResult](t, cfg.Results)
	if len(results) != 3 || results[2].PoolID != 1 || results[2].Line != 3 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestCheckpointDisabled(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "cp.json"), false)
	if err := store.Save("ops.jsonl", 4); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("expected no checkpoint, got ok=%v err=%v", ok, err)
	}
}
