package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOperationDecodesScriptLine(t *testing.T) {
	line := `{"op":"withdraw_all","caller":"0x00000000000000000000000000000000000000a1","pool_id":2}`

	var op Operation
	if err := json.Unmarshal([]byte(line), &op); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if op.Op != OpWithdrawAll || op.PoolID != 2 || op.Amount != "" {
		t.Fatalf("unexpected operation: %+v", op)
	}
}

func TestOperationResultOmitsEmptyAmounts(t *testing.T) {
	b, err := json.Marshal(OperationResult{Line: 4, Op: OpCreatePool, PoolID: 1, Applied: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "amount") || strings.Contains(out, "payout") {
		t.Fatalf("empty amounts should be omitted: %s", out)
	}
	if !strings.Contains(out, `"pool_id":1`) {
		t.Fatalf("pool id missing: %s", out)
	}
}

func TestSnapshotOmitsTokenStateWhenAbsent(t *testing.T) {
	b, err := json.Marshal(Snapshot{Custody: "0xc0", EventSeq: 9})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(b), `"token"`) {
		t.Fatalf("token state should be omitted: %s", b)
	}
}
