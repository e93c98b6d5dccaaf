// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package scheduling

import (
	"errors"
	"testing"
	"time"
)

func TestRecordProductionLog(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	seedOrder(t, env, "A", "PO-1", 100, 1)

	end := ist(2025, time.June, 2, 12, 0)
	tests := []struct {
		name    string
		log     ProductionLog
		wantErr error
	}{
		{
			name: "valid",
			log: ProductionLog{
				PartNumber: "A", ProductionOrder: "PO-1", OperationNumber: 10,
				StartTime: ist(2025, time.June, 2, 10, 0), EndTime: &end,
				QuantityCompleted: 60,
			},
		},
		{
			name: "negative quantity",
			log: ProductionLog{
				PartNumber: "A", ProductionOrder: "PO-1", OperationNumber: 10,
				StartTime: ist(2025, time.June, 2, 10, 0), EndTime: &end,
				QuantityCompleted: -1,
			},
			wantErr: ErrInput,
		},
		{
			name: "ends before it starts",
			log: ProductionLog{
				PartNumber: "A", ProductionOrder: "PO-1", OperationNumber: 10,
				StartTime: ist(2025, time.June, 2, 13, 0), EndTime: &end,
				QuantityCompleted: 10,
			},
			wantErr: ErrInput,
		},
		{
			name: "unknown order",
			log: ProductionLog{
				PartNumber: "A", ProductionOrder: "PO-unknown", OperationNumber: 10,
				StartTime: ist(2025, time.June, 2, 10, 0), EndTime: &end,
				QuantityCompleted: 10,
			},
			wantErr: ErrInput,
		},
		{
			// 60 already logged above; another 50 would exceed 100.
			name: "exceeds required quantity",
			log: ProductionLog{
				PartNumber: "A", ProductionOrder: "PO-1", OperationNumber: 10,
				StartTime: ist(2025, time.June, 2, 12, 0), EndTime: &end,
				QuantityCompleted: 50,
			},
			wantErr: ErrState,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RecordProductionLog(*env.DB, &tt.log)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRecordProductionLog_NothingWrittenOnFailure(t *testing.T) {
	env := setupSchedulingDB(t)
	defer env.Close()
	seedOrder(t, env, "A", "PO-1", 10, 1)

	start := ist(2025, time.June, 2, 13, 0)
	end := ist(2025, time.June, 2, 12, 0)
	err := RecordProductionLog(*env.DB, &ProductionLog{
		PartNumber: "A", ProductionOrder: "PO-1", OperationNumber: 10,
		StartTime: start, EndTime: &end, QuantityCompleted: 5,
	})
	if !errors.Is(err, ErrInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	count, err := env.DB.SelectInt("SELECT COUNT(*) FROM scheduling_production_logs")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected no rows after a failed record, got %d", count)
	}
}
