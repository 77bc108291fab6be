package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestDebouncer_CoalesceRules(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation // nil means the events cancelled out
	}{
		{"create then modify", []Operation{OpCreate, OpModify}, []Operation{OpCreate}},
		{"create then delete", []Operation{OpCreate, OpDelete}, nil},
		{"modify then delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
		{"delete then create", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
		{"modify then modify", []Operation{OpModify, OpModify}, []Operation{OpModify}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()
			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "a.java", Operation: op})
			}
			if tt.want == nil {
				select {
				case batch := <-d.Output():
					t.Fatalf("expected no batch, got %v", batch)
				case <-time.After(100 * time.Millisecond):
				}
				return
			}
			batch := receiveBatch(t, d)
			require.Len(t, batch, len(tt.want))
			assert.Equal(t, tt.want[0], batch[0].Operation)
		})
	}
}

func TestDebouncer_BatchesMultiplePaths(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "a.java", Operation: OpCreate})
	d.Add(FileEvent{Path: "b.java", Operation: OpModify})

	batch := receiveBatch(t, d)
	assert.Len(t, batch, 2)
}

func TestDebouncer_BurstEmitsOneBatch(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "a.java", Operation: OpModify})
		time.Sleep(5 * time.Millisecond)
	}

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "a.java", Operation: OpCreate})
	d.Stop()

	_, ok := <-d.Output()
	assert.False(t, ok)
}

func TestDebouncer_AddAfterStopIgnored(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()
	assert.NotPanics(t, func() {
		d.Add(FileEvent{Path: "a.java", Operation: OpCreate})
	})
}
