package mpi

import "testing"

func newSoloComm() *Comm {
	return &Comm{rank: 0, size: 1, codec: GobCodec}
}

func TestSoloCommSendRecvIsNoop(t *testing.T) {
	c := newSoloComm()
	if err := Send(c, 42, 0, 1); err != nil {
		t.Fatalf("send: %v", err)
	}
	v, status, err := Recv[int](c, AnySource, AnyTag)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if v != 0 {
		t.Fatalf("recv on solo comm returned %d, want zero value", v)
	}
	if status.Source != 0 {
		t.Fatalf("status.Source = %d, want 0", status.Source)
	}
}

func TestSoloCommBcastReturnsInput(t *testing.T) {
	c := newSoloComm()
	out, err := Bcast(c, "hello")
	if err != nil {
		t.Fatalf("bcast: %v", err)
	}
	if out != "hello" {
		t.Fatalf("bcast = %q, want %q", out, "hello")
	}
}

func TestSoloCommGatherReturnsSingletonSlice(t *testing.T) {
	c := newSoloComm()
	out, err := Gather(c, 9)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(out) != 1 || out[0] != 9 {
		t.Fatalf("gather = %v, want [9]", out)
	}
}

func TestSoloCommBarrierReturnsImmediately(t *testing.T) {
	c := newSoloComm()
	if err := c.Barrier(); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func TestDebugBudgetForDisabledByDefault(t *testing.T) {
	t.Setenv("DLP_MPI_DEBUG", "")
	if got := debugBudgetFor(4, 0); got != 0 {
		t.Fatalf("debugBudgetFor = %v, want 0", got)
	}
}

func TestDebugBudgetForScalesWithDistanceFromLastRank(t *testing.T) {
	t.Setenv("DLP_MPI_DEBUG", "1")
	root := debugBudgetFor(4, 0)
	last := debugBudgetFor(4, 3)
	if root <= last {
		t.Fatalf("root budget %v should exceed last-rank budget %v", root, last)
	}
	if last != debugUnit {
		t.Fatalf("last-rank budget = %v, want %v", last, debugUnit)
	}
}
