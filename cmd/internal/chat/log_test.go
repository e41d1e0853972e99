package chat

import (
	"slices"
	"testing"

	v1 "supportchat/shared/contracts/chat/v1"
)

func TestMerge_IdempotentRedelivery(t *testing.T) {
	t.Parallel()

	var log []v1.Message
	log = Merge(log, 1, msg(1, 1, 10), msg(2, 1, 20))
	log = Merge(log, 1, msg(1, 1, 10))

	if got := idsOf(log); !slices.Equal(got, []int64{1, 2}) {
		t.Fatalf("ids=%v want=[1 2]", got)
	}

	again := Merge(log, 1, msg(1, 1, 10), msg(2, 1, 20))
	if !slices.Equal(again, log) {
		t.Fatalf("re-merging the same batch changed the log: %v -> %v", idsOf(log), idsOf(again))
	}
}

func TestMerge_OrdersByCreatedAt(t *testing.T) {
	t.Parallel()

	var log []v1.Message
	log = Merge(log, 1, msg(2, 1, 20))
	log = Merge(log, 1, msg(1, 1, 10))

	if got := idsOf(log); !slices.Equal(got, []int64{1, 2}) {
		t.Fatalf("ids=%v want=[1 2]", got)
	}
}

func TestMerge_AnyInterleavingConverges(t *testing.T) {
	t.Parallel()

	all := []v1.Message{msg(1, 3, 30), msg(2, 3, 10), msg(3, 3, 20), msg(4, 3, 20), msg(5, 3, 0)}
	want := []int64{5, 2, 3, 4, 1}

	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3, 0, 2},
		{1, 1, 1, 0, 4, 3, 2},
	}

	for _, order := range orders {
		var log []v1.Message
		for _, i := range order {
			log = Merge(log, 3, all[i])
			for k := 1; k < len(log); k++ {
				if log[k].CreatedAt.Before(log[k-1].CreatedAt) {
					t.Fatalf("order %v: createdAt decreased at %d", order, k)
				}
			}
		}
		if got := idsOf(log); !slices.Equal(got, want) {
			t.Fatalf("order %v: ids=%v want=%v", order, got, want)
		}
	}

	batched := Merge(nil, 3, all...)
	if got := idsOf(batched); !slices.Equal(got, want) {
		t.Fatalf("batch: ids=%v want=%v", got, want)
	}
}

func TestMerge_FiltersOtherConversations(t *testing.T) {
	t.Parallel()

	log := Merge(nil, 7, msg(1, 7, 10), msg(2, 5, 5), msg(3, 7, 30))
	log = Merge(log, 7, msg(4, 5, 1))

	if got := idsOf(log); !slices.Equal(got, []int64{1, 3}) {
		t.Fatalf("ids=%v want=[1 3]", got)
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	current := []v1.Message{msg(2, 1, 20), msg(1, 1, 10)}
	snapshot := slices.Clone(current)

	_ = Merge(current, 1, msg(3, 1, 5))

	if !slices.Equal(current, snapshot) {
		t.Fatalf("Merge mutated current")
	}
}

func TestLog_Apply(t *testing.T) {
	t.Parallel()

	l := NewLog(9)

	if l.Apply(v1.Frame{Kind: v1.FrameKindIgnored, Messages: []v1.Message{msg(1, 9, 0)}}) {
		t.Fatalf("ignored frame must not change the log")
	}
	if !l.Apply(v1.Frame{Kind: v1.FrameKindBatch, Messages: []v1.Message{msg(2, 9, 20), msg(1, 9, 10)}}) {
		t.Fatalf("history batch should change the log")
	}
	if l.Apply(v1.Frame{Kind: v1.FrameKindSingle, Messages: []v1.Message{msg(1, 9, 10)}}) {
		t.Fatalf("duplicate single should not change the log")
	}
	if l.Apply(v1.Frame{Kind: v1.FrameKindSingle, Messages: []v1.Message{msg(5, 8, 0)}}) {
		t.Fatalf("foreign conversation should not change the log")
	}

	got := l.Messages()
	if !slices.Equal(idsOf(got), []int64{1, 2}) {
		t.Fatalf("ids=%v want=[1 2]", idsOf(got))
	}

	got[0].Text = "mutated"
	if l.Messages()[0].Text == "mutated" {
		t.Fatalf("Messages must return a copy")
	}
}
