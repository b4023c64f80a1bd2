package review

import (
	"context"
	"errors"
	"testing"
)

func TestMemQueue_SubmitAndGet(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	id, err := q.Submit(ctx, "svd", "Approve svd at proven level?", []string{"approve", "reject"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	item, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Status != ItemStatusPending {
		t.Errorf("expected pending status, got %s", item.Status)
	}
	if item.UnitID != "svd" {
		t.Errorf("expected unit svd, got %s", item.UnitID)
	}
}

func TestMemQueue_SubmitRejectsInvalidUnit(t *testing.T) {
	q := NewMemQueue()
	if _, err := q.Submit(context.Background(), "", "question?", nil); err == nil {
		t.Fatal("expected error for empty unit id")
	}
}

func TestMemQueue_DecideAssignsCursor(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	first, err := q.Submit(ctx, "svd", "first?", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	second, err := q.Submit(ctx, "mps", "second?", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := q.Decide(ctx, first, "approve", "alice"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if _, err := q.Decide(ctx, second, "reject", "bob"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	resolutions, err := q.PollResolved(ctx, 0)
	if err != nil {
		t.Fatalf("PollResolved failed: %v", err)
	}
	if len(resolutions) != 2 {
		t.Fatalf("expected 2 resolutions, got %d", len(resolutions))
	}
	if resolutions[0].ItemID != first || resolutions[1].ItemID != second {
		t.Errorf("resolutions out of cursor order: %v", resolutions)
	}
	if resolutions[0].Cursor >= resolutions[1].Cursor {
		t.Errorf("cursors not increasing: %d, %d", resolutions[0].Cursor, resolutions[1].Cursor)
	}
}

func TestMemQueue_PollResolvedSkipsSeenCursors(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	id, _ := q.Submit(ctx, "svd", "question?", nil)
	decided, err := q.Decide(ctx, id, "approve", "alice")
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	resolutions, err := q.PollResolved(ctx, decided.Cursor)
	if err != nil {
		t.Fatalf("PollResolved failed: %v", err)
	}
	if len(resolutions) != 0 {
		t.Errorf("expected no resolutions past cursor %d, got %d", decided.Cursor, len(resolutions))
	}
}

func TestMemQueue_DecideTwiceFails(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	id, _ := q.Submit(ctx, "svd", "question?", nil)
	if _, err := q.Decide(ctx, id, "approve", "alice"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	_, err := q.Decide(ctx, id, "reject", "bob")
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("expected ErrAlreadyDecided, got %v", err)
	}
}

func TestMemQueue_DecideRejectsUnknownOption(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	id, _ := q.Submit(ctx, "svd", "question?", []string{"approve", "reject"})
	if _, err := q.Decide(ctx, id, "maybe", "alice"); err == nil {
		t.Fatal("expected error for decision outside options")
	}
}

func TestMemQueue_GetUnknownItem(t *testing.T) {
	q := NewMemQueue()
	_, err := q.Get(context.Background(), "rq-missing")
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestMemQueue_ListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	id, _ := q.Submit(ctx, "svd", "first?", nil)
	q.Submit(ctx, "mps", "second?", nil)
	q.Decide(ctx, id, "approve", "alice")

	pending, err := q.List(ctx, ItemStatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 1 || pending[0].UnitID != "mps" {
		t.Errorf("expected one pending item for mps, got %v", pending)
	}

	all, err := q.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 items, got %d", len(all))
	}
}

func TestItem_AllowsDecision(t *testing.T) {
	open := NewItem("svd", "anything goes?", nil)
	if !open.AllowsDecision("whatever") {
		t.Error("item without options should accept any decision")
	}

	closed := NewItem("svd", "pick one", []string{"approve", "reject"})
	if !closed.AllowsDecision("approve") {
		t.Error("declared option should be allowed")
	}
	if closed.AllowsDecision("maybe") {
		t.Error("undeclared option should be rejected")
	}
}
