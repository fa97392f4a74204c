package livequery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
	"github.com/kailas-cloud/livedoc/internal/usecase/storage"
)

var isOpen = query.Predicate{"status": "open"}

func setStatus(id domain.DocID, status string) tx.UpdateTx {
	return tx.UpdateTx{Class: "task", ID: id, Operations: []tx.Operation{
		{Kind: tx.Set, Attributes: map[string]any{"status": status}},
	}}
}

// --- Query / Subscribe ---

func TestQuery_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Query("nope", nil, query.Options{}); !errors.Is(err, domain.ErrClassNotFound) {
		t.Errorf("expected ErrClassNotFound, got %v", err)
	}
	if _, err := e.Query("task", query.Predicate{"color": "red"}, query.Options{}); !errors.Is(err, domain.ErrAttributeNotFound) {
		t.Errorf("expected ErrAttributeNotFound, got %v", err)
	}
	if _, err := e.Query("task", nil, query.Options{Limit: -1}); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSubscribe_DeliversInitialFetch(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 3, openTask)

	sub, err := e.Query("task", isOpen, query.Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ms.finds.Load() != 0 {
		t.Fatal("an unattached query must not fetch")
	}
	rec := &recorder{}
	if _, err := sub.Subscribe(context.Background(), rec.fn); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("notifications = %d, want 1 before Subscribe returns", rec.count())
	}
	got := rec.last(t)
	if diff := cmp.Diff([]string{"t000", "t001", "t002"}, ids(got.Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
	if got.Total != 3 || got.Seq != 1 {
		t.Errorf("total = %d, seq = %d", got.Total, got.Seq)
	}
}

func TestSubscribe_FetchError(t *testing.T) {
	e, ms := newTestEngine(t)
	ms.findFn = func(context.Context, domain.ClassRef, query.Predicate, query.Options) (storage.FindResult, error) {
		return storage.FindResult{}, errors.New("connection refused")
	}
	sub, _ := e.Query("task", nil, query.Options{})
	if _, err := sub.Subscribe(context.Background(), func(Result) {}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubscribe_SecondSubscriberGetsSnapshot(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 2, openTask)
	sub, first, unsubFirst := subscribe(t, e, isOpen, query.Options{})

	second := &recorder{}
	unsubSecond, err := sub.Subscribe(context.Background(), second.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ms.finds.Load() != 1 {
		t.Errorf("finds = %d, want 1", ms.finds.Load())
	}
	if second.count() != 1 || len(second.last(t).Docs) != 2 {
		t.Fatalf("second subscriber got %v", second.all())
	}

	unsubFirst()
	if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t000"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if first.count() != 1 {
		t.Errorf("unsubscribed listener notified: %d", first.count())
	}
	if second.count() != 2 || len(second.last(t).Docs) != 1 {
		t.Errorf("second subscriber got %v", second.all())
	}
	unsubSecond()
}

// --- CreateTx ---

func TestCreate_InsertsLocally(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 3, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})

	err := e.Tx(context.Background(), tx.CreateTx{Class: "task", ID: "t0015", Object: openTask(0)})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	if rec.count() != 2 {
		t.Fatalf("notifications = %d, want 2", rec.count())
	}
	got := rec.last(t)
	if diff := cmp.Diff([]string{"t000", "t001", "t0015", "t002"}, ids(got.Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
	if got.Total != 4 {
		t.Errorf("total = %d, want 4", got.Total)
	}
	if ms.finds.Load() != 1 {
		t.Errorf("finds = %d, want no refresh", ms.finds.Load())
	}
}

func TestCreate_NotMatching(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 3, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})

	create := tx.CreateTx{Class: "task", ID: "t100", Object: map[string]any{"status": "closed"}}
	if err := e.Tx(context.Background(), create); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()
	if rec.count() != 1 || ms.finds.Load() != 1 {
		t.Errorf("notifications = %d, finds = %d, want 1 and 1", rec.count(), ms.finds.Load())
	}
}

func TestCreate_UnsortedAtCapacityKeepsWindow(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 50, openTask)
	sub, rec, _ := subscribe(t, e, isOpen, query.Options{Limit: 10})

	if err := e.Tx(context.Background(), tx.CreateTx{Class: "task", ID: "t100", Object: openTask(0)}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	if rec.count() != 1 {
		t.Errorf("notifications = %d, want only the initial fetch", rec.count())
	}
	if ms.finds.Load() != 1 {
		t.Errorf("finds = %d, want no refresh", ms.finds.Load())
	}

	late := &recorder{}
	if _, err := sub.Subscribe(context.Background(), late.fn); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	snap := late.last(t)
	if len(snap.Docs) != 10 || snap.Total != 51 {
		t.Errorf("window = %d docs of %d, want 10 of 51", len(snap.Docs), snap.Total)
	}
}

func TestCreate_SortedAtCapacityAdmitsLocally(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 20, func(i int) map[string]any { return map[string]any{"status": "open", "rank": float64(i)} })
	opts := query.Options{Limit: 5, Sort: []query.SortField{{Path: "rank", Order: query.Descending}}}
	_, rec, _ := subscribe(t, e, isOpen, opts)

	create := tx.CreateTx{Class: "task", ID: "top", Object: map[string]any{"status": "open", "rank": float64(100)}}
	if err := e.Tx(context.Background(), create); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	low := tx.CreateTx{Class: "task", ID: "low", Object: map[string]any{"status": "open", "rank": float64(-1)}}
	if err := e.Tx(context.Background(), low); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	if rec.count() != 2 {
		t.Fatalf("notifications = %d, want initial + local insert", rec.count())
	}
	got := rec.last(t)
	if diff := cmp.Diff([]string{"top", "t019", "t018", "t017", "t016"}, ids(got.Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
	if got.Total != 21 {
		t.Errorf("total = %d, want 21", got.Total)
	}
	if ms.finds.Load() != 1 {
		t.Errorf("finds = %d, want no refresh", ms.finds.Load())
	}
}

func TestCreate_SkippedWindowRefreshes(t *testing.T) {
	tests := []struct {
		name string
		opts query.Options
		id   domain.DocID
		want []string
	}{
		{"room left", query.Options{Skip: 5, Limit: 10}, "t100", []string{"t005", "t006", "t007", "t100"}},
		{"before the window", query.Options{Skip: 2, Limit: 3}, "a000", []string{"t001", "t002", "t003"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ms := newTestEngine(t)
			seed(t, ms, 8, openTask)
			_, rec, _ := subscribe(t, e, isOpen, tt.opts)

			if err := e.Tx(context.Background(), tx.CreateTx{Class: "task", ID: tt.id, Object: openTask(0)}); err != nil {
				t.Fatalf("Tx: %v", err)
			}
			e.Wait()

			got := rec.last(t)
			if diff := cmp.Diff(tt.want, ids(got.Docs)); diff != "" {
				t.Errorf("docs (-want +got):\n%s", diff)
			}
			if got.Total != 9 {
				t.Errorf("total = %d, want 9", got.Total)
			}
		})
	}
}

// --- UpdateTx ---

func TestUpdate_MissIsFree(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 10, func(i int) map[string]any {
		if i%2 == 0 {
			return map[string]any{"status": "open"}
		}
		return map[string]any{"status": "closed"}
	})
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})
	_, bounded, _ := subscribe(t, e, isOpen, query.Options{Limit: 3})

	update := tx.UpdateTx{Class: "task", ID: "t001", Operations: []tx.Operation{
		{Kind: tx.Set, Attributes: map[string]any{"title": "renamed"}},
	}}
	if err := e.Tx(context.Background(), update); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()
	if err := e.Tx(context.Background(), setStatus("t003", "archived")); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	if rec.count() != 1 {
		t.Errorf("notifications = %d, want 1", rec.count())
	}
	// Only the bounded window refreshes: t003 may have matched beyond it.
	if bounded.count() != 2 {
		t.Errorf("bounded notifications = %d, want initial + refresh", bounded.count())
	}
	if ms.finds.Load() != 3 {
		t.Errorf("finds = %d, want two initial fetches and one refresh", ms.finds.Load())
	}
}

func TestUpdate_OutsideSkippedWindowRefreshes(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 8, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{Skip: 2, Limit: 3})

	if err := e.Tx(context.Background(), setStatus("t000", "closed")); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	got := rec.last(t)
	if diff := cmp.Diff([]string{"t003", "t004", "t005"}, ids(got.Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
	if got.Total != 7 {
		t.Errorf("total = %d, want 7", got.Total)
	}
}

func TestUpdate_StartsMatchingRefreshes(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 4, func(i int) map[string]any {
		if i < 2 {
			return map[string]any{"status": "open"}
		}
		return map[string]any{"status": "closed"}
	})
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})

	if err := e.Tx(context.Background(), setStatus("t003", "open")); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	if rec.count() != 2 {
		t.Fatalf("notifications = %d, want initial + refresh", rec.count())
	}
	if diff := cmp.Diff([]string{"t000", "t001", "t003"}, ids(rec.last(t).Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
}

func TestUpdate_InWindowPatchesLocally(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 3, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})

	nested := tx.UpdateTx{Class: "task", ID: "t001", Operations: []tx.Operation{
		{Kind: tx.Push, Selector: []tx.ObjectSelector{{Key: "tasks"}}, Attributes: map[string]any{"name": "s1"}},
	}}
	if err := e.Tx(context.Background(), nested); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if err := e.Tx(context.Background(), setStatus("t000", "closed")); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	all := rec.all()
	if len(all) != 3 {
		t.Fatalf("notifications = %d, want 3", len(all))
	}
	pushed := all[1].Docs[1].Attributes["tasks"]
	want := []any{map[string]any{"_class": "subtask", "name": "s1"}}
	if diff := cmp.Diff(want, pushed); diff != "" {
		t.Errorf("pushed element (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"t001", "t002"}, ids(all[2].Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
	if all[2].Total != 2 {
		t.Errorf("total = %d, want 2", all[2].Total)
	}
	if ms.finds.Load() != 1 {
		t.Errorf("finds = %d, want no refresh", ms.finds.Load())
	}
}

func TestUpdate_LeavingBoundedWindowBackfills(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 20, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{Limit: 5})

	if err := e.Tx(context.Background(), setStatus("t002", "closed")); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	all := rec.all()
	if len(all) != 3 {
		t.Fatalf("notifications = %d, want initial + local + refresh", len(all))
	}
	if len(all[1].Docs) != 4 {
		t.Errorf("local patch = %v", ids(all[1].Docs))
	}
	if diff := cmp.Diff([]string{"t000", "t001", "t003", "t004", "t005"}, ids(all[2].Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
}

// --- DeleteTx ---

func TestDelete_BackfillsWindow(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 50, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{Limit: 10})

	if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t003"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()

	all := rec.all()
	if len(all) != 3 {
		t.Fatalf("notifications = %d, want exactly one splice and one refresh", len(all))
	}
	if len(all[1].Docs) != 9 || slices.Contains(ids(all[1].Docs), "t003") {
		t.Errorf("splice = %v", ids(all[1].Docs))
	}
	if len(all[2].Docs) != 10 || !slices.Contains(ids(all[2].Docs), "t010") {
		t.Errorf("refresh = %v", ids(all[2].Docs))
	}
	if all[2].Total != 49 {
		t.Errorf("total = %d, want 49", all[2].Total)
	}
}

func TestDelete_OutsideWindow(t *testing.T) {
	tests := []struct {
		name      string
		opts      query.Options
		id        domain.DocID
		want      []string
		wantTotal int
	}{
		{"beyond the limit", query.Options{Limit: 3}, "t006", []string{"t000", "t001", "t002"}, 7},
		{"before the window", query.Options{Skip: 2, Limit: 3}, "t000", []string{"t003", "t004", "t005"}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ms := newTestEngine(t)
			seed(t, ms, 8, openTask)
			_, rec, _ := subscribe(t, e, isOpen, tt.opts)

			if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: tt.id}); err != nil {
				t.Fatalf("Tx: %v", err)
			}
			e.Wait()

			got := rec.last(t)
			if diff := cmp.Diff(tt.want, ids(got.Docs)); diff != "" {
				t.Errorf("docs (-want +got):\n%s", diff)
			}
			if got.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", got.Total, tt.wantTotal)
			}
		})
	}
}

func TestDelete_NonMatchUnboundedIsFree(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 4, func(i int) map[string]any { return map[string]any{"status": []string{"open", "closed"}[i%2]} })
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})

	if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t001"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()
	if rec.count() != 1 || ms.finds.Load() != 1 {
		t.Errorf("notifications = %d, finds = %d", rec.count(), ms.finds.Load())
	}
}

func TestTx_OtherDomainIgnored(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 2, openTask)
	_, rec, _ := subscribe(t, e, nil, query.Options{})

	if err := e.Tx(context.Background(), tx.CreateTx{Class: "person", ID: "p1", Object: map[string]any{"name": "Ann"}}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()
	if rec.count() != 1 {
		t.Errorf("notifications = %d, want 1", rec.count())
	}
}

// --- two-phase protocol ---

func TestRefresh_StaleResultIsDiscarded(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 50, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{Limit: 10})

	fetched := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	ms.findFn = func(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (
		storage.FindResult, error,
	) {
		res, err := ms.inner.Find(ctx, class, p, opts)
		if calls.Add(1) == 1 {
			close(fetched)
			<-release
		}
		return res, err
	}

	if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t000"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	<-fetched // the refresh holds a window that still contains t001
	if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t001"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	close(release)
	e.Wait()

	all := rec.all()
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Fatalf("sequence regressed: %d after %d", all[i].Seq, all[i-1].Seq)
		}
	}
	gone := -1
	for i, res := range all {
		if !slices.Contains(ids(res.Docs), "t001") {
			gone = i
			break
		}
	}
	if gone < 0 {
		t.Fatal("t001 was never removed")
	}
	for _, res := range all[gone:] {
		if slices.Contains(ids(res.Docs), "t001") {
			t.Fatalf("stale snapshot delivered after the local delete: %v", ids(res.Docs))
		}
	}
	want := []string{"t002", "t003", "t004", "t005", "t006", "t007", "t008", "t009", "t010", "t011"}
	if diff := cmp.Diff(want, ids(rec.last(t).Docs)); diff != "" {
		t.Errorf("final window (-want +got):\n%s", diff)
	}
	if calls.Load() != 2 {
		t.Errorf("refresh fetches = %d, want the stale one re-run once", calls.Load())
	}
}

func TestTx_FailedCommitRollsBack(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 3, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})

	ms.commitFn = func(context.Context, tx.Tx) error { return errors.New("write conflict") }
	if err := e.Tx(context.Background(), setStatus("t000", "closed")); err == nil {
		t.Fatal("expected commit error")
	}
	e.Wait()

	all := rec.all()
	if len(all) != 3 {
		t.Fatalf("notifications = %d, want initial + optimistic + rollback", len(all))
	}
	if len(all[1].Docs) != 2 {
		t.Errorf("optimistic = %v", ids(all[1].Docs))
	}
	if diff := cmp.Diff([]string{"t000", "t001", "t002"}, ids(all[2].Docs)); diff != "" {
		t.Errorf("rolled back (-want +got):\n%s", diff)
	}
}

func TestTx_InvalidNotDelivered(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 1, openTask)
	_, rec, _ := subscribe(t, e, nil, query.Options{})

	bad := tx.UpdateTx{Class: "task", ID: "t000", Operations: []tx.Operation{
		{Kind: tx.Set, Attributes: map[string]any{"color": "red"}},
	}}
	if err := e.Tx(context.Background(), bad); !errors.Is(err, domain.ErrAttributeNotFound) {
		t.Fatalf("expected ErrAttributeNotFound, got %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("notifications = %d, want 1", rec.count())
	}
}

func TestApply_CommittedElsewhere(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 2, openTask)
	_, rec, _ := subscribe(t, e, isOpen, query.Options{})

	remote := tx.CreateTx{Class: "task", ID: "t100", Object: openTask(0)}
	if err := ms.inner.Tx(context.Background(), remote); err != nil {
		t.Fatalf("remote commit: %v", err)
	}
	e.Apply(remote)
	e.Wait()

	if diff := cmp.Diff([]string{"t000", "t001", "t100"}, ids(rec.last(t).Docs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
}

// --- disposal ---

func TestUnsubscribe_Disposes(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 3, openTask)
	sub, rec, unsub := subscribe(t, e, isOpen, query.Options{})

	unsub()
	unsub()
	if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t000"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Wait()
	if rec.count() != 1 {
		t.Errorf("notifications after disposal: %d", rec.count())
	}
	if _, err := sub.Subscribe(context.Background(), rec.fn); !errors.Is(err, domain.ErrQueryDisposed) {
		t.Errorf("expected ErrQueryDisposed, got %v", err)
	}
}

func TestRefresh_AfterDisposalIsDropped(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 20, openTask)
	_, rec, unsub := subscribe(t, e, isOpen, query.Options{Limit: 5})

	fetched := make(chan struct{})
	release := make(chan struct{})
	ms.findFn = func(ctx context.Context, class domain.ClassRef, p query.Predicate, opts query.Options) (
		storage.FindResult, error,
	) {
		close(fetched)
		<-release
		return ms.inner.Find(ctx, class, p, opts)
	}

	if err := e.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t000"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	<-fetched
	unsub()
	close(release)
	e.Wait()

	if rec.count() != 2 {
		t.Errorf("notifications = %d, want initial + local splice only", rec.count())
	}
}

func TestClose_DisposesQueries(t *testing.T) {
	e, ms := newTestEngine(t)
	seed(t, ms, 2, openTask)
	_, rec, _ := subscribe(t, e, nil, query.Options{})

	e.Close()
	if err := ms.inner.Tx(context.Background(), tx.DeleteTx{Class: "task", ID: "t000"}); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	e.Apply(tx.DeleteTx{Class: "task", ID: "t000"})
	if rec.count() != 1 {
		t.Errorf("notifications after Close: %d", rec.count())
	}

	sub, err := e.Query("task", nil, query.Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, err := sub.Subscribe(context.Background(), func(Result) {}); !errors.Is(err, domain.ErrQueryDisposed) {
		t.Errorf("expected ErrQueryDisposed, got %v", err)
	}
}

// --- refresh policy against an always-refresh oracle ---

func TestPolicy_MatchesFreshFetch(t *testing.T) {
	e, ms := newTestEngine(t)
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(7))
	statuses := []string{"open", "closed"}
	seed(t, ms, 12, func(i int) map[string]any {
		return map[string]any{"status": statuses[i%2], "rank": float64(rnd.Intn(6))}
	})

	byRank := []query.SortField{{Path: "rank", Order: query.Ascending}}
	queries := []query.Options{
		{},
		{Sort: byRank},
		{Sort: byRank, Limit: 4},
		{Sort: []query.SortField{{Path: "rank", Order: query.Descending}}, Limit: 3},
		{Limit: 4},
		{Skip: 2, Limit: 3},
		{Sort: byRank, Skip: 2, Limit: 3},
	}
	recs := make([]*recorder, len(queries))
	for i, opts := range queries {
		_, recs[i], _ = subscribe(t, e, isOpen, opts)
	}

	existing := make([]domain.DocID, 0, 64)
	for i := range 12 {
		existing = append(existing, domain.DocID(fmt.Sprintf("t%03d", i)))
	}
	next := 100
	for step := range 200 {
		var op tx.Tx
		switch k := rnd.Intn(10); {
		case k < 3 || len(existing) == 0:
			id := domain.DocID(fmt.Sprintf("t%03d", next))
			next++
			op = tx.CreateTx{Class: "task", ID: id, Object: map[string]any{
				"status": statuses[rnd.Intn(2)], "rank": float64(rnd.Intn(6)),
			}}
			existing = append(existing, id)
		case k < 5:
			op = setStatus(existing[rnd.Intn(len(existing))], statuses[rnd.Intn(2)])
		case k < 7:
			op = tx.UpdateTx{Class: "task", ID: existing[rnd.Intn(len(existing))], Operations: []tx.Operation{
				{Kind: tx.Set, Attributes: map[string]any{"rank": float64(rnd.Intn(6))}},
			}}
		case k < 8:
			op = tx.UpdateTx{Class: "task", ID: existing[rnd.Intn(len(existing))], Operations: []tx.Operation{
				{Kind: tx.Set, Attributes: map[string]any{"title": fmt.Sprintf("v%d", step)}},
			}}
		default:
			i := rnd.Intn(len(existing))
			op = tx.DeleteTx{Class: "task", ID: existing[i]}
			existing = slices.Delete(existing, i, i+1)
		}
		if err := e.Tx(ctx, op); err != nil {
			t.Fatalf("step %d (%s %s): %v", step, op.Kind(), op.ObjectID(), err)
		}
		e.Wait()

		for qi, opts := range queries {
			fresh, err := ms.inner.Find(ctx, "task", isOpen, opts)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			got := recs[qi].last(t)
			if diff := cmp.Diff(fresh.Docs, got.Docs); diff != "" {
				t.Fatalf("step %d (%s %s), query %d: live window differs from a fresh fetch (-fresh +live):\n%s",
					step, op.Kind(), op.ObjectID(), qi, diff)
			}
			if got.Total != fresh.Total {
				t.Fatalf("step %d (%s %s), query %d: total = %d, fresh fetch has %d",
					step, op.Kind(), op.ObjectID(), qi, got.Total, fresh.Total)
			}
		}
	}
}
