package database

import (
	"context"
	"testing"
	"time"

	"github.com/nao1215/proxyscan/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("Open() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(ip string, port int) *model.ProxyRecord {
	r := model.NewProxyRecord(ip, port, model.ProtocolHTTP)
	r.Source = "test-source"
	r.FirstSeen = time.Now().Add(-time.Hour)
	return r
}

func TestOpenRequiresExistingDatabase(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.CreateIfNotExists = false
	if _, err := Open(t.TempDir(), opts); err == nil {
		t.Error("Open() expected error for a missing database")
	}
}

func TestUpsertProxyReportsNew(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	record := testRecord("203.0.113.9", 8080)

	inserted, err := s.UpsertProxy(ctx, record)
	if err != nil {
		t.Fatalf("UpsertProxy() unexpected error: %v", err)
	}
	if !inserted {
		t.Error("first upsert should report a new record")
	}

	inserted, err = s.UpsertProxy(ctx, record)
	if err != nil {
		t.Fatalf("UpsertProxy() unexpected error: %v", err)
	}
	if inserted {
		t.Error("second upsert should not report a new record")
	}
}

func TestUpsertProxyPreservesStatus(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	record := testRecord("203.0.113.9", 8080)
	if _, err := s.UpsertProxy(ctx, record); err != nil {
		t.Fatal(err)
	}

	// Validation marks it valid.
	if err := record.MarkSuccess(1.5, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProxy(ctx, record); err != nil {
		t.Fatal(err)
	}

	// A re-fetch of the same relay must not reset the status.
	refetched := testRecord("203.0.113.9", 8080)
	refetched.Country = "DE"
	if _, err := s.UpsertProxy(ctx, refetched); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProxy(ctx, "203.0.113.9", 8080, model.ProtocolHTTP)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("GetProxy() returned nil for an existing record")
	}
	if got.Status != model.StatusValid {
		t.Errorf("Status = %v, want valid preserved across re-fetch", got.Status)
	}
	if got.Country != "DE" {
		t.Errorf("Country = %q, want DE picked up from re-fetch", got.Country)
	}
	if got.ResponseTime != 1.5 {
		t.Errorf("ResponseTime = %v, want 1.5", got.ResponseTime)
	}
}

func TestGetProxyMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	got, err := s.GetProxy(context.Background(), "198.51.100.1", 80, model.ProtocolHTTP)
	if err != nil {
		t.Fatalf("GetProxy() unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("GetProxy() = %+v, want nil for a missing record", got)
	}
}

func TestSaveProxyMissingRecord(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.SaveProxy(context.Background(), testRecord("198.51.100.1", 80)); err == nil {
		t.Error("SaveProxy() expected error for a record never upserted")
	}
}

func TestListByStatusAndCounts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	valid := testRecord("203.0.113.9", 8080)
	tempInvalid := testRecord("203.0.113.10", 3128)
	untested := testRecord("203.0.113.11", 1080)
	for _, r := range []*model.ProxyRecord{valid, tempInvalid, untested} {
		if _, err := s.UpsertProxy(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if err := valid.MarkSuccess(0.8, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProxy(ctx, valid); err != nil {
		t.Fatal(err)
	}
	if err := tempInvalid.MarkFailure(time.Now(), 3); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProxy(ctx, tempInvalid); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListByStatus(ctx, model.StatusValid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key() != valid.Key() {
		t.Errorf("ListByStatus(valid) = %d records, want exactly the valid one", len(got))
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[model.Status]int{
		model.StatusValid:       1,
		model.StatusTempInvalid: 1,
		model.StatusUntested:    1,
	}
	for status, n := range want {
		if counts[status] != n {
			t.Errorf("counts[%v] = %d, want %d", status, counts[status], n)
		}
	}
}

func TestListRetryEligible(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	stale := testRecord("203.0.113.9", 8080)
	fresh := testRecord("203.0.113.10", 3128)
	for _, r := range []*model.ProxyRecord{stale, fresh} {
		if _, err := s.UpsertProxy(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if err := stale.MarkFailure(now.Add(-8*time.Hour), 3); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProxy(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := fresh.MarkFailure(now.Add(-time.Hour), 3); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProxy(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListRetryEligible(ctx, now.Add(-6*time.Hour), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key() != stale.Key() {
		t.Fatalf("ListRetryEligible() = %d records, want only the stale one", len(got))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := testRecord("203.0.113.9", 8080)
	old.FirstSeen = now.Add(-40 * 24 * time.Hour)
	recent := testRecord("203.0.113.10", 3128)
	for _, r := range []*model.ProxyRecord{old, recent} {
		if _, err := s.UpsertProxy(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.DeleteOlderThan(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0] != old.Key() {
		t.Fatalf("DeleteOlderThan() = %v, want [%s]", keys, old.Key())
	}

	got, err := s.GetProxy(ctx, old.IP, old.Port, old.Protocol)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("deleted record still present")
	}
}

func TestValidDistributionAndAvgResponseTime(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	a := testRecord("203.0.113.9", 8080)
	a.Country = "DE"
	b := testRecord("203.0.113.10", 3128)
	b.Country = "DE"
	c := model.NewProxyRecord("203.0.113.11", 1080, model.ProtocolSOCKS5)
	c.Country = "FR"
	c.Source = "test-source"

	for _, r := range []*model.ProxyRecord{a, b, c} {
		if _, err := s.UpsertProxy(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	for i, r := range []*model.ProxyRecord{a, b, c} {
		if err := r.MarkSuccess(float64(i+1), time.Now()); err != nil {
			t.Fatal(err)
		}
		if err := s.SaveProxy(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	byCountry, err := s.ValidDistribution(ctx, "country")
	if err != nil {
		t.Fatal(err)
	}
	if byCountry["DE"] != 2 || byCountry["FR"] != 1 {
		t.Errorf("country distribution = %v, want DE:2 FR:1", byCountry)
	}

	byProtocol, err := s.ValidDistribution(ctx, "protocol")
	if err != nil {
		t.Fatal(err)
	}
	if byProtocol["http"] != 2 || byProtocol["socks5"] != 1 {
		t.Errorf("protocol distribution = %v, want http:2 socks5:1", byProtocol)
	}

	if _, err := s.ValidDistribution(ctx, "port"); err == nil {
		t.Error("ValidDistribution() expected error for unknown dimension")
	}

	avg, err := s.AvgValidResponseTime(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if avg != 2.0 {
		t.Errorf("AvgValidResponseTime() = %v, want 2.0", avg)
	}
}

func TestSaveAndLatestResult(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first := &model.ComprehensiveResult{
		ProxyKey:     "203.0.113.9:8080:http",
		OverallScore: 55,
		Grade:        model.GradeC,
		Timestamp:    time.Now().Add(-time.Hour),
	}
	second := &model.ComprehensiveResult{
		ProxyKey:     "203.0.113.9:8080:http",
		OverallScore: 82,
		Grade:        model.GradeA,
		Timestamp:    time.Now(),
	}
	for _, r := range []*model.ComprehensiveResult{first, second} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult() unexpected error: %v", err)
		}
	}

	got, err := s.LatestResult(ctx, "203.0.113.9:8080:http")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Grade != model.GradeA {
		t.Errorf("LatestResult() grade = %v, want A (the newer result)", got.Grade)
	}

	missing, err := s.LatestResult(ctx, "198.51.100.1:80:http")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("LatestResult() for an unknown proxy should be nil")
	}
}

func TestLifecycleEventLogCap(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.EventLogCap = 5
	s, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		event := &model.LifecycleEvent{
			ProxyKey:  "203.0.113.9:8080:http",
			Kind:      model.EventValidated,
			Timestamp: time.Now(),
			Details:   map[string]any{"pass": i},
		}
		if err := s.InsertLifecycleEvent(ctx, event); err != nil {
			t.Fatalf("InsertLifecycleEvent() unexpected error: %v", err)
		}
	}

	count, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("CountEvents() = %d, want the cap of 5", count)
	}

	events, err := s.ListLifecycleEvents(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Fatalf("len(events) = %d, want 5", len(events))
	}
	// Newest first; the oldest surviving entry is pass 3.
	if pass, ok := events[0].Details["pass"].(float64); !ok || pass != 7 {
		t.Errorf("events[0] pass = %v, want 7", events[0].Details["pass"])
	}
}

func TestTaskHistoryCap(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.TaskHistoryCap = 3
	s, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		record := &model.TaskRecord{
			Task:     "validate",
			Started:  time.Now(),
			Duration: time.Duration(i) * time.Second,
			Success:  i%2 == 0,
			Detail:   "batch",
		}
		if err := s.InsertTaskRecord(ctx, record); err != nil {
			t.Fatalf("InsertTaskRecord() unexpected error: %v", err)
		}
	}

	history, err := s.ListTaskHistory(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want the cap of 3", len(history))
	}
	if history[0].Duration != 5*time.Second {
		t.Errorf("history[0].Duration = %v, want 5s (newest first)", history[0].Duration)
	}
}

func TestStatsSnapshots(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.LatestStatsSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty != nil {
		t.Error("LatestStatsSnapshot() on empty store should be nil")
	}

	if err := s.SaveStatsSnapshot(ctx, []byte(`{"total": 1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveStatsSnapshot(ctx, []byte(`{"total": 2}`)); err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestStatsSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"total": 2}` {
		t.Errorf("LatestStatsSnapshot() = %s, want the newest snapshot", got)
	}
}
