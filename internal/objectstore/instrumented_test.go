package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type opCall struct {
	op      string
	region  string
	success bool
	bytes   int64
}

// recordingMetrics keeps every reported operation in order.
type recordingMetrics struct {
	calls []opCall
}

func (m *recordingMetrics) RecordObjectOp(op, region string, _ float64, success bool, bytes int64) {
	m.calls = append(m.calls, opCall{op, region, success, bytes})
}

func (m *recordingMetrics) only(t *testing.T) opCall {
	t.Helper()
	if len(m.calls) != 1 {
		t.Fatalf("expected 1 recorded call, got %d: %+v", len(m.calls), m.calls)
	}
	return m.calls[0]
}

func TestRegionOf(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{RegionKey("eu-west", "/img/a.png"), "eu-west"},
		{RegionPrefix("us-east"), "us-east"},
		{"loose-key", UnscopedRegion},
		{"/leading", UnscopedRegion},
		{"", UnscopedRegion},
	}
	for _, tt := range tests {
		if got := RegionOf(tt.key); got != tt.want {
			t.Errorf("RegionOf(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestInstrumentedStore_PutReportsTargetRegion(t *testing.T) {
	metrics := &recordingMetrics{}
	store := NewInstrumentedStore(NewMockStore(), metrics)

	data := "replicated body"
	err := store.Put(context.Background(), RegionKey("us-east", "/a"), strings.NewReader(data), int64(len(data)), "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got := metrics.only(t)
	want := opCall{OpPut, "us-east", true, int64(len(data))}
	if got != want {
		t.Errorf("call = %+v, want %+v", got, want)
	}
}

func TestInstrumentedStore_PutWithOptions_Failure(t *testing.T) {
	inner := NewMockStore()
	inner.SetPutHook(func(string) error { return errors.New("boom") })
	metrics := &recordingMetrics{}
	store := NewInstrumentedStore(inner, metrics)

	err := store.PutWithOptions(context.Background(), "us-east/a", strings.NewReader("x"), 1, "text/plain",
		PutOptions{Metadata: map[string]string{"replicated-from": "eu-west"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := metrics.only(t); got.success || got.region != "us-east" {
		t.Errorf("call = %+v, want one failed put in us-east", got)
	}
}

func TestInstrumentedStore_Get_RecordsOnClose(t *testing.T) {
	inner := NewMockStore()
	data := "0123456789"
	if err := inner.Put(context.Background(), "eu-west/a", strings.NewReader(data), int64(len(data)), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	metrics := &recordingMetrics{}
	store := NewInstrumentedStore(inner, metrics)

	rc, err := store.Get(context.Background(), "eu-west/a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(metrics.calls) != 0 {
		t.Fatal("get should be recorded on close, not on open")
	}
	if _, err := io.ReadAll(rc); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Double close records once.
	if err := rc.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	want := opCall{OpGet, "eu-west", true, int64(len(data))}
	if got := metrics.only(t); got != want {
		t.Errorf("call = %+v, want %+v", got, want)
	}
}

func TestInstrumentedStore_Get_NotFound(t *testing.T) {
	metrics := &recordingMetrics{}
	store := NewInstrumentedStore(NewMockStore(), metrics)

	_, err := store.Get(context.Background(), "ap-south/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	want := opCall{OpGet, "ap-south", false, 0}
	if got := metrics.only(t); got != want {
		t.Errorf("call = %+v, want %+v", got, want)
	}
}

func TestInstrumentedStore_HeadDeleteList(t *testing.T) {
	metrics := &recordingMetrics{}
	store := NewInstrumentedStore(NewMockStore(), metrics)
	ctx := context.Background()

	if _, err := store.Head(ctx, "eu-west/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "eu-west/missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.List(ctx, RegionPrefix("eu-west")); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if _, err := store.List(ctx, ""); err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []opCall{
		{OpHead, "eu-west", false, 0},
		{OpDelete, "eu-west", true, 0},
		{OpList, "eu-west", true, 0},
		{OpList, UnscopedRegion, true, 0},
	}
	if len(metrics.calls) != len(want) {
		t.Fatalf("calls = %+v, want %+v", metrics.calls, want)
	}
	for i := range want {
		if metrics.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, metrics.calls[i], want[i])
		}
	}
}

func TestInstrumentedStore_NilMetrics(t *testing.T) {
	store := NewInstrumentedStore(NewMockStore(), nil)
	ctx := context.Background()

	if err := store.Put(ctx, "k", strings.NewReader("v"), 1, "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	rc.Close()
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
