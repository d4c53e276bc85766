//go:build linux || darwin

package kage

import (
	"errors"
	"testing"
	"time"

	"github.com/kagesvr/kage/timer"
)

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaticKey = "waytoolongkey"
	if _, err := New(cfg); err == nil {
		t.Error("oversize static key accepted")
	}

	cfg = DefaultConfig()
	cfg.ACLOrder = "sideways"
	if _, err := New(cfg); err == nil {
		t.Error("bad acl order accepted")
	}

	cfg = DefaultConfig()
	cfg.Deny = "not-an-ip"
	if _, err := New(cfg); err == nil {
		t.Error("bad deny rule accepted")
	}
}

func TestRunStopsOnShutdownRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	r, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// 注册/注销在 Run 之前是安全的：定时轮仍归装配线程所有。
	id := r.InsertTimer(1000, 0, func(timer.ID, int) {}, 0)
	r.RemoveTimer(id)

	r.Shutdown()
	done := make(chan error, 1)
	go func() { done <- r.Run() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Shutdown")
	}
}

func TestErrorTaxonomyDistinct(t *testing.T) {
	errs := []error{ErrAllocationFailure, ErrProtocolViolation, ErrTransportError, ErrLockedOut}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("errors %d and %d alias each other", i, j)
			}
		}
	}
}
