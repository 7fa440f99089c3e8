package rdc

import (
	"context"
	"errors"
	"testing"
)

func TestPackageWrappers_ErrNotInitializedBeforeInit(t *testing.T) {
	globalMu.Lock()
	prev := global
	global = nil
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		global = prev
		globalMu.Unlock()
	})

	if _, err := GetRank(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetRank() err = %v; want ErrNotInitialized", err)
	}
	if _, err := GetWorldSize(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetWorldSize() err = %v; want ErrNotInitialized", err)
	}
	if _, err := GetCommunicator("main"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetCommunicator() err = %v; want ErrNotInitialized", err)
	}
	if err := Barrier(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Barrier() err = %v; want ErrNotInitialized", err)
	}
	if err := Finalize(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Finalize() err = %v; want ErrNotInitialized", err)
	}
}

func TestInit_RejectsInvalidConfigWithoutTouchingGlobal(t *testing.T) {
	globalMu.Lock()
	prev := global
	global = nil
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		global = prev
		globalMu.Unlock()
	})

	err := Init(context.Background(), WithTrackerPort(0))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Init() err = %v; want ErrInvalidConfig", err)
	}

	globalMu.Lock()
	stillNil := global == nil
	globalMu.Unlock()
	if !stillNil {
		t.Fatalf("Init() left a partially constructed Manager installed")
	}
}

func TestInit_AlreadyInitializedGuard(t *testing.T) {
	globalMu.Lock()
	prev := global
	global = &Manager{}
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		global = prev
		globalMu.Unlock()
	})

	err := Init(context.Background())
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("Init() err = %v; want ErrAlreadyInitialized", err)
	}
}
