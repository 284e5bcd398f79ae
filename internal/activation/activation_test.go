package activation

import (
	"fmt"
	"os"
	"strconv"
	"testing"
)

func TestListeners_NoEnvironment(t *testing.T) {
	// Ensure env vars are not set
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}

	if listeners != nil {
		t.Errorf("expected nil listeners when no env vars set, got %v", listeners)
	}
}

func TestListeners_WrongPID(t *testing.T) {
	// Activation addressed to a different process
	t.Setenv("LISTEN_PID", "99999")
	t.Setenv("LISTEN_FDS", "1")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}

	if listeners != nil {
		t.Errorf("expected nil listeners when PID doesn't match, got %v", listeners)
	}
}

func TestListeners_InvalidPID(t *testing.T) {
	t.Setenv("LISTEN_PID", "not-a-number")
	t.Setenv("LISTEN_FDS", "1")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for invalid LISTEN_PID, got nil")
	}
}

func TestListeners_InvalidFDS(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "not-a-number")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for invalid LISTEN_FDS, got nil")
	}
}

func TestListeners_ZeroFDs(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "0")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}

	if listeners != nil {
		t.Errorf("expected nil listeners when LISTEN_FDS=0, got %v", listeners)
	}
}

// Example demonstrates how socket activation detection works
func ExampleListeners() {
	listeners, err := Listeners()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if listeners == nil {
		fmt.Println("No socket activation detected")
	} else {
		fmt.Printf("Received %d systemd socket(s)\n", len(listeners))
	}
}
