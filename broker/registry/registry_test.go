package registry

import "testing"

func TestRegisterDuplicate(t *testing.T) {
	r := New()

	if err := r.Register("tod-game-ab12cd"); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("tod-game-ab12cd"); err != ErrIDTaken {
		t.Errorf("second register: err = %v, want ErrIDTaken", err)
	}
	if !r.Exists("tod-game-ab12cd") {
		t.Error("registered id should exist")
	}
}

func TestUnregisterFreesID(t *testing.T) {
	r := New()

	if err := r.Register("tod-game-ab12cd"); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister("tod-game-ab12cd"); err != nil {
		t.Fatal(err)
	}
	if r.Exists("tod-game-ab12cd") {
		t.Error("unregistered id should not exist")
	}
	if err := r.Register("tod-game-ab12cd"); err != nil {
		t.Errorf("re-register after unregister: %v", err)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	r := New()

	if err := r.Unregister("tod-game-nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if r.Exists("tod-game-nope") {
		t.Error("unknown id must not exist")
	}
}
