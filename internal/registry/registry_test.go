package registry

import (
	"fmt"
	"path/filepath"
	"testing"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := OpenSQLite(filepath.Join(t.TempDir(), "clients.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCreateAndLookup(t *testing.T) {
	r := setupTestRegistry(t)

	c := &Client{
		UID:      "f1c9b2aa-0000-0000-0000-000000000001",
		Hostname: "workstation01",
		OSPlat:   "linux",
		OSVer:    "Debian GNU/Linux 12",
		IPv4:     "192.168.1.50",
	}
	if err := r.Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	byUID, err := r.ByUID(c.UID)
	if err != nil {
		t.Fatalf("ByUID() error = %v", err)
	}
	if byUID == nil || byUID.Hostname != "workstation01" {
		t.Errorf("ByUID() = %+v, want hostname workstation01", byUID)
	}
	if byUID.RegisteredAt.IsZero() {
		t.Error("RegisteredAt was not stamped on create")
	}

	byHost, err := r.ByHostname("workstation01")
	if err != nil {
		t.Fatalf("ByHostname() error = %v", err)
	}
	if byHost == nil || byHost.UID != c.UID {
		t.Errorf("ByHostname() = %+v, want uid %s", byHost, c.UID)
	}
}

func TestLookupMissing(t *testing.T) {
	r := setupTestRegistry(t)

	c, err := r.ByUID("no-such-uid")
	if err != nil {
		t.Fatalf("ByUID() error = %v", err)
	}
	if c != nil {
		t.Errorf("ByUID() for missing client = %+v, want nil", c)
	}

	c, err = r.ByHostname("no-such-host")
	if err != nil {
		t.Fatalf("ByHostname() error = %v", err)
	}
	if c != nil {
		t.Errorf("ByHostname() for missing client = %+v, want nil", c)
	}
}

func TestCreateRejectsDuplicateUID(t *testing.T) {
	r := setupTestRegistry(t)

	c := &Client{UID: "dup-uid", Hostname: "host-a"}
	if err := r.Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := r.Create(&Client{UID: "dup-uid", Hostname: "host-b"}); err == nil {
		t.Error("Create() with duplicate UID succeeded, want constraint violation")
	}
}

func TestCount(t *testing.T) {
	r := setupTestRegistry(t)

	for i := 0; i < 5; i++ {
		c := &Client{
			UID:      fmt.Sprintf("uid-%d", i),
			Hostname: fmt.Sprintf("host-%d", i),
		}
		if err := r.Create(c); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	n, err := r.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Count() = %d, want 5", n)
	}
}

func TestTouch(t *testing.T) {
	r := setupTestRegistry(t)

	c := &Client{UID: "touch-uid", Hostname: "host-t"}
	if err := r.Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before, err := r.ByUID("touch-uid")
	if err != nil {
		t.Fatalf("ByUID() error = %v", err)
	}

	if err := r.Touch("touch-uid"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	after, err := r.ByUID("touch-uid")
	if err != nil {
		t.Fatalf("ByUID() error = %v", err)
	}
	if after.LastSeen.Before(before.LastSeen) {
		t.Errorf("LastSeen went backwards: %v -> %v", before.LastSeen, after.LastSeen)
	}
}
