package blob

import (
	"context"
	"strings"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{Root: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("default driver: %v %v", fsStore, err)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v %v", mem, err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil || !strings.Contains(err.Error(), "ftp") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestMatchFiltersByBaseName(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	keys := []string{
		"Run_HKJ7YBGXY.csv",
		"Run_HKJ7YBGXY.txt",
		"HKJ7YBGXY_v2.csv",
		"archive/SS_HKJ7YBGXY_old.csv",
		"2023/HOTHER.csv",
		"2023/old/HOTHER2.csv",
	}
	for _, store := range []Store{NewMemory(), NewMockS3ForTests(), fsStore} {
		for _, key := range keys {
			if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("%s put %s: %v", store.Driver(), key, err)
			}
		}
		got, err := Match(ctx, store, "", "*HKJ7YBGXY*.csv")
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		found := map[string]bool{}
		for _, info := range got {
			found[info.Key] = true
		}
		if len(got) != 2 || !found["Run_HKJ7YBGXY.csv"] || !found["HKJ7YBGXY_v2.csv"] {
			t.Fatalf("%s: unexpected matches %+v", store.Driver(), got)
		}
		for _, prefix := range []string{"2023/", "2023"} {
			scoped, err := Match(ctx, store, prefix, "*.csv")
			if err != nil {
				t.Fatalf("match %s: %v", prefix, err)
			}
			if len(scoped) != 1 || scoped[0].Key != "2023/HOTHER.csv" {
				t.Fatalf("%s: expected only the top of %s, got %+v", store.Driver(), prefix, scoped)
			}
		}
	}
	if _, err := Match(ctx, NewMemory(), "", "[bad"); err == nil {
		t.Fatalf("expected malformed pattern error")
	}
}
