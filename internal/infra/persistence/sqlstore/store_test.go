package sqlstore

import "testing"

func TestRebind(t *testing.T) {
	q := `SELECT 1 FROM Runs WHERE Id = ? AND Status IN (?,?)`
	if got := Rebind(Dialect{Name: "sqlite"}, q); got != q {
		t.Fatalf("unnumbered dialect must leave query alone, got %q", got)
	}
	want := `SELECT 1 FROM Runs WHERE Id = $1 AND Status IN ($2,$3)`
	if got := Rebind(Dialect{Name: "postgres", Numbered: true}, q); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "?,?,?" {
		t.Fatalf("unexpected placeholders %q", got)
	}
	if got := placeholders(0); got != "" {
		t.Fatalf("expected empty placeholders, got %q", got)
	}
}
