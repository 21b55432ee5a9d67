package storage

import (
	"strings"
	"testing"
)

func TestSQLiteConnStringEmptyPath(t *testing.T) {
	if got := SQLiteConnString("", false); got != "" {
		t.Fatalf("SQLiteConnString(\"\") = %q, want empty", got)
	}
}

func TestSQLiteConnStringPlainPath(t *testing.T) {
	got := SQLiteConnString("/tmp/gao_dev.db", false)
	for _, want := range []string{"file:/tmp/gao_dev.db", "_pragma=foreign_keys(ON)", "_pragma=busy_timeout(", "_time_format=sqlite"} {
		if !strings.Contains(got, want) {
			t.Fatalf("conn string %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "mode=ro") {
		t.Fatalf("conn string %q should not be read-only", got)
	}
}

func TestSQLiteConnStringReadOnly(t *testing.T) {
	got := SQLiteConnString("/tmp/gao_dev.db", true)
	if !strings.Contains(got, "mode=ro") {
		t.Fatalf("read-only conn string %q missing mode=ro", got)
	}
}

func TestSQLiteConnStringHonorsEnvTimeout(t *testing.T) {
	t.Setenv("GAODEV_LOCK_TIMEOUT", "5s")
	got := SQLiteConnString("/tmp/gao_dev.db", false)
	if !strings.Contains(got, "_pragma=busy_timeout(5000)") {
		t.Fatalf("conn string %q should honor GAODEV_LOCK_TIMEOUT=5s", got)
	}
}

func TestSQLiteConnStringPreservesExistingURI(t *testing.T) {
	got := SQLiteConnString("file:/tmp/gao_dev.db?_pragma=busy_timeout(1234)", false)
	if !strings.Contains(got, "_pragma=busy_timeout(1234)") {
		t.Fatalf("conn string %q should not override an explicit busy_timeout pragma", got)
	}
	if strings.Count(got, "_pragma=busy_timeout") != 1 {
		t.Fatalf("conn string %q has duplicate busy_timeout pragmas", got)
	}
}
