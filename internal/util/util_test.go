// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	data := []byte("hello, world!")

	if err := AtomicWriteFile(path, data, 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "deep", "test.txt")

	if err := AtomicWriteFile(path, []byte("test data"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	if err := AtomicWriteFile(path, []byte("initial"), 0644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("replacement"), 0644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "replacement" {
		t.Errorf("Content = %q, want %q", string(content), "replacement")
	}
}

func TestAtomicWriteFile_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.txt")

	if err := AtomicWriteFile(path, []byte("token"), 0600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Mode = %o, want 0600", info.Mode().Perm())
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes_ASCII(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"hello", 0, ""},
		{"", 5, ""},
	}
	for _, tc := range cases {
		if got := TruncateRunes(tc.in, tc.max); got != tc.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestTruncateRunes_UTF8(t *testing.T) {
	// 6 characters, 18 bytes. Byte-based truncation would corrupt it.
	in := "日本語テスト文"
	got := TruncateRunes(in, 5)
	if got != "日本..." {
		t.Errorf("TruncateRunes = %q", got)
	}
	if TruncateRunes(in, 10) != in {
		t.Error("string within limit must be unchanged")
	}
}

func TestTruncateWidth(t *testing.T) {
	if got := TruncateWidth("hello world", 8); got != "hello..." {
		t.Errorf("TruncateWidth = %q", got)
	}
	// CJK characters are two columns wide.
	if got := StringWidth("日本"); got != 4 {
		t.Errorf("StringWidth = %d, want 4", got)
	}
	got := TruncateWidth("日本語テスト", 9)
	if StringWidth(got) > 9 {
		t.Errorf("TruncateWidth result %q wider than 9 columns", got)
	}
}

func TestPadWidth(t *testing.T) {
	got := PadWidth("ab", 5)
	if got != "ab   " {
		t.Errorf("PadWidth = %q", got)
	}
	if w := StringWidth(PadWidth("日本語テスト文", 6)); w != 6 {
		t.Errorf("padded width = %d, want 6", w)
	}
}

func TestRuneLen(t *testing.T) {
	if RuneLen("hello") != 5 {
		t.Error("ASCII rune length")
	}
	if RuneLen("日本語") != 3 {
		t.Error("CJK rune length")
	}
}
