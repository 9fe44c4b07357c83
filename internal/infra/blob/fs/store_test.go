package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reportsdb/internal/blob/core"
)

func TestPutWritesPlainFileAndMetaTree(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	info, err := s.Put(ctx, "MRK_List1.rpt", strings.NewReader("header\n"), core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"report": "mrk_list1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	data, err := os.ReadFile(filepath.Join(root, "MRK_List1.rpt"))
	if err != nil || string(data) != "header\n" {
		t.Fatalf("expected plain file in output dir: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(root, metaDir, "MRK_List1.rpt.json")); err != nil {
		t.Fatalf("expected metadata under %s: %v", metaDir, err)
	}
	if _, err := os.Stat(filepath.Join(root, "MRK_List1.rpt.meta")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no sidecar expected next to the report")
	}

	again, err := s.Put(ctx, "MRK_List1.rpt", strings.NewReader("rerun\n"), core.PutOptions{})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if again.ETag == info.ETag {
		t.Fatalf("expected new etag after overwrite")
	}
	got, rc, err := s.Get(ctx, "MRK_List1.rpt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "rerun\n" || got.Size != 6 {
		t.Fatalf("unexpected content %q %+v", body, got)
	}
}

func TestListSkipsMetaAndTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, _ := New(root)
	for _, key := range []string{"b.rpt", "a.rpt", "html/a.html"} {
		if _, err := s.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, ".tmp-123"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "legacy.rpt"), []byte("from cron"), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	infos, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, inf := range infos {
		keys = append(keys, inf.Key)
	}
	if strings.Join(keys, ",") != "a.rpt,b.rpt,html/a.html,legacy.rpt" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if infos[3].Size != int64(len("from cron")) {
		t.Fatalf("expected stat fallback size, got %d", infos[3].Size)
	}
	filtered, _ := s.List(ctx, "html/")
	if len(filtered) != 1 {
		t.Fatalf("expected prefix filter, got %+v", filtered)
	}
}

func TestKeyValidationAndMissing(t *testing.T) {
	ctx := context.Background()
	s, _ := New(t.TempDir())
	for _, key := range []string{"", "../etc/passwd", "/abs", ".meta/x.json"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
	if _, _, err := s.Get(ctx, "missing.rpt"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Head(ctx, "missing.rpt"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, err := s.Delete(ctx, "missing.rpt"); ok || err != nil {
		t.Fatalf("expected absent delete, got %v %v", ok, err)
	}
}

func TestPresignURL(t *testing.T) {
	s, _ := New(t.TempDir())
	url, err := s.PresignURL(context.Background(), "MGI.gff3", core.SignedURLOptions{})
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("unexpected url %q %v", url, err)
	}
	if _, err := s.PresignURL(context.Background(), "MGI.gff3", core.SignedURLOptions{Method: "put"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}
