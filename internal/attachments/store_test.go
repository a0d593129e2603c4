package attachments

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/model"
)

func TestSave(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/data", "https://files.example.com/")

	saved, err := store.Save(context.Background(), gateway.AttachmentTarget{IssueID: 7, Ref: "20001"}, []model.Attachment{
		{Filename: "log.txt", Content: []byte("boom")},
		{Filename: "log.txt", Content: []byte("again")},
		{Filename: "../../etc/passwd", Content: []byte("x")},
		{Filename: "", Content: []byte("anon")},
		{Filename: "my report.pdf", Content: []byte("pdf")},
	})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	wantURLs := []string{
		"https://files.example.com/7/20001/log.txt",
		"https://files.example.com/7/20001/log-2.txt",
		"https://files.example.com/7/20001/_.._etc_passwd",
		"https://files.example.com/7/20001/attachment-4",
		"https://files.example.com/7/20001/my%20report.pdf",
	}
	if len(saved) != len(wantURLs) {
		t.Fatalf("Save() returned %d files, want %d", len(saved), len(wantURLs))
	}
	for i, want := range wantURLs {
		if saved[i].URL != want {
			t.Errorf("saved[%d].URL = %q, want %q", i, saved[i].URL, want)
		}
	}
	if saved[1].Filename != "log.txt" {
		t.Errorf("saved[1].Filename = %q, want original name", saved[1].Filename)
	}

	data, err := afero.ReadFile(fs, filepath.Join("/data", "7", "20001", "log-2.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "again" {
		t.Errorf("content = %q, want %q", data, "again")
	}
}

func TestSaveWithoutRef(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/data", "https://files.example.com")

	saved, err := store.Save(context.Background(), gateway.AttachmentTarget{IssueID: 3}, []model.Attachment{
		{Filename: "a.png", Content: []byte{1, 2}},
	})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if saved[0].URL != "https://files.example.com/3/a.png" {
		t.Errorf("URL = %q", saved[0].URL)
	}
	if ok, _ := afero.Exists(fs, filepath.Join("/data", "3", "a.png")); !ok {
		t.Error("file was not written")
	}
}

func TestSaveFileURLs(t *testing.T) {
	store := NewFileStore(afero.NewMemMapFs(), "/data", "")

	saved, err := store.Save(context.Background(), gateway.AttachmentTarget{IssueID: 1}, []model.Attachment{
		{Filename: "x.txt", Content: []byte("x")},
	})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !strings.HasPrefix(saved[0].URL, "file://") || !strings.HasSuffix(saved[0].URL, "/data/1/x.txt") {
		t.Errorf("URL = %q", saved[0].URL)
	}
}

func TestSaveRejectsInvalidIssue(t *testing.T) {
	store := NewFileStore(afero.NewMemMapFs(), "/data", "")
	if _, err := store.Save(context.Background(), gateway.AttachmentTarget{}, nil); err == nil {
		t.Error("expected error for issue id 0")
	}
}
