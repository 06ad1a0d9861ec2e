package zip

import (
	archivezip "archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "classic_rectangular_on_face", MIME: "image/png", Data: []byte("png bytes")},
		{Filename: "modern_round_product", MIME: "image/jpeg", Data: []byte("jpg bytes")},
		{Filename: "skipped", MIME: "image/png", Data: nil},
		{Filename: "raw", MIME: "application/octet-stream", Data: []byte("blob")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets: %v", err)
	}

	reader, err := archivezip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}

	want := map[string]string{
		"classic_rectangular_on_face.png": "png bytes",
		"modern_round_product.jpg":        "jpg bytes",
		"raw":                             "blob",
	}
	if len(reader.File) != len(want) {
		t.Fatalf("archive has %d entries, want %d", len(reader.File), len(want))
	}
	for _, f := range reader.File {
		wantContent, ok := want[f.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		content, _ := io.ReadAll(rc)
		rc.Close()
		if string(content) != wantContent {
			t.Fatalf("%s content = %q, want %q", f.Name, content, wantContent)
		}
	}
}

func TestArchiveAssetsEmpty(t *testing.T) {
	data, err := ArchiveAssets(nil)
	if err != nil {
		t.Fatal(err)
	}
	reader, err := archivezip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open empty archive: %v", err)
	}
	if len(reader.File) != 0 {
		t.Fatalf("empty archive has %d entries", len(reader.File))
	}
}
