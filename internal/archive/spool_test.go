package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSpool_RoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewSpool(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	ctx := context.Background()
	payload := bytes.Repeat([]byte("<Param name=\"AlertType\" value=\"Preliminary\"/>"), 50)

	if err := s.Accepted(ctx, "ivo://gwnet/LVC#S230522n-1-Preliminary", payload); err != nil {
		t.Fatalf("Accepted: %v", err)
	}
	got, err := s.Read("ivo://gwnet/LVC#S230522n-1-Preliminary")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch after round trip")
	}

	if err := s.Failed(ctx, "01HZX3Q", []byte("garbage")); err != nil {
		t.Fatalf("Failed: %v", err)
	}
	got, err = s.ReadFailed("01HZX3Q")
	if err != nil {
		t.Fatalf("ReadFailed: %v", err)
	}
	if string(got) != "garbage" {
		t.Errorf("failed payload = %q", got)
	}
}

func TestSpool_CompressesOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewSpool(dir)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	if err := s.Accepted(context.Background(), "ivo://x/Y#z", payload); err != nil {
		t.Fatalf("Accepted: %v", err)
	}

	st, err := os.Stat(filepath.Join(dir, acceptedDir, "x_Y_z"+ext))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() >= int64(len(payload)) {
		t.Errorf("spooled size %d not smaller than payload %d", st.Size(), len(payload))
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"ivo://gwnet/LVC#S230522n-1-Preliminary", "gwnet_LVC_S230522n-1-Preliminary"},
		{"ivo://nasa.gsfc.gcn/Fermi#GBM_Fin_Pos2023-05-01T12:34:56.78_704723701_0-001", "nasa.gsfc.gcn_Fermi_GBM_Fin_Pos2023-05-01T12-34-56.78_704723701_0-001"},
		{"../../etc/passwd", "____etc_passwd"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := fileName(tt.in); got != tt.want {
			t.Errorf("fileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
