package selfmount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/retros/internal/pkgmeta"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
)

// fakeImages writes a deterministic image of the requested size starting
// with the squashfs magic.
type fakeImages struct {
	size  int
	err   error
	calls int
}

func (f *fakeImages) BuildImage(ctx context.Context, sourcePath, packageName string, d *pkgmeta.Descriptor, outputPath string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	data := fakeImageBytes(f.size)
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return "", err
	}
	return outputPath, nil
}

func fakeImageBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	copy(data, "hsqs")
	return data
}

func TestRender_OffsetInvariant(t *testing.T) {
	tests := []struct {
		name string
		pkg  string
		size int64
	}{
		{"zero_size", "a", 0},
		{"single_digit_size", "keen4", 7},
		{"ten_mib", "doom", 10 << 20},
		{"huge_size", "x.y+z_1-2", 1 << 50},
		{"long_name", strings.Repeat("n", 200), 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub, offset, err := Render(DefaultTemplate(), tt.pkg, tt.size)
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if int64(len(stub)) != offset {
				t.Errorf("offset %d != stub length %d", offset, len(stub))
			}
			if !bytes.Contains(stub, []byte(fmt.Sprintf("RETROS_IMAGE_OFFSET=$((10#%020d))", offset))) {
				t.Errorf("expected zero-padded offset %d in stub", offset)
			}
			if !bytes.Contains(stub, []byte(fmt.Sprintf("RETROS_IMAGE_SIZE=%d\n", tt.size))) {
				t.Errorf("expected size %d in stub", tt.size)
			}
			if !bytes.Contains(stub, []byte(`RETROS_PACKAGE_NAME="`+tt.pkg+`"`)) {
				t.Errorf("expected package name %s in stub", tt.pkg)
			}
			for _, token := range []string{TokenName, TokenSize, TokenOffset} {
				if bytes.Contains(stub, []byte(token)) {
					t.Errorf("token %s left in stub", token)
				}
			}
			if !bytes.HasSuffix(stub, []byte("__RETROS_IMAGE__\n")) {
				t.Error("expected stub to end with the image marker line")
			}
		})
	}
}

func TestRender_StubLengthTracksSizeDigits(t *testing.T) {
	_, small, err := Render(DefaultTemplate(), "doom", 9)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	_, large, err := Render(DefaultTemplate(), "doom", 10)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if large != small+1 {
		t.Errorf("expected one extra byte for a two-digit size, got %d vs %d", large, small)
	}
}

func TestRender_InvalidName(t *testing.T) {
	for _, name := range []string{"", "has space", "quote\"d", "$(rm -rf)", "-flag", "new\nline"} {
		if _, _, err := Render(DefaultTemplate(), name, 1); !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name    string
		tpl     string
		wantErr bool
	}{
		{"default", string(DefaultTemplate()), false},
		{"minimal", "$PACKAGE_NAME$ $SQUASHFS_SIZE$ $SQUASHFS_OFFSET$\n", false},
		{"missing_offset", "$PACKAGE_NAME$ $SQUASHFS_SIZE$\n", true},
		{"missing_name", "$SQUASHFS_SIZE$ $SQUASHFS_OFFSET$\n", true},
		{"duplicate_size", "$PACKAGE_NAME$ $SQUASHFS_SIZE$ $SQUASHFS_SIZE$ $SQUASHFS_OFFSET$\n", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplate([]byte(tt.tpl))
			if tt.wantErr && !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("expected ErrInvalidTemplate, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadTemplate(filepath.Join(dir, "missing.sh")); !errors.Is(err, errkind.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	bad := filepath.Join(dir, "bad.sh")
	if err := os.WriteFile(bad, []byte("#!/bin/sh\necho $PACKAGE_NAME$\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTemplate(bad); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got %v", err)
	}

	good := filepath.Join(dir, "good.sh")
	if err := os.WriteFile(good, DefaultTemplate(), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTemplate(good); err != nil {
		t.Errorf("expected default template to load, got %v", err)
	}
}

func TestBuildSelfMounting_TenMiBImage(t *testing.T) {
	const imageSize = 10 << 20
	images := &fakeImages{size: imageSize}
	b := &Builder{Images: images, TempDir: t.TempDir()}
	out := filepath.Join(t.TempDir(), "doom.run")

	path, err := b.BuildSelfMounting(context.Background(), "./doom", "doom", pkgmeta.New("doom", "./doom"), out)
	if err != nil {
		t.Fatalf("BuildSelfMounting failed: %v", err)
	}
	if path != out {
		t.Errorf("expected %s, got %s", out, path)
	}

	stub, offset, err := Render(DefaultTemplate(), "doom", imageSize)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != int64(len(stub))+imageSize {
		t.Errorf("expected total size %d, got %d", int64(len(stub))+imageSize, info.Size())
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("expected mode 0755, got %o", info.Mode().Perm())
	}

	img, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage failed: %v", err)
	}
	defer img.Close()

	if img.Header.Offset != offset || img.Header.Offset != int64(len(stub)) {
		t.Errorf("expected offset %d, got %d", offset, img.Header.Offset)
	}
	if img.Header.Size != imageSize {
		t.Errorf("expected size %d, got %d", imageSize, img.Header.Size)
	}
	if img.Header.Name != "doom" {
		t.Errorf("expected name doom, got %s", img.Header.Name)
	}

	magic := make([]byte, 4)
	if _, err := img.ReadAt(magic, 0); err != nil {
		t.Fatalf("failed to read magic: %v", err)
	}
	if string(magic) != "hsqs" {
		t.Errorf("expected squashfs magic at offset, got %q", magic)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw[:offset], stub) {
		t.Error("stub segment differs from rendered stub")
	}
	if !bytes.Equal(raw[offset:], fakeImageBytes(imageSize)) {
		t.Error("image segment differs from built image")
	}
}

func TestBuildSelfMounting_CleansUpOnFailure(t *testing.T) {
	tempDir := t.TempDir()
	buildErr := fmt.Errorf("mksquashfs: %w", errkind.ErrToolFailed)
	b := &Builder{Images: &fakeImages{err: buildErr}, TempDir: tempDir}
	out := filepath.Join(t.TempDir(), "doom.run")

	_, err := b.BuildSelfMounting(context.Background(), "./doom", "doom", nil, out)
	if !errors.Is(err, errkind.ErrToolFailed) {
		t.Errorf("expected ErrToolFailed, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("expected no executable after failed build")
	}
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Errorf("expected work directory removed, found %d entries", len(entries))
	}
}

func TestBuildSelfMounting_InvalidInputs(t *testing.T) {
	images := &fakeImages{size: 16}

	b := &Builder{Images: images, Template: []byte("no tokens"), TempDir: t.TempDir()}
	if _, err := b.BuildSelfMounting(context.Background(), "src", "doom", nil, ""); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got %v", err)
	}

	b = &Builder{Images: images, TempDir: t.TempDir()}
	if _, err := b.BuildSelfMounting(context.Background(), "src", "bad name", nil, ""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if images.calls != 0 {
		t.Errorf("expected no image built for invalid input, got %d builds", images.calls)
	}
}

func TestReadHeader_CustomTemplate(t *testing.T) {
	tpl := []byte("#!/bin/sh\n# $PACKAGE_NAME$\nsize=$SQUASHFS_SIZE$\noffset=$SQUASHFS_OFFSET$\nexit 0\n")
	b := &Builder{Images: &fakeImages{size: 4096}, Template: tpl, TempDir: t.TempDir()}
	out := filepath.Join(t.TempDir(), "keen.run")

	if _, err := b.BuildSelfMounting(context.Background(), "src", "keen", nil, out); err != nil {
		t.Fatalf("BuildSelfMounting failed: %v", err)
	}
	stub, offset, _ := Render(tpl, "keen", 4096)

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	h, err := ReadHeader(f, int64(len(stub))+4096)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.Offset != offset || h.Size != 4096 {
		t.Errorf("expected offset %d size 4096, got %d/%d", offset, h.Offset, h.Size)
	}
	if h.Name != "" {
		t.Errorf("expected no name from custom template, got %q", h.Name)
	}
}

func TestReadHeader_NotAnExecutable(t *testing.T) {
	data := fakeImageBytes(1024)
	if _, err := ReadHeader(bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("expected ErrInvalidLayout, got %v", err)
	}
}

func TestReadHeader_Truncated(t *testing.T) {
	stub, _, err := Render(DefaultTemplate(), "doom", 2048)
	if err != nil {
		t.Fatal(err)
	}
	data := append(stub, fakeImageBytes(1000)...)
	if _, err := ReadHeader(bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("expected ErrInvalidLayout for truncated image, got %v", err)
	}
}

func TestExtractImage(t *testing.T) {
	b := &Builder{Images: &fakeImages{size: 8192}, TempDir: t.TempDir()}
	dir := t.TempDir()
	out, err := b.BuildSelfMounting(context.Background(), "src", "keen4", nil, filepath.Join(dir, "keen4.run"))
	if err != nil {
		t.Fatalf("BuildSelfMounting failed: %v", err)
	}

	dst := filepath.Join(dir, "keen4.squashfs")
	h, err := ExtractImage(out, dst)
	if err != nil {
		t.Fatalf("ExtractImage failed: %v", err)
	}
	if h.Size != 8192 {
		t.Errorf("expected size 8192, got %d", h.Size)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, fakeImageBytes(8192)) {
		t.Error("extracted image differs from built image")
	}

	if _, err := ExtractImage(filepath.Join(dir, "missing.run"), dst); !errors.Is(err, errkind.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStub_InfoAndExtract(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}
	for _, tool := range []string{"tail", "head", "readlink"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}

	b := &Builder{Images: &fakeImages{size: 5000}, TempDir: t.TempDir()}
	dir := t.TempDir()
	out, err := b.BuildSelfMounting(context.Background(), "src", "doom", nil, filepath.Join(dir, "doom.run"))
	if err != nil {
		t.Fatalf("BuildSelfMounting failed: %v", err)
	}
	_, offset, _ := Render(DefaultTemplate(), "doom", 5000)

	info, err := exec.Command(bash, out, "--info").Output()
	if err != nil {
		t.Fatalf("stub --info failed: %v", err)
	}
	if !strings.Contains(string(info), fmt.Sprintf("offset: %d\n", offset)) {
		t.Errorf("expected offset %d in stub output, got:\n%s", offset, info)
	}

	extracted := filepath.Join(dir, "out.squashfs")
	if err := exec.Command(bash, out, "--extract", extracted).Run(); err != nil {
		t.Fatalf("stub --extract failed: %v", err)
	}
	data, err := os.ReadFile(extracted)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, fakeImageBytes(5000)) {
		t.Error("image extracted by the stub differs from built image")
	}
}

func oversizedTemplate() []byte {
	padding := strings.Repeat("#\n", MaxStubSize/2)
	return []byte("#!/bin/sh\n" + padding + "# $PACKAGE_NAME$\nsize=$SQUASHFS_SIZE$\noffset=$SQUASHFS_OFFSET$\nexit 0\n")
}

func TestRender_StubLimit(t *testing.T) {
	_, _, err := Render(oversizedTemplate(), "keen", 4096)
	if !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	if !strings.Contains(err.Error(), fmt.Sprint(MaxStubSize)) {
		t.Errorf("expected error to name the %d byte limit, got %v", MaxStubSize, err)
	}

	b := &Builder{Images: &fakeImages{size: 4096}, Template: oversizedTemplate(), TempDir: t.TempDir()}
	out := filepath.Join(t.TempDir(), "keen.run")
	if _, err := b.BuildSelfMounting(context.Background(), "src", "keen", nil, out); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate from build, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no executable for oversized stub, stat err %v", err)
	}
}

func TestReadHeader_OffsetBeyondScanLimit(t *testing.T) {
	padding := bytes.Repeat([]byte("#\n"), MaxStubSize/2)
	stubLen := len(padding) + len("offset=") + OffsetWidth + 1
	data := append(padding, []byte(fmt.Sprintf("offset=%0*d\n", OffsetWidth, stubLen))...)
	data = append(data, fakeImageBytes(2048)...)

	_, err := ReadHeader(bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
	if !strings.Contains(err.Error(), fmt.Sprint(MaxStubSize)) {
		t.Errorf("expected error to name the %d byte limit, got %v", MaxStubSize, err)
	}
}
