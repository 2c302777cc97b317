package imageinspect

import (
	"fmt"
	"io"
	"strings"
)

// RenderText writes a human readable report of s to w.
func RenderText(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "Artifact:      %s\n", s.Path)
	fmt.Fprintf(w, "Kind:          %s\n", s.Kind)
	fmt.Fprintf(w, "Size:          %d bytes\n", s.SizeBytes)
	if s.Transport != "" {
		fmt.Fprintf(w, "Transport:     %s\n", s.Transport)
	}
	if s.Kind == KindExecutable {
		fmt.Fprintf(w, "Stub name:     %s\n", s.StubName)
		fmt.Fprintf(w, "Image offset:  %d\n", s.ImageOffset)
	}
	fmt.Fprintf(w, "Image size:    %d bytes\n", s.ImageSize)

	if sb := s.Superblock; sb != nil {
		fmt.Fprintln(w, "Squashfs:")
		fmt.Fprintf(w, "  version:     %d.%d\n", sb.Major, sb.Minor)
		fmt.Fprintf(w, "  compression: %s\n", sb.Compression)
		fmt.Fprintf(w, "  block size:  %d\n", sb.BlockSize)
		fmt.Fprintf(w, "  inodes:      %d\n", sb.Inodes)
		fmt.Fprintf(w, "  bytes used:  %d\n", sb.BytesUsed)
		fmt.Fprintf(w, "  created:     %s\n", sb.ModTime.Format("2006-01-02 15:04:05 MST"))
	}

	if d := s.Descriptor; d != nil {
		fmt.Fprintf(w, "Package (%s):\n", s.MetadataPath)
		fmt.Fprintf(w, "  name:        %s\n", d.Name)
		fmt.Fprintf(w, "  version:     %s\n", d.Version)
		fmt.Fprintf(w, "  description: %s\n", d.Description)
		fmt.Fprintf(w, "  emulator:    %s (%s)\n", d.Emulator, d.EmulatorPath)
		if len(d.EmulatorArgs) > 0 {
			fmt.Fprintf(w, "  args:        %s\n", strings.Join(d.EmulatorArgs, " "))
		}
		fmt.Fprintf(w, "  game path:   %s\n", d.GamePathInPackage)
		fmt.Fprintf(w, "  run command: %s\n", d.RunCommand)
		fmt.Fprintf(w, "  source:      %s\n", d.OriginalSourceName)
		if len(d.Dependencies) > 0 {
			fmt.Fprintf(w, "  depends:     %s\n", strings.Join(d.Dependencies, ", "))
		} else {
			fmt.Fprintf(w, "  depends:     (none)\n")
		}
	}

	if len(s.Notes) > 0 {
		fmt.Fprintln(w, "Notes:")
		for _, n := range s.Notes {
			fmt.Fprintf(w, "  - %s\n", n)
		}
	}
}
