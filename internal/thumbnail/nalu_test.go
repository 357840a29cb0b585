package thumbnail

import (
	"bytes"
	"testing"
)

func TestIsKeyFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{
			"SPS single NALU returns true",
			[]byte{0x27, 0x90, 0x90},
			true,
		},
		{
			"SPS packetized with STAP-A returns true",
			[]byte{0x38, 0x00, 0x03, 0x27, 0x90, 0x90, 0x00, 0x05, 0x28, 0x90, 0x90, 0x90, 0x90},
			true,
		},
		{
			"non-IDR slice single NALU returns false",
			[]byte{0x21, 0x90, 0x90},
			false,
		},
	}

	for _, tt := range tests {
		got := isKeyFrame(tt.payload)
		if got != tt.want {
			t.Errorf("%s: isKeyFrame() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAssemblerDiscardsBeforeKeyFrame(t *testing.T) {
	a := &assembler{}
	a.push([]byte{0x21, 0x90, 0x90}) // non-IDR slice, no keyframe seen yet
	if got := a.takeAccessUnit(); got != nil {
		t.Fatalf("expected nothing buffered before keyframe, got %v", got)
	}
}

func TestAssemblerSingleNALU(t *testing.T) {
	a := &assembler{}
	a.push([]byte{0x27, 0x90, 0x90})
	got := a.takeAccessUnit()
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x27, 0x90, 0x90}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAssemblerSTAPA(t *testing.T) {
	a := &assembler{}
	a.push([]byte{0x38, 0x00, 0x03, 0x27, 0x90, 0x90, 0x00, 0x05, 0x28, 0x90, 0x90, 0x90, 0x90})
	got := a.takeAccessUnit()
	want := []byte{
		0x00, 0x00, 0x00, 0x01, 0x27, 0x90, 0x90,
		0x00, 0x00, 0x00, 0x01, 0x28, 0x90, 0x90, 0x90, 0x90,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAssemblerFUA(t *testing.T) {
	a := &assembler{}
	a.push([]byte{0x3C, 0x85, 0x90, 0x90, 0x90}) // FU-A start, reconstructed type=IDR(5)
	if got := a.takeAccessUnit(); got != nil {
		t.Fatalf("expected nothing buffered until FU-A end fragment, got %v", got)
	}
	a.push([]byte{0x3C, 0x45, 0x90, 0x90, 0x90}) // FU-A end
	got := a.takeAccessUnit()
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x25, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
