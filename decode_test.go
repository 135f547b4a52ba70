package unlocker

import "testing"

func TestDecodeLoadAddress(t *testing.T) {
	tests := []struct {
		name string
		code string
		ea   uintptr
		arch Arch
		want uintptr
	}{
		{"rip forward", "48 8B 05 10 00 00 00 48 83 C4 28", 0x1000, Arch64, 0x1017},
		{"rip backward", "48 8B 05 F0 FF FF FF 48 83 C4 48 C3", 0x1000, Arch64, 0xff7},
		{"abs32", "A1 78 56 34 12 8B 4D F4", 0x401000, Arch32, 0x12345678},
		{"abs32 high", "A1 21 43 65 87 8B 4D F4", 0x401000, Arch32, 0x87654321},
	}
	for _, tt := range tests {
		got, err := decodeLoadAddress(hexBytes(tt.code), tt.ea, tt.arch)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: decodeLoadAddress() = %x, want %x", tt.name, got, tt.want)
		}
	}
}

func TestDecodeLoadAddressRejectsOtherInstructions(t *testing.T) {
	if _, err := decodeLoadAddress(hexBytes("90 90 90 90 90 90 90 90"), 0x1000, Arch64); err == nil {
		t.Fatal("nop decoded as a load")
	}
}

func TestDecodeCallTarget(t *testing.T) {
	got, err := decodeCallTarget(hexBytes("E8 FB 00 00 00"), 0x1000, Arch64)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x1100 {
		t.Fatalf("decodeCallTarget() = %x, want 1100", got)
	}

	got, err = decodeCallTarget(hexBytes("E8 F6 FF FF FF"), 0x401000, Arch32)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x400ffb {
		t.Fatalf("decodeCallTarget() = %x, want 400ffb", got)
	}
}

func TestDecodeCallTargetRejectsJump(t *testing.T) {
	if _, err := decodeCallTarget(hexBytes("E9 00 00 00 00"), 0x1000, Arch64); err == nil {
		t.Fatal("jmp decoded as a call")
	}
}
