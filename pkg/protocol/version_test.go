package protocol

import (
	"errors"
	"testing"
)

func TestVersionString(t *testing.T) {
	if got := V1_0.String(); got != "1.0" {
		t.Errorf("V1_0.String() = %q, want %q", got, "1.0")
	}
	if got := Version(0x020A).String(); got != "2.10" {
		t.Errorf("Version(0x020A).String() = %q, want %q", got, "2.10")
	}
}

func TestNegotiateVersion(t *testing.T) {
	v2_0 := Version(0x0200)

	tests := []struct {
		name    string
		local   []Version
		offered []Version
		want    Version
		wantErr error
	}{
		{"single mutual", []Version{V1_0}, []Version{V1_0}, V1_0, nil},
		{"picks highest mutual", []Version{V1_0, v2_0}, []Version{v2_0, V1_0}, v2_0, nil},
		{"ignores unknown offers", []Version{V1_0}, []Version{v2_0, V1_0}, V1_0, nil},
		{"disjoint", []Version{V1_0}, []Version{v2_0}, 0, ErrNoCommonVersion},
		{"empty offer", []Version{V1_0}, nil, 0, ErrNoCommonVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NegotiateVersion(tt.local, tt.offered)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NegotiateVersion() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NegotiateVersion() = %s, want %s", got, tt.want)
			}
		})
	}
}
