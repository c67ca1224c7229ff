package bootstrap

import (
	"encoding/base64"
	"os"
	"testing"
)

func TestAmeInfoDefaults(t *testing.T) {
	for _, v := range []string{"AME_HOST", "AME_PORT", "AME_RANK", "AME_SIZE", "AME_AUTHKEY"} {
		if old, ok := os.LookupEnv(v); ok {
			os.Unsetenv(v)
			t.Cleanup(func(v, old string) func() { return func() { os.Setenv(v, old) } }(v, old))
		}
	}

	info, err := ameInfo()
	if err != nil {
		t.Fatalf("ameInfo: %v", err)
	}
	if info.Host != "127.0.0.1" || info.Port != 12345 || info.Rank != 0 || info.Size != 1 {
		t.Fatalf("info = %+v, want defaults", info)
	}
}

func TestAmeInfoHonorsAuthkeyOverride(t *testing.T) {
	t.Setenv("AME_RANK", "1")
	t.Setenv("AME_SIZE", "2")
	t.Setenv("AME_PORT", "23456")

	var raw [AuthkeyLength]byte
	raw[0] = 0x42
	t.Setenv("AME_AUTHKEY", base64.StdEncoding.EncodeToString(raw[:]))

	info, err := ameInfo()
	if err != nil {
		t.Fatalf("ameInfo: %v", err)
	}
	if info.Authkey != raw {
		t.Fatalf("authkey override was not honored")
	}
	if info.Rank != 1 || info.Size != 2 || info.Port != 23456 {
		t.Fatalf("info = %+v, want rank=1 size=2 port=23456", info)
	}
}

func TestAmeInfoRejectsUnparsableInt(t *testing.T) {
	t.Setenv("AME_PORT", "not-a-number")
	if _, err := ameInfo(); err == nil {
		t.Fatal("expected error for unparsable AME_PORT")
	}
}
