package middleware

import (
	"strings"
	"testing"
)

// FuzzCookieDecode feeds arbitrary cookie values to the verifier. Nothing
// but the codec's own output may decode, and nothing may panic.
func FuzzCookieDecode(f *testing.F) {
	codec, err := NewCookieCodec(testSecret)
	if err != nil {
		f.Fatal(err)
	}
	valid := codec.Encode("refreshToken", "token-value")
	f.Add(valid)
	f.Add("")
	f.Add(".")
	f.Add("..")
	f.Add("dG9rZW4.")
	f.Add("." + strings.Repeat("A", 43))
	f.Add(valid[:len(valid)-1])
	f.Add(strings.Replace(valid, ".", "..", 1))
	f.Add("!!!not-base64!!!.also-not")

	f.Fuzz(func(t *testing.T, raw string) {
		v, ok := codec.Decode("refreshToken", raw)
		if !ok {
			if v != "" {
				t.Fatalf("rejected value leaked payload %q", v)
			}
			return
		}
		if again := codec.Encode("refreshToken", v); again != raw {
			// base64url without padding has a single canonical form, so any
			// accepted input must be the codec's own encoding.
			t.Fatalf("accepted non-canonical cookie %q (canonical %q)", raw, again)
		}
		if _, ok := codec.Decode("accessToken", raw); ok {
			t.Fatal("signature must bind the cookie name")
		}
	})
}
