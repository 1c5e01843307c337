package keyrecovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func sequentialKey(n int) []byte {
	key := make([]byte, n)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestParseKeyOutputMarkerLine(t *testing.T) {
	t.Parallel()

	want := sequentialKey(32)
	output := fmt.Sprintf("noise\nWECHAT_DB_KEY: %x\nmore noise", want)

	got, err := ParseKeyOutput(output)
	if err != nil {
		t.Fatalf("ParseKeyOutput() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("key = %x, want %x", got, want)
	}
}

func TestParseKeyOutputLegacyMarker(t *testing.T) {
	t.Parallel()

	want := sequentialKey(16)
	got, err := ParseKeyOutput(fmt.Sprintf("RAW KEY CAPTURED:%x", want))
	if err != nil {
		t.Fatalf("ParseKeyOutput() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("key = %x, want %x", got, want)
	}
}

func TestParseKeyOutputHexdumpFallback(t *testing.T) {
	t.Parallel()

	want := sequentialKey(32)
	var b strings.Builder
	for i, by := range want {
		fmt.Fprintf(&b, "%02x", by)
		if i%16 == 15 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}

	got, err := ParseKeyOutput(b.String())
	if err != nil {
		t.Fatalf("ParseKeyOutput() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("key = %x, want %x", got, want)
	}
}

func TestParseKeyOutputNoKey(t *testing.T) {
	t.Parallel()

	if _, err := ParseKeyOutput("no key here"); err == nil {
		t.Fatal("ParseKeyOutput() accepted output without a key")
	}
}

func TestParseKeyOutputMalformedMarkerHex(t *testing.T) {
	t.Parallel()

	if _, err := ParseKeyOutput("WECHAT_DB_KEY: zznothex"); err == nil {
		t.Fatal("ParseKeyOutput() accepted malformed marker hex")
	}
}

func TestFetchKeyFallsBackToInterceptor(t *testing.T) {
	t.Parallel()

	want := sequentialKey(32)
	calls := 0
	in := NewInstrumentor(nil)
	in.runScript = func(ctx context.Context, script string) (string, error) {
		calls++
		if strings.Contains(script, "chooseSync") {
			return "", errors.New("object not resident")
		}
		return fmt.Sprintf("WECHAT_DB_KEY:%x", want), nil
	}

	got, err := in.FetchKey(context.Background())
	if err != nil {
		t.Fatalf("FetchKey() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("key = %x, want %x", got, want)
	}
	if calls != 2 {
		t.Errorf("helper ran %d times, want 2", calls)
	}
}

func TestFetchKeyFastPath(t *testing.T) {
	t.Parallel()

	want := sequentialKey(32)
	calls := 0
	in := NewInstrumentor(nil)
	in.runScript = func(ctx context.Context, script string) (string, error) {
		calls++
		var b strings.Builder
		for _, by := range want {
			fmt.Fprintf(&b, "%02x ", by)
		}
		return b.String(), nil
	}

	got, err := in.FetchKey(context.Background())
	if err != nil {
		t.Fatalf("FetchKey() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("key = %x, want %x", got, want)
	}
	if calls != 1 {
		t.Errorf("helper ran %d times, want 1", calls)
	}
}

func TestFetchKeyRejectsOddLength(t *testing.T) {
	t.Parallel()

	in := NewInstrumentor(nil)
	in.runScript = func(ctx context.Context, script string) (string, error) {
		return fmt.Sprintf("WECHAT_DB_KEY:%x", sequentialKey(20)), nil
	}

	if _, err := in.FetchKey(context.Background()); err == nil {
		t.Fatal("FetchKey() accepted a 20-byte key")
	}
}
