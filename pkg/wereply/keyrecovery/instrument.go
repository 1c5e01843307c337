package keyrecovery

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment overrides for the instrumentation helper.
const (
	// EnvInstrumentBin points at the frida executable.
	EnvInstrumentBin = "WEREPLY_FRIDA_BIN"
	// EnvTargetProcess overrides the client process name.
	EnvTargetProcess = "WEREPLY_WECHAT_PROCESS"
	// EnvTargetPID pins the client PID, skipping process discovery.
	EnvTargetPID = "WEREPLY_WECHAT_PID"
)

const (
	defaultProcessName = "WeChat"

	// keyMarker prefixes the hex key in the interceptor script output.
	keyMarker = "WECHAT_DB_KEY:"
	// rawKeyMarker is emitted by older helper script revisions.
	rawKeyMarker = "RAW KEY CAPTURED:"

	// chooseTimeout bounds the in-memory object lookup; it either finds
	// the key object immediately or never will.
	chooseTimeout = 4 * time.Second
	// interceptTimeout bounds the KDF interceptor, which has to wait for
	// the client to touch a database.
	interceptTimeout = 120 * time.Second
)

// chooseScript reads the key straight out of the client's key holder
// object. Works only while the object is alive in memory.
const chooseScript = `
if (ObjC.available) {
  var cls = ObjC.classes.DBEncryptInfo;
  if (cls) {
    var inst = ObjC.chooseSync(cls)[0];
    if (inst) {
      var data = inst['- m_dbEncryptKey']();
      if (data) {
        console.log(hexdump(data.bytes(), { offset: 0, length: data.length(), header: false, ansi: false }));
      }
    }
  }
}
`

// interceptScript hooks the system KDF and reports the password of any
// derivation that looks like a database key: PBKDF2-SHA512, 32-byte
// output, production iteration counts.
const interceptScript = `
var CCKeyDerivationPBKDF = Module.findExportByName('libcommonCrypto.dylib', 'CCKeyDerivationPBKDF');
if (CCKeyDerivationPBKDF) {
  Interceptor.attach(CCKeyDerivationPBKDF, {
    onEnter: function(args) {
      var algorithm = args[0].toInt32();
      var passwordPtr = args[1];
      var passwordLen = args[2].toInt32();
      var rounds = args[6].toInt32();
      var derivedKeyLen = args[8].toInt32();
      if (algorithm === 2 && derivedKeyLen === 32 && rounds >= 64000 && passwordLen > 0 && passwordLen <= 64) {
        var bytes = [];
        for (var i = 0; i < passwordLen; i++) {
          bytes.push(passwordPtr.add(i).readU8());
        }
        var hex = bytes.map(function(b) { return ('0' + b.toString(16)).slice(-2); }).join('');
        console.log('WECHAT_DB_KEY:' + hex);
      }
    }
  });
}
`

// ErrNoInstrumentBin reports a missing helper executable.
var ErrNoInstrumentBin = errors.New("instrumentation helper not found")

// errNoKeyInOutput reports helper output without usable key material.
var errNoKeyInOutput = errors.New("helper output contains no key")

// Instrumentor pulls the database key out of the running client process
// by attaching the frida helper.
type Instrumentor struct {
	logger *slog.Logger

	// runScript is swapped in tests; the default spawns the helper.
	runScript func(ctx context.Context, script string) (string, error)
}

// NewInstrumentor builds an instrumentor. A nil logger disables logging.
func NewInstrumentor(logger *slog.Logger) *Instrumentor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	inst := &Instrumentor{logger: logger}
	inst.runScript = inst.spawnHelper
	return inst
}

// FetchKey attaches to the client and returns the raw database key. The
// fast in-memory lookup is tried first; when it yields nothing the slow
// KDF interceptor runs until the client touches a database.
func (in *Instrumentor) FetchKey(ctx context.Context) ([]byte, error) {
	chooseCtx, cancel := context.WithTimeout(ctx, chooseTimeout)
	output, err := in.runScript(chooseCtx, chooseScript)
	cancel()
	if err == nil {
		if key, err := ParseKeyOutput(output); err == nil {
			return checkKeyLength(key)
		}
	}

	interceptCtx, cancel := context.WithTimeout(ctx, interceptTimeout)
	defer cancel()
	output, err = in.runScript(interceptCtx, interceptScript)
	if err != nil {
		return nil, err
	}
	key, err := ParseKeyOutput(output)
	if err != nil {
		return nil, err
	}
	return checkKeyLength(key)
}

func checkKeyLength(key []byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("helper produced a %d-byte key, want 16 or 32", len(key))
	}
	return key, nil
}

// spawnHelper runs the helper with script against the resolved target
// and streams its stdout until a key appears, the helper exits, or ctx
// expires. The helper is killed as soon as a key is parsed: the
// interceptor script never exits on its own.
func (in *Instrumentor) spawnHelper(ctx context.Context, script string) (string, error) {
	bin, err := resolveHelperBinary()
	if err != nil {
		return "", err
	}
	args := targetArgs()
	args = append(args, "-e", script, "-q")

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start helper: %w", err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var buf strings.Builder
drain:
	for {
		select {
		case line, open := <-lines:
			if !open {
				break drain
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
			if _, err := ParseKeyOutput(buf.String()); err == nil {
				break drain
			}
		case <-ctx.Done():
			break drain
		}
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	if strings.TrimSpace(buf.String()) == "" {
		return "", fmt.Errorf("helper produced no output: %w", errNoKeyInOutput)
	}
	return buf.String(), nil
}

// ParseKeyOutput extracts key bytes from helper output: a marker line
// first, then a hexdump fallback that collects standalone hex byte
// tokens.
func ParseKeyOutput(output string) ([]byte, error) {
	for _, marker := range []string{keyMarker, rawKeyMarker} {
		if key, ok, err := keyFromMarkerLine(output, marker); ok {
			return key, err
		}
	}

	var raw []byte
	for _, token := range strings.Fields(output) {
		if len(token) != 2 || !isHex(token) {
			continue
		}
		b, err := strconv.ParseUint(token, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("hexdump token %q: %w", token, err)
		}
		raw = append(raw, byte(b))
	}
	if len(raw) >= 32 {
		return raw[:32], nil
	}
	if len(raw) >= 16 {
		return raw[:16], nil
	}
	return nil, errNoKeyInOutput
}

func keyFromMarkerLine(output, marker string) ([]byte, bool, error) {
	for _, line := range strings.Split(output, "\n") {
		pos := strings.Index(line, marker)
		if pos < 0 {
			continue
		}
		encoded := strings.TrimSpace(line[pos+len(marker):])
		if encoded == "" {
			continue
		}
		key, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, true, fmt.Errorf("marker line %q: %w", marker, err)
		}
		return key, true, nil
	}
	return nil, false, nil
}

func isHex(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'f', ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}

// resolveHelperBinary finds the frida executable: env override, PATH,
// then the usual install locations.
func resolveHelperBinary() (string, error) {
	if path := os.Getenv(EnvInstrumentBin); path != "" {
		if fileExists(path) {
			return path, nil
		}
	}
	if path, err := exec.LookPath("frida"); err == nil {
		return path, nil
	}
	candidates := []string{"/opt/homebrew/bin/frida", "/usr/local/bin/frida"}
	if home, err := os.UserHomeDir(); err == nil {
		for _, ver := range []string{"3.12", "3.11", "3.10", "3.9"} {
			candidates = append(candidates, filepath.Join(home, "Library/Python", ver, "bin/frida"))
		}
	}
	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoInstrumentBin
}

// targetArgs resolves the attach target: pinned PID, then process
// discovery, then attach-by-name.
func targetArgs() []string {
	if pid := os.Getenv(EnvTargetPID); pid != "" {
		if _, err := strconv.ParseUint(pid, 10, 32); err == nil {
			return []string{"-p", pid}
		}
	}
	if pid, ok := resolveClientPID(); ok {
		return []string{"-p", strconv.Itoa(pid)}
	}
	name := os.Getenv(EnvTargetProcess)
	if name == "" {
		name = defaultProcessName
	}
	return []string{"-n", name}
}

// resolveClientPID scans the process table for the client binary. The
// patterns are ordered: the renderer process holds the key material, the
// main process is the fallback.
func resolveClientPID() (int, bool) {
	output, err := exec.Command("ps", "-ax", "-o", "pid=,comm=").Output()
	if err != nil {
		return 0, false
	}
	patterns := []string{
		"WeChatDebug.app/Contents/MacOS/WeChatAppEx",
		"WeChat.app/Contents/MacOS/WeChatAppEx",
		"WeChatDebug.app/Contents/MacOS/WeChat",
		"WeChat.app/Contents/MacOS/WeChat",
	}
	for _, pattern := range patterns {
		for _, line := range strings.Split(string(output), "\n") {
			if !strings.Contains(line, pattern) {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if pid, err := strconv.Atoi(fields[0]); err == nil {
				return pid, true
			}
		}
	}
	return 0, false
}

// SIPEnabled reports whether System Integrity Protection blocks process
// attachment. Unknown when csrutil is unavailable.
func SIPEnabled() (bool, bool) {
	output, err := exec.Command("csrutil", "status").Output()
	if err != nil {
		return false, false
	}
	text := strings.ToLower(string(output))
	if strings.Contains(text, "enabled") {
		return true, true
	}
	if strings.Contains(text, "disabled") {
		return false, true
	}
	return false, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
