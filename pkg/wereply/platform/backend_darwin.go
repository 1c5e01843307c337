//go:build darwin && cgo

package platform

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation -framework CoreGraphics
#include <stdlib.h>
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>

static AXUIElementRef ax_app(pid_t pid) {
	return AXUIElementCreateApplication(pid);
}

static CFTypeRef ax_copy_attr(AXUIElementRef el, CFStringRef attr) {
	CFTypeRef value = NULL;
	if (AXUIElementCopyAttributeValue(el, attr, &value) != kAXErrorSuccess) {
		return NULL;
	}
	return value;
}

static int ax_set_string_attr(AXUIElementRef el, CFStringRef attr, CFStringRef value) {
	return (int)AXUIElementSetAttributeValue(el, attr, value);
}

static int ax_set_bool_attr(AXUIElementRef el, CFStringRef attr, int value) {
	return (int)AXUIElementSetAttributeValue(el, attr, value ? kCFBooleanTrue : kCFBooleanFalse);
}

static int ax_frame(AXUIElementRef el, CGPoint *origin, CGSize *size) {
	CFTypeRef posRef = NULL, sizeRef = NULL;
	if (AXUIElementCopyAttributeValue(el, kAXPositionAttribute, &posRef) != kAXErrorSuccess) {
		return 0;
	}
	if (AXUIElementCopyAttributeValue(el, kAXSizeAttribute, &sizeRef) != kAXErrorSuccess) {
		CFRelease(posRef);
		return 0;
	}
	int ok = AXValueGetValue((AXValueRef)posRef, kAXValueTypeCGPoint, origin) &&
		AXValueGetValue((AXValueRef)sizeRef, kAXValueTypeCGSize, size);
	CFRelease(posRef);
	CFRelease(sizeRef);
	return ok;
}

static void post_key(CGKeyCode code, CGEventFlags flags) {
	CGEventRef down = CGEventCreateKeyboardEvent(NULL, code, true);
	CGEventRef up = CGEventCreateKeyboardEvent(NULL, code, false);
	CGEventSetFlags(down, flags);
	CGEventSetFlags(up, flags);
	CGEventPost(kCGHIDEventTap, down);
	CGEventPost(kCGHIDEventTap, up);
	CFRelease(down);
	CFRelease(up);
}

static void post_text(const UniChar *chars, int length) {
	CGEventRef down = CGEventCreateKeyboardEvent(NULL, 0, true);
	CGEventRef up = CGEventCreateKeyboardEvent(NULL, 0, false);
	CGEventKeyboardSetUnicodeString(down, length, chars);
	CGEventKeyboardSetUnicodeString(up, length, chars);
	CGEventPost(kCGHIDEventTap, down);
	CGEventPost(kCGHIDEventTap, up);
	CFRelease(down);
	CFRelease(up);
}

static void post_scroll(double x, double y, int lines) {
	CGEventRef move = CGEventCreateMouseEvent(NULL, kCGEventMouseMoved,
		CGPointMake(x, y), kCGMouseButtonLeft);
	CGEventPost(kCGHIDEventTap, move);
	CFRelease(move);
	CGEventRef wheel = CGEventCreateScrollWheelEvent(NULL, kCGScrollEventUnitLine, 1, lines);
	CGEventPost(kCGHIDEventTap, wheel);
	CFRelease(wheel);
}

static int ax_trusted(void) {
	return AXIsProcessTrusted() ? 1 : 0;
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unsafe"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/keyrecovery"
	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// axElement wraps one retained AXUIElementRef. Handles are live views into
// the client process; nothing is cached across calls.
type axElement struct {
	ref      C.AXUIElementRef
	released bool
}

func newAXElement(ref C.AXUIElementRef) *axElement {
	return &axElement{ref: ref}
}

func cfString(s string) C.CFStringRef {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	return C.CFStringCreateWithCString(C.kCFAllocatorDefault, cs, C.kCFStringEncodingUTF8)
}

func goString(ref C.CFStringRef) string {
	if ref == nil {
		return ""
	}
	if ptr := C.CFStringGetCStringPtr(ref, C.kCFStringEncodingUTF8); ptr != nil {
		return C.GoString(ptr)
	}
	length := C.CFStringGetLength(ref)
	bufLen := C.CFStringGetMaximumSizeForEncoding(length, C.kCFStringEncodingUTF8) + 1
	buf := make([]byte, int(bufLen))
	if C.CFStringGetCString(ref, (*C.char)(unsafe.Pointer(&buf[0])), bufLen, C.kCFStringEncodingUTF8) == 0 {
		return ""
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func (e *axElement) copyStringAttr(attr string) (string, bool) {
	if e.released {
		return "", false
	}
	name := cfString(attr)
	defer C.CFRelease(C.CFTypeRef(name))
	value := C.ax_copy_attr(e.ref, name)
	if value == nil {
		return "", false
	}
	defer C.CFRelease(value)
	if C.CFGetTypeID(value) != C.CFStringGetTypeID() {
		return "", false
	}
	return goString(C.CFStringRef(value)), true
}

func (e *axElement) Role() (string, bool)  { return e.copyStringAttr("AXRole") }
func (e *axElement) Title() (string, bool) { return e.copyStringAttr("AXTitle") }

func (e *axElement) Value() (string, bool) {
	if s, ok := e.copyStringAttr("AXValue"); ok {
		return s, true
	}
	return e.copyStringAttr("AXDescription")
}

func (e *axElement) Frame() (uitree.Rect, bool) {
	if e.released {
		return uitree.Rect{}, false
	}
	var origin C.CGPoint
	var size C.CGSize
	if C.ax_frame(e.ref, &origin, &size) == 0 {
		return uitree.Rect{}, false
	}
	return uitree.Rect{
		X:      float64(origin.x),
		Y:      float64(origin.y),
		Width:  float64(size.width),
		Height: float64(size.height),
	}, true
}

func (e *axElement) Enabled() (bool, bool) {
	if e.released {
		return false, false
	}
	name := cfString("AXEnabled")
	defer C.CFRelease(C.CFTypeRef(name))
	value := C.ax_copy_attr(e.ref, name)
	if value == nil {
		return false, false
	}
	defer C.CFRelease(value)
	if C.CFGetTypeID(value) != C.CFBooleanGetTypeID() {
		return false, false
	}
	return C.CFBooleanGetValue(C.CFBooleanRef(value)) != 0, true
}

func (e *axElement) Focused() bool {
	if e.released {
		return false
	}
	name := cfString("AXFocused")
	defer C.CFRelease(C.CFTypeRef(name))
	value := C.ax_copy_attr(e.ref, name)
	if value == nil {
		return false
	}
	defer C.CFRelease(value)
	return C.CFGetTypeID(value) == C.CFBooleanGetTypeID() &&
		C.CFBooleanGetValue(C.CFBooleanRef(value)) != 0
}

func (e *axElement) Children() []uitree.Element {
	if e.released {
		return nil
	}
	name := cfString("AXChildren")
	defer C.CFRelease(C.CFTypeRef(name))
	value := C.ax_copy_attr(e.ref, name)
	if value == nil {
		return nil
	}
	defer C.CFRelease(value)
	if C.CFGetTypeID(value) != C.CFArrayGetTypeID() {
		return nil
	}
	arr := C.CFArrayRef(value)
	count := int(C.CFArrayGetCount(arr))
	kids := make([]uitree.Element, 0, count)
	for i := 0; i < count; i++ {
		item := C.CFArrayGetValueAtIndex(arr, C.CFIndex(i))
		if item == nil {
			continue
		}
		C.CFRetain(C.CFTypeRef(item))
		kids = append(kids, newAXElement(C.AXUIElementRef(item)))
	}
	return kids
}

func (e *axElement) SetValue(text string) error {
	if e.released {
		return fmt.Errorf("element released: %w", uitree.ErrUnsupported)
	}
	name := cfString("AXValue")
	defer C.CFRelease(C.CFTypeRef(name))
	value := cfString(text)
	defer C.CFRelease(C.CFTypeRef(value))
	if status := C.ax_set_string_attr(e.ref, name, value); status != 0 {
		return fmt.Errorf("set AXValue failed (status %d): %w", int(status), uitree.ErrUnsupported)
	}
	return nil
}

func (e *axElement) Focus() error {
	if e.released {
		return fmt.Errorf("element released: %w", uitree.ErrUnsupported)
	}
	name := cfString("AXFocused")
	defer C.CFRelease(C.CFTypeRef(name))
	if status := C.ax_set_bool_attr(e.ref, name, 1); status != 0 {
		return fmt.Errorf("focus failed (status %d): %w", int(status), uitree.ErrUnsupported)
	}
	return nil
}

// ScrollDown posts a line scroll-wheel event at the element's center.
// AX exposes no reliable end-of-content signal, so moved is always true
// and the paginated scanner's dedup pass bounds the walk.
func (e *axElement) ScrollDown() (bool, error) {
	frame, ok := e.Frame()
	if !ok {
		return false, fmt.Errorf("element has no frame: %w", uitree.ErrUnsupported)
	}
	C.post_scroll(C.double(frame.CenterX()), C.double(frame.Y+frame.Height/2), C.int(-5))
	time.Sleep(80 * time.Millisecond)
	return true, nil
}

func (e *axElement) Release() {
	if e.released {
		return
	}
	e.released = true
	C.CFRelease(C.CFTypeRef(e.ref))
}

// cgKeyboard synthesizes keystrokes through the HID event tap.
type cgKeyboard struct{}

// Virtual key codes from Carbon's Events.h for the chords and letters the
// engine sends.
var keyCodes = map[string]int{
	"a": 0x00, "b": 0x0B, "c": 0x08, "d": 0x02, "e": 0x0E, "f": 0x03,
	"g": 0x05, "h": 0x04, "i": 0x22, "j": 0x26, "k": 0x28, "l": 0x25,
	"m": 0x2E, "n": 0x2D, "o": 0x1F, "p": 0x23, "q": 0x0C, "r": 0x0F,
	"s": 0x01, "t": 0x11, "u": 0x20, "v": 0x09, "w": 0x0D, "x": 0x07,
	"y": 0x10, "z": 0x06,
	"return": 0x24, "enter": 0x24, "tab": 0x30, "space": 0x31,
	"backspace": 0x33, "delete": 0x33, "escape": 0x35, "esc": 0x35,
	"left": 0x7B, "right": 0x7C, "down": 0x7D, "up": 0x7E,
}

func (cgKeyboard) SendKeys(chord string) error {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(chord)), "+")
	if len(parts) == 0 {
		return fmt.Errorf("empty chord")
	}
	var flags C.CGEventFlags
	for _, mod := range parts[:len(parts)-1] {
		switch mod {
		case "cmd", "command":
			flags |= C.kCGEventFlagMaskCommand
		case "ctrl", "control":
			flags |= C.kCGEventFlagMaskControl
		case "alt", "option":
			flags |= C.kCGEventFlagMaskAlternate
		case "shift":
			flags |= C.kCGEventFlagMaskShift
		default:
			return fmt.Errorf("unknown modifier %q in chord %q", mod, chord)
		}
	}
	code, ok := keyCodes[parts[len(parts)-1]]
	if !ok {
		return fmt.Errorf("unknown key %q in chord %q", parts[len(parts)-1], chord)
	}
	C.post_key(C.CGKeyCode(code), flags)
	time.Sleep(30 * time.Millisecond)
	return nil
}

func (cgKeyboard) SendText(text string) error {
	units := utf16.Encode([]rune(text))
	// CGEventKeyboardSetUnicodeString truncates long strings; send in
	// small batches.
	const batch = 16
	for start := 0; start < len(units); start += batch {
		end := start + batch
		if end > len(units) {
			end = len(units)
		}
		chunk := units[start:end]
		C.post_text((*C.UniChar)(unsafe.Pointer(&chunk[0])), C.int(len(chunk)))
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

// axBackend drives the client through the macOS accessibility API.
type axBackend struct {
	logger *slog.Logger
}

func newTreeBackend(logger *slog.Logger) (automation.Backend, error) {
	if C.ax_trusted() == 0 {
		return nil, fmt.Errorf("accessibility permission not granted; enable it in System Settings > Privacy & Security")
	}
	return &axBackend{logger: logger}, nil
}

// FrontWindow resolves the client pid and returns its focused window, or
// the first window when none has focus.
func (b *axBackend) FrontWindow() (uitree.Element, error) {
	pid, err := clientWindowPID()
	if err != nil {
		return nil, fmt.Errorf("client process: %v: %w", err, automation.ErrNotFound)
	}
	app := C.ax_app(C.pid_t(pid))
	if app == nil {
		return nil, fmt.Errorf("no accessibility element for pid %d: %w", pid, automation.ErrNotFound)
	}
	appEl := newAXElement(app)
	defer appEl.Release()

	name := cfString("AXFocusedWindow")
	value := C.ax_copy_attr(appEl.ref, name)
	C.CFRelease(C.CFTypeRef(name))
	if value != nil {
		return newAXElement(C.AXUIElementRef(value)), nil
	}

	var window uitree.Element
	for _, kid := range appEl.Children() {
		if role, ok := kid.Role(); window == nil && ok && role == "AXWindow" {
			window = kid
			continue
		}
		kid.Release()
	}
	if window == nil {
		return nil, fmt.Errorf("client has no window: %w", automation.ErrNotFound)
	}
	return window, nil
}

// clientWindowPID finds the pid owning the client's windows: the main app
// process, never the renderer. WEREPLY_WECHAT_PID pins it outright.
func clientWindowPID() (int, error) {
	if pin := os.Getenv(keyrecovery.EnvTargetPID); pin != "" {
		pid, err := strconv.Atoi(pin)
		if err != nil {
			return 0, fmt.Errorf("bad %s value %q", keyrecovery.EnvTargetPID, pin)
		}
		return pid, nil
	}
	output, err := exec.Command("ps", "-ax", "-o", "pid=,comm=").Output()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}
	patterns := []string{
		"WeChat.app/Contents/MacOS/WeChat",
		"WeChatDebug.app/Contents/MacOS/WeChat",
	}
	if name := os.Getenv(keyrecovery.EnvTargetProcess); name != "" {
		patterns = append([]string{name}, patterns...)
	}
	for _, pattern := range patterns {
		for _, line := range strings.Split(string(output), "\n") {
			if !strings.Contains(line, pattern) || strings.Contains(line, "AppEx") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if pid, err := strconv.Atoi(fields[0]); err == nil {
				return pid, nil
			}
		}
	}
	return 0, fmt.Errorf("client process not running")
}

func (b *axBackend) Keyboard() uitree.Keyboard   { return cgKeyboard{} }
func (b *axBackend) Clipboard() uitree.Clipboard { return uitree.SystemClipboard{} }

func (b *axBackend) Chords() automation.KeyChords {
	return automation.KeyChords{SelectAll: "cmd+a", Delete: "backspace", Paste: "cmd+v"}
}
