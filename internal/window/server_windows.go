//go:build windows

package window

import (
	"sync"
	"syscall"
	"unsafe"
)

type RECT struct {
	Left, Top, Right, Bottom int32
}

var (
	user32                       = syscall.NewLazyDLL("user32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowTextLength      = user32.NewProc("GetWindowTextLengthW")
	procGetClassName             = user32.NewProc("GetClassNameW")
	procGetWindowRect            = user32.NewProc("GetWindowRect")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
)

// Windows limits the number of callbacks a process may create, so a
// single callback is shared and enumeration is serialized.
var (
	enumMu      sync.Mutex
	enumResults []Info
	enumProc    = syscall.NewCallback(collectWindow)
)

func collectWindow(hwnd syscall.Handle, lparam uintptr) uintptr {
	if !isWindowVisible(hwnd) {
		return 1 // Continue enumeration
	}

	var rect RECT
	getWindowRect(hwnd, &rect)

	enumResults = append(enumResults, Info{
		ID:     uint64(hwnd),
		PID:    windowPID(hwnd),
		Title:  windowText(hwnd),
		Owner:  className(hwnd),
		X:      int(rect.Left),
		Y:      int(rect.Top),
		Width:  int(rect.Right - rect.Left),
		Height: int(rect.Bottom - rect.Top),
	})
	return 1
}

type user32Server struct{}

// NewServer returns the window server for this platform
func NewServer() Server {
	return user32Server{}
}

// Windows returns every visible top-level window
func (user32Server) Windows() ([]Info, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumResults = nil
	procEnumWindows.Call(enumProc, 0)

	out := enumResults
	enumResults = nil
	return out, nil
}

// ActivePID returns the PID owning the foreground window
func (user32Server) ActivePID() (int32, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return 0, ErrWindowNotFound
	}
	return windowPID(syscall.Handle(hwnd)), nil
}

func isWindowVisible(hwnd syscall.Handle) bool {
	ret, _, _ := procIsWindowVisible.Call(uintptr(hwnd))
	return ret != 0
}

func windowPID(hwnd syscall.Handle) int32 {
	var pid uint32
	procGetWindowThreadProcessId.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&pid)))
	return int32(pid)
}

func windowText(hwnd syscall.Handle) string {
	n, _, _ := procGetWindowTextLength.Call(uintptr(hwnd))
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return syscall.UTF16ToString(buf)
}

func className(hwnd syscall.Handle) string {
	buf := make([]uint16, 256)
	procGetClassName.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return syscall.UTF16ToString(buf)
}

func getWindowRect(hwnd syscall.Handle, rect *RECT) {
	procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(rect)))
}
