//go:build windows

package overlay

import (
	"fmt"
	"image"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"

	"github.com/meshflow/capture/internal/geometry"
)

const (
	surfaceAlpha   = 160 // out of 255; underlying desktop stays visible
	regionPenBGR   = 0x0000FF
	draftPenBGR    = 0x00A5FF
	regionPenWidth = 3
	hideTimeout    = 2 * time.Second
)

var (
	gdi32DLL      = syscall.NewLazyDLL("gdi32.dll")
	procCreatePen = gdi32DLL.NewProc("CreatePen")
	procRectangle = gdi32DLL.NewProc("Rectangle")
)

// winRenderer paints the selection surface as a topmost translucent popup
// covering the virtual desktop. It only draws: pointer and key input reach
// the runner through the global hook source, never through this window.
type winRenderer struct {
	mu     sync.Mutex
	region *geometry.Rect
	draft  *geometry.Rect
	hwnd   win.HWND

	done chan struct{}
}

// The window procedure is a C callback and cannot carry a receiver, so the
// live renderer is parked in a package variable while shown.
var (
	activeMu  sync.Mutex
	activeWin *winRenderer
)

// NewPlatformRenderer returns the Win32 selection surface.
func NewPlatformRenderer() Renderer { return &winRenderer{} }

func (r *winRenderer) Show(bounds image.Rectangle) error {
	activeMu.Lock()
	if activeWin != nil {
		activeMu.Unlock()
		return fmt.Errorf("overlay surface already shown")
	}
	activeWin = r
	activeMu.Unlock()

	r.mu.Lock()
	r.region = nil
	r.draft = nil
	r.mu.Unlock()

	r.done = make(chan struct{})
	ready := make(chan error, 1)
	go r.windowLoop(bounds, ready)
	if err := <-ready; err != nil {
		activeMu.Lock()
		activeWin = nil
		activeMu.Unlock()
		return err
	}
	return nil
}

func (r *winRenderer) Update(region, draft *geometry.Rect) {
	r.mu.Lock()
	r.region = region
	r.draft = draft
	hwnd := r.hwnd
	r.mu.Unlock()

	if hwnd != 0 {
		win.InvalidateRect(hwnd, nil, false)
		win.UpdateWindow(hwnd)
	}
}

func (r *winRenderer) Hide() {
	r.mu.Lock()
	hwnd := r.hwnd
	r.mu.Unlock()
	if hwnd == 0 {
		return
	}

	win.PostMessage(hwnd, win.WM_CLOSE, 0, 0)
	select {
	case <-r.done:
	case <-time.After(hideTimeout):
	}
}

// windowLoop owns the window for its whole lifetime; Win32 ties a window to
// the thread that created it, so the loop pins its OS thread.
func (r *winRenderer) windowLoop(bounds image.Rectangle, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() {
		activeMu.Lock()
		activeWin = nil
		activeMu.Unlock()
		close(r.done)
	}()

	className := syscall.StringToUTF16Ptr(fmt.Sprintf("CaptureOverlay_%d", time.Now().UnixNano()))
	wndClass := win.WNDCLASSEX{
		CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
		Style:         win.CS_HREDRAW | win.CS_VREDRAW,
		LpfnWndProc:   syscall.NewCallback(overlayWndProc),
		HInstance:     win.GetModuleHandle(nil),
		HCursor:       win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_CROSS)),
		LpszClassName: className,
	}
	if win.RegisterClassEx(&wndClass) == 0 {
		ready <- fmt.Errorf("register overlay window class")
		return
	}
	defer win.UnregisterClass(className)

	hwnd := win.CreateWindowEx(
		win.WS_EX_TOPMOST|win.WS_EX_LAYERED|win.WS_EX_TOOLWINDOW,
		className,
		syscall.StringToUTF16Ptr("Select region"),
		win.WS_POPUP|win.WS_VISIBLE,
		int32(bounds.Min.X), int32(bounds.Min.Y),
		int32(bounds.Dx()), int32(bounds.Dy()),
		0, 0, win.GetModuleHandle(nil), nil,
	)
	if hwnd == 0 {
		ready <- fmt.Errorf("create overlay window")
		return
	}
	win.SetLayeredWindowAttributes(hwnd, 0, surfaceAlpha, win.LWA_ALPHA)

	r.mu.Lock()
	r.hwnd = hwnd
	r.mu.Unlock()

	win.ShowWindow(hwnd, win.SW_SHOW)
	win.SetForegroundWindow(hwnd)
	win.UpdateWindow(hwnd)
	ready <- nil

	var msg win.MSG
	for win.GetMessage(&msg, 0, 0, 0) > 0 {
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}

	r.mu.Lock()
	r.hwnd = 0
	r.mu.Unlock()
}

func overlayWndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	switch msg {
	case win.WM_PAINT:
		activeMu.Lock()
		r := activeWin
		activeMu.Unlock()
		var ps win.PAINTSTRUCT
		hdc := win.BeginPaint(hwnd, &ps)
		if r != nil {
			r.paint(hdc)
		}
		win.EndPaint(hwnd, &ps)
		return 0
	case win.WM_NCHITTEST:
		// Everything is client area; the hook source sees the clicks.
		return uintptr(win.HTCLIENT)
	case win.WM_CLOSE:
		win.DestroyWindow(hwnd)
		return 0
	case win.WM_DESTROY:
		win.PostQuitMessage(0)
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

func (r *winRenderer) paint(hdc win.HDC) {
	r.mu.Lock()
	region := r.region
	draft := r.draft
	r.mu.Unlock()

	drawHints(hdc)
	if region != nil {
		drawRect(hdc, *region, uintptr(win.PS_SOLID), regionPenBGR)
	}
	if draft != nil {
		drawRect(hdc, *draft, uintptr(win.PS_DOT), draftPenBGR)
	}
}

// drawRect outlines one rectangle in window-local coordinates. The runner
// already translated the model into the surface's space, so no origin
// offset applies here.
func drawRect(hdc win.HDC, rect geometry.Rect, penStyle uintptr, colorBGR uintptr) {
	pen, _, _ := procCreatePen.Call(penStyle, regionPenWidth, colorBGR)
	oldPen := win.SelectObject(hdc, win.HGDIOBJ(pen))
	oldBrush := win.SelectObject(hdc, win.GetStockObject(win.NULL_BRUSH))

	procRectangle.Call(
		uintptr(hdc),
		uintptr(int32(rect.X)),
		uintptr(int32(rect.Y)),
		uintptr(int32(rect.X+rect.Width)),
		uintptr(int32(rect.Y+rect.Height)),
	)

	win.SelectObject(hdc, oldPen)
	win.SelectObject(hdc, oldBrush)
	win.DeleteObject(win.HGDIOBJ(pen))
}

func drawHints(hdc win.HDC) {
	line := "Drag to select   ENTER confirm   ESC cancel"
	win.SetBkMode(hdc, win.TRANSPARENT)
	win.SetTextColor(hdc, win.COLORREF(0x00FFFF))
	win.TextOut(hdc, 16, 16, syscall.StringToUTF16Ptr(line), int32(len(line)))
}
