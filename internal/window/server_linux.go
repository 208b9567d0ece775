//go:build linux

package window

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
)

// x11Server enumerates client windows through EWMH. The connection is
// opened on first use and reopened after a failure.
type x11Server struct {
	mu sync.Mutex
	xu *xgbutil.XUtil
}

// NewServer returns the window server for this platform
func NewServer() Server {
	return &x11Server{}
}

func (s *x11Server) conn() (*xgbutil.XUtil, error) {
	if s.xu != nil {
		return s.xu, nil
	}
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	s.xu = xu
	return xu, nil
}

func (s *x11Server) reset() {
	if s.xu != nil {
		s.xu.Conn().Close()
		s.xu = nil
	}
}

// Windows returns every managed client window that advertises a PID
func (s *x11Server) Windows() ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	xu, err := s.conn()
	if err != nil {
		return nil, err
	}

	clients, err := ewmh.ClientListGet(xu)
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("failed to get client list: %w", err)
	}

	out := make([]Info, 0, len(clients))
	for _, win := range clients {
		pid, err := ewmh.WmPidGet(xu, win)
		if err != nil {
			continue
		}

		info := Info{ID: uint64(win), PID: int32(pid)}

		if name, err := ewmh.WmNameGet(xu, win); err == nil && name != "" {
			info.Title = name
		} else if name, err := icccm.WmNameGet(xu, win); err == nil {
			info.Title = name
		}
		if class, err := icccm.WmClassGet(xu, win); err == nil && class != nil {
			info.Owner = class.Class
		}

		geom, err := xproto.GetGeometry(xu.Conn(), xproto.Drawable(win)).Reply()
		if err != nil {
			continue
		}
		// Geometry is parent-relative; translate the origin to root coordinates
		abs, err := xproto.TranslateCoordinates(xu.Conn(), win, xu.RootWin(), 0, 0).Reply()
		if err != nil {
			continue
		}

		info.X = int(abs.DstX)
		info.Y = int(abs.DstY)
		info.Width = int(geom.Width)
		info.Height = int(geom.Height)
		out = append(out, info)
	}

	return out, nil
}

// ActivePID returns the PID of the _NET_ACTIVE_WINDOW
func (s *x11Server) ActivePID() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	xu, err := s.conn()
	if err != nil {
		return 0, err
	}

	win, err := ewmh.ActiveWindowGet(xu)
	if err != nil {
		s.reset()
		return 0, fmt.Errorf("failed to get active window: %w", err)
	}
	if win == 0 {
		return 0, ErrWindowNotFound
	}

	pid, err := ewmh.WmPidGet(xu, win)
	if err != nil {
		return 0, fmt.Errorf("failed to get active window pid: %w", err)
	}
	return int32(pid), nil
}
