//go:build !linux && !windows

package window

type unsupportedServer struct{}

// NewServer returns the window server for this platform. Bounds queries on
// this platform always degrade to the display fallback.
func NewServer() Server {
	return unsupportedServer{}
}

func (unsupportedServer) Windows() ([]Info, error) {
	return nil, ErrUnsupported
}

func (unsupportedServer) ActivePID() (int32, error) {
	return 0, ErrUnsupported
}
