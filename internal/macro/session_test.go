package macro

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jordanella.com/natro-go/internal/config"
	"jordanella.com/natro-go/internal/cv"
	"jordanella.com/natro-go/internal/events"
	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/window"
	"jordanella.com/natro-go/pkg/templates"
)

type fakeProcs struct {
	mu         sync.Mutex
	procs      []window.Process
	terminated []int32
	stubborn   map[int32]bool // Ignore Terminate
}

func (f *fakeProcs) Processes() ([]window.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]window.Process(nil), f.procs...), nil
}

func (f *fakeProcs) Exists(pid int32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.procs {
		if p.PID == pid {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeProcs) Terminate(pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	if f.stubborn[pid] {
		return errors.New("access denied")
	}
	kept := f.procs[:0]
	for _, p := range f.procs {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	f.procs = kept
	return nil
}

func (f *fakeProcs) set(procs ...window.Process) {
	f.mu.Lock()
	f.procs = procs
	f.mu.Unlock()
}

type fakeServer struct {
	windows []window.Info
}

func (f *fakeServer) Windows() ([]window.Info, error) { return f.windows, nil }

func (f *fakeServer) ActivePID() (int32, error) { return 0, window.ErrWindowNotFound }

type fakeDisplay struct{ rect image.Rectangle }

func (f fakeDisplay) Bounds() (image.Rectangle, error) { return f.rect, nil }

// needleImage is an 8x6 sprite with no flat region
func needleImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(40 + x*24), uint8(200 - y*30), uint8((x * y * 9) % 250), 255})
		}
	}
	return img
}

func screenWithNeedle(at image.Point) *image.RGBA {
	screen := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for i := range screen.Pix {
		screen.Pix[i] = 30
	}
	n := needleImage()
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			screen.SetRGBA(at.X+x, at.Y+y, n.RGBAAt(x, y))
		}
	}
	return screen
}

type testRig struct {
	session  *Session
	procs    *fakeProcs
	capturer *cv.StaticCapturer
	bus      *events.DefaultEventBus
	settings *config.Settings
}

func newTestRig(t *testing.T, mutate func(*config.Settings)) *testRig {
	t.Helper()
	dir := t.TempDir()

	settings := config.NewDefaultSettings()
	settings.AssetDir = dir
	settings.JournalPath = filepath.Join(dir, "journal.db")
	settings.CalibrationNeedle = "ref"
	settings.CalibrationExpectedY = 20
	settings.CalibrationVariation = 0
	settings.PollIntervalMS = 5
	settings.LoopIntervalMS = 1
	if mutate != nil {
		mutate(settings)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, needleImage()); err != nil {
		t.Fatalf("Failed to encode needle: %v", err)
	}
	catalog := templates.NewTemplateRegistry(dir)
	if err := catalog.Register(cv.Template{Name: "ref", Data: buf.Bytes()}); err != nil {
		t.Fatalf("Failed to register needle: %v", err)
	}

	procs := &fakeProcs{}
	procs.set(window.Process{PID: 42, Name: "RobloxPlayerBeta"})
	server := &fakeServer{windows: []window.Info{
		{ID: 1, PID: 42, Title: "Roblox", X: 100, Y: 50, Width: 200, Height: 150},
	}}

	quiet := func(name string) *logging.Logger { return logging.NewLogger(name).SetOutputs() }

	locator := window.NewLocator(LocatorConfig(settings), procs, server,
		fakeDisplay{rect: image.Rect(0, 0, 400, 300)}).WithLogger(quiet("LocatorTest"))

	capturer := cv.NewStaticCapturer(screenWithNeedle(image.Pt(120, 80)))
	bus := events.NewEventBus(64)

	s, err := NewSession(settings, Dependencies{
		Locator:  locator,
		Capturer: capturer,
		Catalog:  catalog,
		Bus:      bus,
		Logger:   quiet("SessionTest"),
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	s.Engine().WithLogger(quiet("EngineTest"))
	s.Calibration().WithLogger(quiet("CalibrationTest"))
	s.Heartbeat().WithLogger(quiet("HeartbeatTest"))
	s.Journal().WithLogger(quiet("JournalTest"))

	t.Cleanup(func() {
		s.Close()
		bus.Stop()
	})

	return &testRig{session: s, procs: procs, capturer: capturer, bus: bus, settings: settings}
}

func TestImageSearch(t *testing.T) {
	rig := newTestRig(t, nil)
	s := rig.session

	count, points := s.ImageSearch("ref", nil, 0)
	if count != 1 || points[0] != image.Pt(120, 80) {
		t.Fatalf("Expected one match at (120,80), got %d %v", count, points)
	}

	region := cv.NewRegion(0, 0, 100, 100)
	if count, _ := s.ImageSearch("ref", &region, 0); count != 0 {
		t.Errorf("Expected no match outside the needle, got %d", count)
	}

	if count, _ := s.ImageSearch("nope", nil, 0); count != cv.StatusAssetNotFound {
		t.Errorf("Expected %d for unknown needle, got %d", cv.StatusAssetNotFound, count)
	}

	if count, _ := s.ImageSearch("ref", nil, 101); count != cv.StatusInvalidArgument {
		t.Errorf("Expected %d for bad variation, got %d", cv.StatusInvalidArgument, count)
	}

	logs, err := s.Journal().RecentSearches("", 10)
	if err != nil {
		t.Fatalf("Failed to read journal: %v", err)
	}
	if len(logs) != 4 {
		t.Fatalf("Expected 4 journaled searches, got %d", len(logs))
	}
	if logs[1].Needle != "nope" || logs[1].Status != cv.StatusAssetNotFound {
		t.Errorf("Unexpected journal row %+v", logs[1])
	}
	if logs[3].Status != 1 || logs[3].FirstX == nil || *logs[3].FirstX != 120 {
		t.Errorf("Unexpected hit row %+v", logs[3])
	}
	if logs[3].RunID == nil || *logs[3].RunID != s.RunID() || s.RunID() == "" {
		t.Errorf("Expected rows tagged with run %q, got %v", s.RunID(), logs[3].RunID)
	}
}

func TestSearchFailedEvents(t *testing.T) {
	rig := newTestRig(t, nil)

	var mu sync.Mutex
	var failed []events.Event
	rig.bus.Subscribe(events.EventTypeSearchFailed, func(e events.Event) {
		mu.Lock()
		failed = append(failed, e)
		mu.Unlock()
	})

	rig.session.ImageSearch("ref", nil, 0)
	rig.capturer.SetError(errors.New("no display"))
	rig.session.ImageSearch("ref", nil, 0)

	rig.bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 {
		t.Fatalf("Expected 1 search.failed event, got %d", len(failed))
	}
	if failed[0].Data["status"] != cv.StatusCaptureFailed {
		t.Errorf("Expected capture failure status, got %v", failed[0].Data["status"])
	}
}

func TestWaitAndMultiSearch(t *testing.T) {
	rig := newTestRig(t, nil)
	s := rig.session

	p, ok := s.WaitForImage(context.Background(), "ref", 50*time.Millisecond, nil, 0)
	if !ok || p != image.Pt(120, 80) {
		t.Errorf("Expected wait to find (120,80), got %v %v", p, ok)
	}

	rig.capturer.SetScreen(screenWithNeedle(image.Pt(10, 10)))
	region := cv.NewRegion(200, 200, 400, 300)
	if _, ok := s.WaitForImage(context.Background(), "ref", 20*time.Millisecond, &region, 0); ok {
		t.Error("Expected wait to time out outside the region")
	}

	idx, p, ok := s.MultiImageSearch([]string{"nope", "ref"}, nil, 0)
	if !ok || idx != 1 || p != image.Pt(10, 10) {
		t.Errorf("Expected second needle at (10,10), got %d %v %v", idx, p, ok)
	}

	if idx, _, ok := s.MultiImageSearch([]string{"nope"}, nil, 0); ok || idx != -1 {
		t.Errorf("Expected no match, got %d %v", idx, ok)
	}
}

func TestWindowQueries(t *testing.T) {
	rig := newTestRig(t, nil)
	s := rig.session

	h, ok := s.GetWindow()
	if !ok || h.PID != 42 {
		t.Fatalf("Expected pid 42, got %v %v", h, ok)
	}

	b, ok := s.GetWindowBounds(h, false)
	if !ok || b.Fallback || b.X != 100 || b.Y != 50 || b.Width != 200 || b.Height != 150 {
		t.Errorf("Unexpected bounds %+v", b)
	}

	region, ok := s.WindowRegion()
	if !ok || region != cv.NewRegion(100, 50, 300, 200) {
		t.Errorf("Unexpected window region %v", region)
	}

	rig.procs.set()
	if _, ok := s.GetWindow(); ok {
		t.Error("Expected no window once the process exits")
	}
	b, ok = s.GetWindowBounds(nil, true)
	if !ok || !b.Fallback || b.Width != 400 {
		t.Errorf("Expected display fallback, got %+v", b)
	}
	if _, ok := s.YOffset(); ok {
		t.Error("Expected no offset without a window")
	}
}

func TestYOffset(t *testing.T) {
	rig := newTestRig(t, nil)
	s := rig.session

	// Needle at y=80, window top at 50, expected 20 below the top
	offset, ok := s.YOffset()
	if !ok || offset != 10 {
		t.Fatalf("Expected offset 10, got %d %v", offset, ok)
	}

	// Memoized: moving the sprite does not change the answer
	rig.capturer.SetScreen(screenWithNeedle(image.Pt(120, 70)))
	if offset, _ := s.YOffset(); offset != 10 {
		t.Errorf("Expected memoized offset 10, got %d", offset)
	}

	latest, err := s.Journal().LatestCalibration(42)
	if err != nil {
		t.Fatalf("Expected calibration in journal: %v", err)
	}
	if latest.YOffset != 10 || latest.Strategy != "reference:ref" {
		t.Errorf("Unexpected journaled calibration %+v", latest)
	}

	if err := s.RunRoutine(context.Background(), "calibrate"); err != nil {
		t.Fatalf("calibrate routine failed: %v", err)
	}
	if offset, _ := s.YOffset(); offset != 0 {
		t.Errorf("Expected recalibrated offset 0, got %d", offset)
	}
}

func TestZeroStrategyByDefault(t *testing.T) {
	rig := newTestRig(t, func(s *config.Settings) { s.CalibrationNeedle = "" })

	offset, ok := rig.session.YOffset()
	if !ok || offset != 0 {
		t.Errorf("Expected zero offset, got %d %v", offset, ok)
	}
}

func TestRunStartRoutine(t *testing.T) {
	rig := newTestRig(t, func(s *config.Settings) { s.StartRoutine = "count" })
	s := rig.session

	runs := 0
	s.Routines().MustRegister("count", func(ctx context.Context, s *Session) error {
		runs++
		if runs == 3 {
			s.Stop()
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if runs != 3 {
		t.Errorf("Expected 3 routine runs, got %d", runs)
	}
	if s.Controller().State() != StateStopped {
		t.Errorf("Expected stopped state, got %v", s.Controller().State())
	}
}

func TestRunWatchesAssets(t *testing.T) {
	rig := newTestRig(t, func(s *config.Settings) {
		s.StartRoutine = "drop"
		s.WatchAssets = true
	})
	s := rig.session

	written := false
	s.Routines().MustRegister("drop", func(ctx context.Context, s *Session) error {
		if !written {
			written = true
			yaml := "templates:\n  - name: honey_icon\n    path: honey.png\n"
			return os.WriteFile(filepath.Join(s.Settings().AssetDir, "extra.yaml"), []byte(yaml), 0644)
		}
		if s.Catalog().Has("honey_icon") {
			s.Stop()
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		s.Stop()
		t.Fatal("Expected the catalog to pick up the new file")
	}
}

func TestRunUnknownStartRoutine(t *testing.T) {
	rig := newTestRig(t, func(s *config.Settings) { s.StartRoutine = "missing" })
	if err := rig.session.Run(context.Background()); err == nil {
		t.Error("Expected error for unregistered start routine")
	}
}

func TestRunWaitsForMissingWindow(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.procs.set()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := rig.session.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected Run to stop with the context, took %v", elapsed)
	}
}

func TestImageSearchVariation(t *testing.T) {
	// One pixel off from the sprite on screen; scores about 0.94
	alt := needleImage()
	alt.SetRGBA(3, 2, color.RGBA{250, 20, 250, 255})

	path := filepath.Join(t.TempDir(), "alt.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create needle file: %v", err)
	}
	if err := png.Encode(f, alt); err != nil {
		t.Fatalf("Failed to encode needle: %v", err)
	}
	f.Close()

	tests := []struct {
		name      string
		fallback  int
		needle    string
		variation int
		want      int
	}{
		{"catalog needle exact by default", 20, "ref", CatalogVariation, 1},
		{"file needle without fallback", 0, path, CatalogVariation, 0},
		{"file needle with fallback", 10, path, CatalogVariation, 1},
		{"explicit zero is exact", 10, path, 0, 0},
		{"explicit variation", 0, path, 10, 1},
		{"negative variation", 0, path, -2, cv.StatusInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, func(s *config.Settings) { s.DefaultVariation = tt.fallback })
			count, points := rig.session.ImageSearch(tt.needle, nil, tt.variation)
			if count != tt.want {
				t.Fatalf("Expected %d, got %d", tt.want, count)
			}
			if count == 1 && points[0] != image.Pt(120, 80) {
				t.Errorf("Expected match at (120,80), got %v", points[0])
			}
		})
	}
}

func TestScreenPoint(t *testing.T) {
	rig := newTestRig(t, nil)
	s := rig.session

	// Window origin (100,50), calibrated offset 10
	p, ok := s.ScreenPoint(5, 5)
	if !ok || p != image.Pt(105, 65) {
		t.Errorf("Expected (105,65), got %v %v", p, ok)
	}

	if err := s.RunRoutine(context.Background(), "report"); err != nil {
		t.Errorf("report routine failed: %v", err)
	}

	rig.procs.set()
	if _, ok := s.ScreenPoint(5, 5); ok {
		t.Error("Expected no screen point without a window")
	}
}

func TestPixelSearch(t *testing.T) {
	rig := newTestRig(t, nil)
	s := rig.session

	// Top-left sprite pixel is unique on screen
	points, ok := s.PixelSearch(color.RGBA{40, 200, 0, 255}, 0, nil)
	if !ok || len(points) != 1 || points[0] != image.Pt(120, 80) {
		t.Errorf("Expected a single pixel at (120,80), got %v %v", points, ok)
	}

	region := cv.NewRegion(0, 0, 100, 100)
	if points, ok := s.PixelSearch(color.RGBA{30, 30, 30, 255}, 0, &region); !ok || len(points) != 100*100 {
		t.Errorf("Expected the whole background region, got %d", len(points))
	}

	rig.capturer.SetError(errors.New("no display"))
	if _, ok := s.PixelSearch(color.RGBA{40, 200, 0, 255}, 0, nil); ok {
		t.Error("Expected failure when capture fails")
	}
}
