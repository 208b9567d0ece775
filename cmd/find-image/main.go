package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"strconv"
	"strings"

	"jordanella.com/natro-go/internal/config"
	"jordanella.com/natro-go/internal/cv"
	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/pkg/templates"
)

func main() {
	iniPath := flag.String("config", "Settings.ini", "Path to Settings.ini")
	needle := flag.String("needle", "", "Catalog key or image path to search for")
	haystack := flag.String("haystack", "", "Image file to search instead of the live screen")
	variation := flag.Int("variation", -1, "Tolerance 0-100 (default from config or catalog)")
	regionFlag := flag.String("region", "", "Search region x1,y1,x2,y2")
	direction := flag.Int("direction", int(cv.ScanTopLeft), "Scan direction 1-8")
	center := flag.Bool("center", false, "Report needle centers")
	out := flag.String("out", "", "Write a debug PNG with matches outlined")
	pixel := flag.String("pixel", "", "Search for pixels of this RRGGBB color instead of a needle")
	tolerance := flag.Int("tolerance", 0, "Pixel color tolerance 0-255")
	list := flag.Bool("list", false, "List catalog needles by category and exit")
	flag.Parse()

	settings, err := config.LoadFromINI(*iniPath)
	if err != nil {
		settings = config.NewDefaultSettings()
	}
	level, _ := logging.ParseLevel(settings.LogLevel)
	logging.SetDefaults(level, os.Stderr)

	catalog := templates.NewTemplateRegistry(settings.AssetDir)
	if err := catalog.LoadFromDirectory(settings.AssetDir); err != nil {
		log.Printf("Warning: %v", err)
	}

	if *list {
		for _, category := range catalog.Categories() {
			names, _ := catalog.Category(category)
			fmt.Printf("%s:\n", category)
			for _, name := range names {
				fmt.Printf("  %s\n", name)
			}
		}
		return
	}

	if *pixel != "" {
		runPixelSearch(settings, *pixel, *tolerance, *regionFlag)
		return
	}

	if *needle == "" {
		fmt.Println("Usage:")
		fmt.Println("  find-image -needle <key|path> [-haystack screen.png] [-region x1,y1,x2,y2] [-variation n] [-out debug.png]")
		fmt.Println("  find-image -pixel RRGGBB [-tolerance n] [-region x1,y1,x2,y2]")
		fmt.Println("  find-image -list")
		os.Exit(1)
	}

	var capturer cv.Capturer
	if *haystack != "" {
		n, err := cv.LoadNeedleFile(*haystack)
		if err != nil {
			log.Fatalf("Failed to load haystack: %v", err)
		}
		capturer = cv.NewStaticCapturer(n.Image)
	} else {
		capturer = cv.NewScreenCapturer(settings.DisplayIndex)
	}

	engine := cv.NewEngine(capturer).
		WithNeedleSource(catalog).
		WithCaptureRetry(settings.CaptureAttempts, settings.CaptureDelay())

	opts := []cv.Option{
		cv.WithDirection(cv.Direction(*direction)),
		cv.WithCenter(*center),
		cv.WithDefaultVariation(settings.DefaultVariation),
	}
	if *variation >= 0 {
		opts = append(opts, cv.WithVariation(*variation))
	}
	if *regionFlag != "" {
		region, err := parseRegion(*regionFlag)
		if err != nil {
			log.Fatalf("Invalid region: %v", err)
		}
		opts = append(opts, cv.WithRegion(region))
	}

	res, err := engine.Find(*needle, opts...)
	if err != nil {
		fmt.Printf("Status %d: %v\n", cv.StatusCode(err), err)
		os.Exit(2)
	}

	fmt.Printf("Needle %s (%dx%d), threshold %.2f, searched %v\n",
		*needle, res.NeedleSize.X, res.NeedleSize.Y, res.Threshold, res.Searched)
	fmt.Printf("Matches: %d\n", res.Count())
	for i, p := range res.Points {
		fmt.Printf("  %d: (%d, %d) score %.4f\n", i+1, p.X, p.Y, res.Scores[i])
	}

	if *out != "" {
		if err := writeDebug(capturer, res, *center, *out); err != nil {
			log.Fatalf("Failed to write debug image: %v", err)
		}
		fmt.Printf("Debug image written to %s\n", *out)
	}
}

// runPixelSearch reports the pixels of one color on the live screen and the
// region's average color
func runPixelSearch(settings *config.Settings, hex string, tolerance int, regionFlag string) {
	target, err := cv.ParseColorKey(hex)
	if err != nil || target == nil {
		log.Fatalf("Invalid color %q", hex)
	}
	if tolerance < 0 || tolerance > 255 {
		log.Fatalf("Tolerance %d outside 0-255", tolerance)
	}

	var region cv.Region
	if regionFlag != "" {
		if region, err = parseRegion(regionFlag); err != nil {
			log.Fatalf("Invalid region: %v", err)
		}
	}

	engine := cv.NewEngine(cv.NewScreenCapturer(settings.DisplayIndex)).
		WithCaptureRetry(settings.CaptureAttempts, settings.CaptureDelay())

	points, err := engine.PixelSearch(*target, uint8(tolerance), region)
	if err != nil {
		fmt.Printf("Status %d: %v\n", cv.StatusCode(err), err)
		os.Exit(2)
	}
	avg, err := engine.RegionColor(region)
	if err != nil {
		fmt.Printf("Status %d: %v\n", cv.StatusCode(err), err)
		os.Exit(2)
	}

	fmt.Printf("Average color #%02X%02X%02X\n", avg.R, avg.G, avg.B)
	fmt.Printf("Matching pixels: %d\n", len(points))
	if len(points) > 0 {
		fmt.Printf("  first (%d, %d), last (%d, %d)\n",
			points[0].X, points[0].Y, points[len(points)-1].X, points[len(points)-1].Y)
	}
}

func parseRegion(s string) (cv.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return cv.Region{}, fmt.Errorf("want x1,y1,x2,y2, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cv.Region{}, err
		}
		v[i] = n
	}
	return cv.NewRegion(v[0], v[1], v[2], v[3]), nil
}

// writeDebug captures the whole screen and outlines every match
func writeDebug(capturer cv.Capturer, res *cv.SearchResult, centered bool, path string) error {
	screen, err := capturer.ScreenBounds()
	if err != nil {
		return err
	}
	img, err := capturer.Capture(screen)
	if err != nil {
		return err
	}

	local := make([]image.Point, len(res.Points))
	for i, p := range res.Points {
		if centered {
			p = p.Sub(image.Pt(res.NeedleSize.X/2, res.NeedleSize.Y/2))
		}
		local[i] = p.Sub(screen.Min)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, cv.DebugMatch(img, local, res.NeedleSize))
}
