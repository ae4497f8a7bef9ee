package browser

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp" // register webp decoder for CDP captures
)

// millisecond stamp; a restart within the same second starts a new series
const screenshotStampFormat = "20060102-150405.000"

// screenshotName is unique per session: the session start time plus a
// counter that only advances on successful captures.
func screenshotName(started time.Time, n int) string {
	return fmt.Sprintf("%s_%04d.png", started.Format(screenshotStampFormat), n)
}

// encodeScreenshot decodes a raw capture and re-encodes it as PNG.
func encodeScreenshot(raw []byte) ([]byte, error) {
	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("capture is %s, not an image", mt.String())
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s capture: %w", mt.String(), err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// writeScreenshot stores data as dir/name, creating dir when missing.
func writeScreenshot(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

// decodedSize reports the pixel size of an encoded image. Used in logs.
func decodedSize(data []byte) image.Point {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Point{}
	}
	return image.Pt(cfg.Width, cfg.Height)
}
