package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/CanvasCamera/internal/app"
	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/codec"
	"github.com/bryanchriswhite/CanvasCamera/internal/session"
)

var (
	snapshotPosition  string
	snapshotFlash     string
	snapshotThumbnail string
	snapshotTimeout   time.Duration
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot FILE",
	Short: "Capture a single still image",
	Long: `Open the selected camera, capture one still image and write it to FILE.
The image is PNG when FILE ends in .png and JPEG otherwise; "-" writes JPEG to
stdout.`,
	Example: `  # Capture from the back camera with flash
  canvascam snapshot photo.jpg --flash on

  # Front camera with a thumbnail next to the image
  canvascam snapshot selfie.png --position front --thumbnail thumb.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVar(&snapshotPosition, "position", "", "camera position (back or front)")
	snapshotCmd.Flags().StringVar(&snapshotFlash, "flash", "", "flash mode (off, on, auto)")
	snapshotCmd.Flags().StringVar(&snapshotThumbnail, "thumbnail", "", "also write a square thumbnail to this path")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 15*time.Second, "overall deadline")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if snapshotPosition != "" {
		cfg.Capture.Position = snapshotPosition
	}
	if snapshotFlash != "" {
		cfg.Capture.FlashMode = snapshotFlash
	}
	pos, err := camera.ParsePosition(cfg.Capture.Position)
	if err != nil {
		return err
	}
	flash, err := camera.ParseFlashMode(cfg.Capture.FlashMode)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
	defer cancel()

	if err := a.Session.Configure(ctx, pos, flash); err != nil {
		return fmt.Errorf("configure %s camera: %w", pos, err)
	}
	if err := a.Session.Start(ctx); err != nil {
		return fmt.Errorf("start %s camera: %w", pos, err)
	}
	defer a.Session.Stop(context.Background())

	opts := session.StillOptions{}
	if snapshotThumbnail != "" {
		opts.ThumbnailSize = cfg.Capture.ThumbnailSize
		if opts.ThumbnailSize <= 0 {
			opts.ThumbnailSize = 160
		}
	}
	res, err := a.Stills.CaptureImage(ctx, opts)
	if err != nil {
		return fmt.Errorf("capture failed (%s): %w", camera.Code(err), err)
	}

	if err := writeImage(args[0], res.Image, res.JPEG, cfg.Capture.JPEGQuality); err != nil {
		return err
	}
	if snapshotThumbnail != "" && res.Thumbnail != nil {
		if err := writeImage(snapshotThumbnail, res.Thumbnail, res.ThumbnailJPEG, cfg.Capture.JPEGQuality); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Captured %dx%d %s image from the %s camera (request %s)\n",
		res.Image.Width(), res.Image.Height(), res.Image.Orientation, res.Image.Position, res.RequestID)
	return nil
}

// writeImage writes img to path, reusing the already encoded JPEG unless
// the path asks for PNG
func writeImage(path string, img *camera.Image, encoded []byte, quality int) error {
	if path == "-" {
		_, err := os.Stdout.Write(encoded)
		return err
	}
	data := encoded
	if strings.EqualFold(filepath.Ext(path), ".png") {
		var err error
		if data, err = codec.EncodeForPath(path, img.Pixels, quality); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
