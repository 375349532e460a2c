package multimodal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// CaptureScreenshot grabs the current screen with the platform's capture
// tool, analyzes it like any other image upload, and stamps the capture time.
// The intermediate file lives only for the duration of the call.
func (p *Processor) CaptureScreenshot(ctx context.Context) Result {
	tmp, err := os.CreateTemp("", "screenshot-*.png")
	if err != nil {
		return failure(fmt.Errorf("failed to create temp file: %w", err))
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	cmd, err := captureCommand(ctx, path)
	if err != nil {
		return failure(err)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return failure(fmt.Errorf("screen capture failed: %v: %s", err, out))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return failure(fmt.Errorf("failed to read captured screenshot: %w", err))
	}

	result := p.processImage("screenshot.png", content)
	result.CapturedAt = time.Now().UTC().Format(time.RFC3339)
	return result
}

func captureCommand(ctx context.Context, path string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		// -x suppresses the shutter sound.
		return exec.CommandContext(ctx, "screencapture", "-x", path), nil
	case "linux":
		if _, err := exec.LookPath("gnome-screenshot"); err == nil {
			return exec.CommandContext(ctx, "gnome-screenshot", "-f", path), nil
		}
		if _, err := exec.LookPath("scrot"); err == nil {
			return exec.CommandContext(ctx, "scrot", path), nil
		}
		return nil, fmt.Errorf("no screenshot tool found (need gnome-screenshot or scrot)")
	default:
		return nil, fmt.Errorf("screen capture not supported on %s", runtime.GOOS)
	}
}
