package stream

import (
	"fmt"
	"strings"
)

// GstConfig describes a GStreamer capture source
type GstConfig struct {
	// URI is an rtsp:// / http(s):// URL or a local file path
	URI       string
	Width     int
	Height    int
	TargetFPS float64
	// Latency for rtspsrc jitter buffer in ms (default 200)
	LatencyMS int
}

// IsLive reports whether the URI is a network stream (as opposed to a file)
func (c GstConfig) IsLive() bool {
	u := strings.ToLower(c.URI)
	return strings.HasPrefix(u, "rtsp://") || strings.HasPrefix(u, "rtsps://") ||
		strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Validate checks the config
func (c GstConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("stream: uri is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("stream: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.TargetFPS < 0.1 || c.TargetFPS > 60 {
		return fmt.Errorf("stream: target fps must be 0.1-60, got %.2f", c.TargetFPS)
	}
	return nil
}

// PipelineDescription builds a gst-launch description that decodes the
// source into BGR frames of the configured size on an appsink named "sink".
//
//	rtsp: rtspsrc -> decodebin -> videoconvert -> videoscale -> videorate -> caps -> appsink
//	file: filesrc -> decodebin -> videoconvert -> videoscale -> videorate -> caps -> appsink
//
// Live sources drop frames at the sink to stay real time; files keep every
// frame and play at the clock rate.
func (c GstConfig) PipelineDescription() string {
	latency := c.LatencyMS
	if latency <= 0 {
		latency = 200
	}

	var src string
	switch u := strings.ToLower(c.URI); {
	case strings.HasPrefix(u, "rtsp"):
		src = fmt.Sprintf("rtspsrc location=%q protocols=tcp latency=%d", c.URI, latency)
	case c.IsLive():
		src = fmt.Sprintf("souphttpsrc location=%q is-live=true", c.URI)
	default:
		src = fmt.Sprintf("filesrc location=%q", c.URI)
	}

	sink := "appsink name=sink emit-signals=false sync=false max-buffers=1 drop=true"
	if !c.IsLive() {
		sink = "appsink name=sink emit-signals=false sync=true max-buffers=2 drop=false"
	}

	return fmt.Sprintf("%s ! decodebin ! videoconvert ! videoscale ! videorate ! %s ! %s",
		src, c.Caps(), sink)
}

// Caps returns the raw video caps for the appsink
func (c GstConfig) Caps() string {
	num, den := fpsFraction(c.TargetFPS)
	return fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/%d",
		c.Width, c.Height, num, den)
}

// fpsFraction expresses fps as a GStreamer fraction (0.5 -> 1/2, 15 -> 15/1)
func fpsFraction(fps float64) (int, int) {
	if fps >= 1 {
		return int(fps + 0.5), 1
	}
	den := int(1/fps + 0.5)
	if den < 1 {
		den = 1
	}
	return 1, den
}
