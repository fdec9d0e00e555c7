package peer

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

type TrackKind string

const (
	TrackScreen  TrackKind = "screen"
	TrackCamera  TrackKind = "camera"
	TrackUnknown TrackKind = "unknown"
)

// Stream ids carry the capture source so the receiver can route each track
// to its own surface.
const (
	screenPrefix = "screen-"
	cameraPrefix = "camera-"
)

func ScreenStreamID(participant string) string { return screenPrefix + participant }

func CameraStreamID(participant string) string { return cameraPrefix + participant }

// ClassifyTrack maps a remote track's stream id to its capture source.
func ClassifyTrack(streamID string) TrackKind {
	switch {
	case strings.HasPrefix(streamID, screenPrefix):
		return TrackScreen
	case strings.HasPrefix(streamID, cameraPrefix):
		return TrackCamera
	default:
		return TrackUnknown
	}
}

// NewScreenTrack returns a VP8 sample track tagged as a screen capture of
// participant.
func NewScreenTrack(participant string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", ScreenStreamID(participant))
}

func NewCameraTrack(participant string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", CameraStreamID(participant))
}
