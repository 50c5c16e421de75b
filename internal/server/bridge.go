package server

import (
	"cropsight/internal/pipeline"
	"cropsight/internal/ws"
)

// Bridge forwards pipeline events to the WebSocket hub and the MJPEG
// preview. Annotated frames go only to the preview; they are far too
// large for the event socket.
type Bridge struct {
	hub     *ws.Hub
	preview *Preview
}

var _ pipeline.RunEventHandler = (*Bridge)(nil)

// NewBridge wires the hub and preview into one event subscriber
func NewBridge(hub *ws.Hub, preview *Preview) *Bridge {
	return &Bridge{hub: hub, preview: preview}
}

// OnRunEvent implements pipeline.RunEventHandler
func (b *Bridge) OnRunEvent(ev *pipeline.RunEvent) {
	switch ev.Type {
	case pipeline.EventFrameAnnotated:
		b.preview.SetFrame(ev.FrameJPEG)

	case pipeline.EventRunStarted:
		b.hub.BroadcastMessage(ws.NewStartedMessage(ev.RunID, ev.VideoPath, ev.OutputFolder))

	case pipeline.EventRunProgress:
		if ev.Progress != nil {
			b.hub.BroadcastMessage(ws.NewProgressMessage(
				ev.RunID, ev.Progress.FramesDone, ev.Progress.TotalFrames, ev.Progress.Remaining))
		}

	case pipeline.EventPhotoSaved:
		b.hub.BroadcastMessage(ws.NewPhotoMessage(ev.RunID, ev.TrackID, ev.Class, ev.PhotoPath))

	case pipeline.EventRunCompleted:
		if ev.Result != nil {
			b.hub.BroadcastMessage(ws.NewCompletedMessage(
				ev.RunID, ev.Result.OutputFolder, ev.Result.FramesDone,
				ev.Result.Observations, ev.Result.Photos, ev.Result.Cancelled))
		}

	case pipeline.EventRunFailed:
		b.hub.BroadcastMessage(ws.NewFailedMessage(ev.RunID, ev.Error))
	}
}
