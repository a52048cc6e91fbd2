package transport

import "context"

// MediaKind names the Telegram media classes the bot republishes.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaDocument  MediaKind = "document"
	MediaVideoNote MediaKind = "video_note"
)

// MediaRef is the opaque content handle the scheduler carries around: a
// platform file id plus enough shape to re-send it. The scheduler never
// looks inside it.
type MediaRef struct {
	Kind    MediaKind `json:"kind"`
	FileID  string    `json:"file_id"`
	Caption string    `json:"caption,omitempty"`
}

// Publisher sends a media item to the broadcast channel. Implementations
// must produce a clean copy: no forward/origin metadata on the published
// message.
type Publisher interface {
	Publish(ctx context.Context, m MediaRef) error
}

// Notifier delivers an out-of-band operator notice (publish failures etc.).
type Notifier interface {
	NotifyOperator(ctx context.Context, text string) error
}
