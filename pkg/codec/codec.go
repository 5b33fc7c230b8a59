// Package codec maps sample-entry fourcc codes to canonical codec
// strings and decodes the codec configuration carried in esds
// extra-data.
package codec

import (
	"strings"
)

// videoCodecs maps normalized video fourccs to canonical codec strings.
var videoCodecs = map[string]string{
	"avc1": "avc1",
	"avc3": "avc1",
	"hev1": "hev1",
	"hvc1": "hvc1",
	"vp08": "vp8",
	"vp09": "vp9",
	"av01": "av01",
	"mp4v": "mp4v.20.9",
	"mjpa": "mjpeg",
	"mjpb": "mjpeg",
	"mjpg": "mjpeg",

	// ProRes family.
	"apch": "prores",
	"apcn": "prores",
	"apcs": "prores",
	"apco": "prores",
	"ap4h": "prores",
}

// audioCodecs maps normalized audio fourccs to canonical codec strings.
var audioCodecs = map[string]string{
	"mp4a": "mp4a.40.2",
	"opus": "opus",
	"mp3":  "mp3",
	"flac": "flac",
	"vorb": "vorbis",

	// PCM variants.
	"lpcm": "pcm-s16",
	"sowt": "pcm-s16",
	"twos": "pcm-s16",
	"in24": "pcm-s24",
	"in32": "pcm-s32",
	"fl32": "pcm-f32",
	"fl64": "pcm-f64",
}

// normalize lowercases a fourcc and strips the padding some QuickTime
// files use (".mp3", "mp3 ").
func normalize(fourcc string) string {
	return strings.Trim(strings.ToLower(fourcc), " .\x00")
}

// Video returns the canonical codec string for a video sample-entry
// fourcc. ok is false for unknown codes; the caller passes the raw
// fourcc through and records a warning.
func Video(fourcc string) (canonical string, ok bool) {
	canonical, ok = videoCodecs[normalize(fourcc)]
	return
}

// Audio returns the canonical codec string for an audio sample-entry
// fourcc.
func Audio(fourcc string) (canonical string, ok bool) {
	canonical, ok = audioCodecs[normalize(fourcc)]
	return
}
