// Package audio sniffs uploaded audio containers and builds placeholder clips.
package audio

import "bytes"

// Container MIME types accepted from browsers and returned by synthesizers.
const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeWebM = "audio/webm"
	ContentTypeOgg  = "audio/ogg"
	ContentTypeMP3  = "audio/mpeg"
	ContentTypeMP4  = "audio/mp4"
	ContentTypeFLAC = "audio/flac"
	ContentTypeAny  = "application/octet-stream"
)

// DetectContentType guesses the container from magic bytes. Browser
// MediaRecorder uploads are usually WebM/Opus.
func DetectContentType(b []byte) string {
	switch {
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return ContentTypeWAV
	case len(b) >= 4 && bytes.Equal(b[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ContentTypeWebM
	case len(b) >= 4 && bytes.Equal(b[0:4], []byte("OggS")):
		return ContentTypeOgg
	case len(b) >= 4 && bytes.Equal(b[0:4], []byte("fLaC")):
		return ContentTypeFLAC
	case len(b) >= 3 && bytes.Equal(b[0:3], []byte("ID3")):
		return ContentTypeMP3
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return ContentTypeMP3
	case len(b) >= 8 && bytes.Equal(b[4:8], []byte("ftyp")):
		return ContentTypeMP4
	default:
		return ContentTypeAny
	}
}

// Extension returns a file extension (with dot) for a content type.
func Extension(contentType string) string {
	switch contentType {
	case ContentTypeWAV:
		return ".wav"
	case ContentTypeWebM:
		return ".webm"
	case ContentTypeOgg:
		return ".ogg"
	case ContentTypeFLAC:
		return ".flac"
	case ContentTypeMP3:
		return ".mp3"
	case ContentTypeMP4:
		return ".m4a"
	default:
		return ".bin"
	}
}
