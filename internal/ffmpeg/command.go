package ffmpeg

import "fmt"

// TrackInput is one separately downloaded audio or subtitle artifact
// offered to the final mux.
type TrackInput struct {
	Path     string
	Language string
	// Title is the upstream track name, written as stream metadata
	// when known.
	Title string
}

// VideoConvertArgs builds the argv for remuxing a concatenated MPEG-TS
// video stream into MP4 without re-encoding. Embedded AAC audio is
// converted from ADTS to ASC framing.
func VideoConvertArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-y", outputPath,
	}
}

// AudioConvertArgs builds the argv for extracting an audio-only MPEG-TS
// stream into M4A, discarding any video.
func AudioConvertArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-vn",
		"-c:a", "copy",
		"-y", outputPath,
	}
}

// MuxArgs builds the final mux argv combining the converted video with
// the completed audio and subtitle tracks.
//
// With no separate audio inputs the video's own audio is mapped
// optionally (-map 0:a?) so a silent source still muxes. The first
// separate audio and the first subtitle get the default disposition.
func MuxArgs(videoPath string, audio, subtitles []TrackInput, outputPath string) []string {
	args := []string{"-i", videoPath}
	for _, a := range audio {
		args = append(args, "-i", a.Path)
	}
	for _, s := range subtitles {
		args = append(args, "-i", s.Path)
	}

	args = append(args, "-map", "0:v:0")
	if len(audio) == 0 {
		args = append(args, "-map", "0:a?")
	} else {
		for i := range audio {
			args = append(args, "-map", fmt.Sprintf("%d:a:0", i+1))
		}
	}
	for i := range subtitles {
		args = append(args, "-map", fmt.Sprintf("%d:s:0", len(audio)+i+1))
	}

	args = append(args, "-c:v", "copy", "-c:a", "copy")
	if len(subtitles) > 0 {
		args = append(args, "-c:s", "mov_text")
	}

	for i, a := range audio {
		args = append(args, fmt.Sprintf("-metadata:s:a:%d", i), "language="+a.Language)
		if a.Title != "" {
			args = append(args, fmt.Sprintf("-metadata:s:a:%d", i), "title="+a.Title)
		}
	}
	for i, s := range subtitles {
		args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "language="+s.Language)
		if s.Title != "" {
			args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "title="+s.Title)
		}
	}

	if len(audio) > 0 {
		args = append(args, "-disposition:a:0", "default")
	}
	if len(subtitles) > 0 {
		args = append(args, "-disposition:s:0", "default")
	}

	args = append(args, "-y", outputPath)
	return args
}
