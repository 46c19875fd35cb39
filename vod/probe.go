package vod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type ProbeMediaData struct {
	FormatName []string
	Duration   time.Duration

	Video *ProbeVideoData
	Audio []ProbeAudioData
}

type ProbeVideoData struct {
	Width      int
	Height     int
	CodecName  string
	Duration   time.Duration
	PktPtsTime []float64
}

type ProbeAudioData struct {
	CodecName string
	Duration  time.Duration
	BitRate   float64
}

func runProbe(ctx context.Context, ffprobeBinary string, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobeBinary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%v: %s", err, msg)
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// ProbeMedia inspects the container and all streams of a file.
func ProbeMedia(ctx context.Context, ffprobeBinary string, inputFilePath string) (*ProbeMediaData, error) {
	args := []string{
		"-v", "error", // Hide debug information
		"-show_format",  // Show container information
		"-show_streams", // Show codec information
		"-of", "json",
		inputFilePath,
	}

	stdout, err := runProbe(ctx, ffprobeBinary, args)
	if err != nil {
		return nil, err
	}

	out := struct {
		Streams []struct {
			CodecName string `json:"codec_name"`
			CodecType string `json:"codec_type"`
			Duration  string `json:"duration"`

			// For video streams.
			Width  int `json:"width"`
			Height int `json:"height"`

			// For audio streams.
			BitRate string `json:"bit_rate"`
		} `json:"streams"`
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
		} `json:"format"`
	}{}

	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, err
	}

	data := ProbeMediaData{}
	for _, stream := range out.Streams {
		var duration time.Duration
		if stream.Duration != "" {
			duration, err = time.ParseDuration(stream.Duration + "s")
			if err != nil {
				return nil, fmt.Errorf("unable to parse stream duration: %v", err)
			}
		}

		switch stream.CodecType {
		case "video":
			if data.Video != nil {
				log.Warn().Str("path", inputFilePath).Msg("found multiple video streams, using the first one")
				continue
			}

			data.Video = &ProbeVideoData{
				Width:     stream.Width,
				Height:    stream.Height,
				CodecName: stream.CodecName,
				Duration:  duration,
			}
		case "audio":
			var bitRate float64
			if stream.BitRate != "" {
				bitRate, err = strconv.ParseFloat(stream.BitRate, 64)
				if err != nil {
					return nil, fmt.Errorf("unable to parse audio stream bitrate: %v", err)
				}
			}

			data.Audio = append(data.Audio, ProbeAudioData{
				CodecName: stream.CodecName,
				BitRate:   bitRate,
				Duration:  duration,
			})
		}
	}

	if out.Format.FormatName != "" {
		data.FormatName = strings.Split(out.Format.FormatName, ",")
	}

	if out.Format.Duration != "" {
		data.Duration, err = time.ParseDuration(out.Format.Duration + "s")
		if err != nil {
			return nil, fmt.Errorf("unable to parse format duration: %v", err)
		}
	}

	return &data, nil
}

// ProbeVideo lists the keyframes of the video stream along with its
// dimensions, which drive the segmentation plan.
func ProbeVideo(ctx context.Context, ffprobeBinary string, inputFilePath string) (*ProbeVideoData, error) {
	args := []string{
		"-v", "error", // Hide debug information

		// video
		"-skip_frame", "nokey",
		"-show_entries", "frame=pkt_pts_time", // List all I frames
		"-show_entries", "format=duration",
		"-show_entries", "stream=duration,width,height",
		"-select_streams", "v", // Video stream only, we're not interested in audio

		"-of", "json",
		inputFilePath,
	}

	stdout, err := runProbe(ctx, ffprobeBinary, args)
	if err != nil {
		return nil, err
	}

	out := struct {
		Frames []struct {
			PktPtsTime string `json:"pkt_pts_time"`
		} `json:"frames"`
		Streams []struct {
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Duration string `json:"duration"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}{}

	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, err
	}

	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}

	var duration time.Duration
	if out.Streams[0].Duration != "" {
		duration, err = time.ParseDuration(out.Streams[0].Duration + "s")
		if err != nil {
			return nil, err
		}
	}
	if out.Format.Duration != "" {
		duration, err = time.ParseDuration(out.Format.Duration + "s")
		if err != nil {
			return nil, err
		}
	}

	data := ProbeVideoData{
		Width:    out.Streams[0].Width,
		Height:   out.Streams[0].Height,
		Duration: duration,
	}

	for _, frame := range out.Frames {
		if frame.PktPtsTime == "" {
			continue
		}

		pktPtsTime, err := strconv.ParseFloat(frame.PktPtsTime, 64)
		if err != nil {
			return nil, err
		}

		data.PktPtsTime = append(data.PktPtsTime, pktPtsTime)
	}

	return &data, nil
}

// ProbeAudio inspects the audio stream of a file.
func ProbeAudio(ctx context.Context, ffprobeBinary string, inputFilePath string) (*ProbeAudioData, error) {
	args := []string{
		"-v", "error", // Hide debug information

		// audio
		"-show_entries", "stream=duration,bit_rate",
		"-select_streams", "a", // Audio stream only, we're not interested in video

		"-of", "json",
		inputFilePath,
	}

	stdout, err := runProbe(ctx, ffprobeBinary, args)
	if err != nil {
		return nil, err
	}

	out := struct {
		Streams []struct {
			BitRate  string `json:"bit_rate"`
			Duration string `json:"duration"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}{}

	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, err
	}

	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no audio stream found")
	}

	var duration time.Duration
	if out.Streams[0].Duration != "" {
		duration, err = time.ParseDuration(out.Streams[0].Duration + "s")
		if err != nil {
			return nil, err
		}
	}
	if out.Format.Duration != "" {
		duration, err = time.ParseDuration(out.Format.Duration + "s")
		if err != nil {
			return nil, err
		}
	}

	var bitRate float64
	if out.Streams[0].BitRate != "" {
		bitRate, err = strconv.ParseFloat(out.Streams[0].BitRate, 64)
		if err != nil {
			return nil, err
		}
	}

	return &ProbeAudioData{
		Duration: duration,
		BitRate:  bitRate,
	}, nil
}

// containers and codecs most browsers can play without transcoding
var nativeFormats = map[string]struct{}{
	"mov": {}, "mp4": {}, "m4a": {}, "3gp": {}, "3g2": {}, "mj2": {},
	"webm": {}, "matroska": {}, "ogg": {},
}

var nativeVideoCodecs = map[string]struct{}{
	"h264": {}, "vp8": {}, "vp9": {}, "av1": {}, "theora": {},
}

var nativeAudioCodecs = map[string]struct{}{
	"aac": {}, "mp3": {}, "opus": {}, "vorbis": {}, "flac": {},
}

// MaybeNativelySupported reports whether a browser could play the raw file
// directly. It is only a hint, the client may still request transcoding.
func (d *ProbeMediaData) MaybeNativelySupported() bool {
	supported := false
	for _, format := range d.FormatName {
		if _, ok := nativeFormats[format]; ok {
			supported = true
			break
		}
	}
	if !supported {
		return false
	}

	if d.Video != nil {
		if _, ok := nativeVideoCodecs[d.Video.CodecName]; !ok {
			return false
		}
	}

	for _, audio := range d.Audio {
		if _, ok := nativeAudioCodecs[audio.CodecName]; !ok {
			return false
		}
	}

	return true
}
