package vod

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type TranscodeConfig struct {
	InputFilePath string // Transcoded media input.
	OutputDirPath string // Segments output path.

	Profile  Profile
	IsVideo  bool
	Portrait bool

	Breakpoints []float64
	StartIndex  int // First segment to produce.
	EndIndex    int // Segment bound, b[EndIndex] is where encoding stops.

	FFmpegBinary string
}

// startTranscode spawns ffmpeg producing segments [StartIndex, EndIndex) of
// the plan. Completed segment names arrive on the returned transcoder's
// Segments channel.
func startTranscode(logger zerolog.Logger, config TranscodeConfig) (Transcoder, error) {
	if config.EndIndex <= config.StartIndex || config.EndIndex >= len(config.Breakpoints) {
		return nil, fmt.Errorf("invalid segment range %d:%d", config.StartIndex, config.EndIndex)
	}

	startAt := config.Breakpoints[config.StartIndex]
	endAt := config.Breakpoints[config.EndIndex]

	// convert to comma separated boundary times
	fmtSegTimes := []string{}
	for _, segmentTime := range config.Breakpoints[config.StartIndex+1 : config.EndIndex+1] {
		fmtSegTimes = append(
			fmtSegTimes,
			fmt.Sprintf("%.6f", segmentTime),
		)
	}
	commaSeparatedSegTimes := strings.Join(fmtSegTimes, ",")

	args := []string{
		"-loglevel", "warning",
	}

	// Seek to start point. Note there is a bug(?) in ffmpeg: it can possibly set
	// `seek_timestamp` to a negative value, which will cause `avformat_seek_file`
	// to reject the input timestamp. To prevent this, the first break point,
	// which we know will be zero, will not be fed to `-ss`.
	if config.StartIndex > 0 {
		args = append(args, []string{
			"-ss", fmt.Sprintf("%.6f", startAt),
		}...)
	}

	// Input specs
	args = append(args, []string{
		"-i", config.InputFilePath, // Input file
		"-to", fmt.Sprintf("%.6f", endAt),
		"-copyts", // So the "-to" refers to the original TS
		"-force_key_frames", commaSeparatedSegTimes,
		"-sn", // No subtitles
	}...)

	// Video specs
	if config.IsVideo {
		profile := config.Profile

		// scale the shorter side to the profile resolution
		scale := fmt.Sprintf("scale=-2:%d", profile.Resolution)
		if config.Portrait {
			scale = fmt.Sprintf("scale=%d:-2", profile.Resolution)
		}

		args = append(args, []string{
			"-vf", scale,
			"-c:v", "libx264",
			"-preset", "faster",
			"-profile:v", "high",
			"-level:v", "4.0",
			"-b:v", fmt.Sprintf("%dk", profile.VideoBitrate),
		}...)
	}

	// Audio specs
	args = append(args, []string{
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", config.Profile.AudioBitrate),
	}...)

	// Segmenting specs
	args = append(args, []string{
		"-f", "segment",
		"-segment_time_delta", "0.2",
		"-segment_format", "mpegts",
		"-segment_times", commaSeparatedSegTimes,
		"-segment_start_number", fmt.Sprintf("%d", config.StartIndex),
		"-segment_list_type", "flat",
		"-segment_list", "pipe:1", // Output completed segments to stdout.
		path.Join(config.OutputDirPath, fmt.Sprintf("%s-%%05d.ts", config.Profile.Name)),
	}...)

	return startProcess(logger, config.FFmpegBinary, args, encodeTimeout)
}

func segmentName(profileName string, index int) string {
	return fmt.Sprintf("%s-%05d.ts", profileName, index)
}

var segmentNameRegex = regexp.MustCompile(`^(.*)-([0-9]{5,})\.ts$`)

func parseSegmentIndex(profileName string, name string) (int, bool) {
	matches := segmentNameRegex.FindStringSubmatch(name)

	if len(matches) != 3 || matches[1] != profileName {
		return 0, false
	}

	index, err := strconv.Atoi(matches[2])
	if err != nil {
		return 0, false
	}

	return index, true
}
