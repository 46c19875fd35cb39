package vod

import "math"

// Profile describes one quality variant. Resolution is the target size of the
// shorter side, bitrates are in kilobits per second.
type Profile struct {
	Name         string
	Resolution   int
	VideoBitrate int
	AudioBitrate int
}

// fixed video quality ladder, ordered by descending resolution
var videoProfiles = []Profile{
	{Name: "1080p", Resolution: 1080, VideoBitrate: 4800, AudioBitrate: 192},
	{Name: "720p", Resolution: 720, VideoBitrate: 2400, AudioBitrate: 128},
	{Name: "480p", Resolution: 480, VideoBitrate: 1200, AudioBitrate: 128},
	{Name: "360p", Resolution: 360, VideoBitrate: 700, AudioBitrate: 96},
}

// the only profile for audio sources
var audioProfile = Profile{Name: "audio", AudioBitrate: 192}

// profilesFor selects the profiles applicable to a source. Video sources get
// every profile not exceeding their own resolution, or the smallest one when
// even that is too big.
func profilesFor(mediaType MediaType, width, height int) []Profile {
	if mediaType == MediaAudio {
		return []Profile{audioProfile}
	}

	resolution := width
	if height < width {
		resolution = height
	}

	profiles := []Profile{}
	for _, profile := range videoProfiles {
		if profile.Resolution <= resolution {
			profiles = append(profiles, profile)
		}
	}

	if len(profiles) == 0 {
		profiles = []Profile{videoProfiles[len(videoProfiles)-1]}
	}

	return profiles
}

// Bandwidth is the peak bandwidth advertised in the master playlist, with 5 %
// container overhead on top of the raw bitrates. The 1.05 factor over kbit/s
// works out to a whole number of bits.
func (p Profile) Bandwidth() int {
	return (p.VideoBitrate + p.AudioBitrate) * 1050
}

// ScaledResolution scales the source dimensions so that the shorter side
// matches the profile resolution.
func (p Profile) ScaledResolution(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}

	if width >= height {
		scale := float64(p.Resolution) / float64(height)
		return int(math.Round(float64(width) * scale)), p.Resolution
	}

	scale := float64(p.Resolution) / float64(width)
	return p.Resolution, int(math.Round(float64(height) * scale))
}
