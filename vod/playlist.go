package vod

import (
	"fmt"
	"strings"
)

// masterPlaylist lists one stream entry per applicable profile, highest
// resolution first.
func masterPlaylist(profiles []Profile, width, height int) string {
	playlist := []string{"#EXTM3U"}

	for _, profile := range profiles {
		w, h := profile.ScaledResolution(width, height)
		playlist = append(playlist,
			fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%s", profile.Bandwidth(), w, h, profile.Name),
			fmt.Sprintf("quality-%s.m3u8", profile.Name),
		)
	}

	return strings.Join(playlist, "\n") + "\n"
}

// variantPlaylist lists every segment of one profile. Segment URIs carry a
// one-based hexadecimal index.
func variantPlaylist(profileName string, breakpoints []float64) string {
	playlist := []string{
		"#EXTM3U",
		"#EXT-X-PLAYLIST-TYPE:VOD",
		fmt.Sprintf("#EXT-X-TARGETDURATION:%.2f", segmentLength+segmentOffset),
		"#EXT-X-VERSION:4",
		"#EXT-X-MEDIA-SEQUENCE:0",
	}

	for i := 1; i < len(breakpoints); i++ {
		playlist = append(playlist,
			fmt.Sprintf("#EXTINF:%.3f,", breakpoints[i]-breakpoints[i-1]),
			fmt.Sprintf("%s.%x.ts", profileName, i),
		)
	}

	playlist = append(playlist, "#EXT-X-ENDLIST")

	return strings.Join(playlist, "\n") + "\n"
}
