package vod

import "testing"

func Test_profilesFor(t *testing.T) {
	t.Run("video profiles are capped by the source resolution", func(t *testing.T) {
		profiles := profilesFor(MediaVideo, 1280, 720)

		want := []string{"720p", "480p", "360p"}
		if len(profiles) != len(want) {
			t.Fatalf("profilesFor(1280x720) = %v", profiles)
		}
		for i, name := range want {
			if profiles[i].Name != name {
				t.Errorf("profilesFor(1280x720)[%d] = %s, want %s", i, profiles[i].Name, name)
			}
		}
	})

	t.Run("tiny sources fall back to the smallest profile", func(t *testing.T) {
		profiles := profilesFor(MediaVideo, 320, 240)

		if len(profiles) != 1 || profiles[0].Name != "360p" {
			t.Fatalf("profilesFor(320x240) = %v, want the smallest profile", profiles)
		}
	})

	t.Run("portrait sources are measured by their shorter side", func(t *testing.T) {
		profiles := profilesFor(MediaVideo, 1080, 1920)

		if len(profiles) == 0 || profiles[0].Name != "1080p" {
			t.Fatalf("profilesFor(1080x1920) = %v, want 1080p first", profiles)
		}
	})

	t.Run("audio sources have a single profile", func(t *testing.T) {
		profiles := profilesFor(MediaAudio, 0, 0)

		if len(profiles) != 1 || profiles[0].Name != "audio" {
			t.Fatalf("profilesFor(audio) = %v", profiles)
		}
	})
}

func Test_Profile_Bandwidth(t *testing.T) {
	profile := Profile{VideoBitrate: 2400, AudioBitrate: 128}

	if got := profile.Bandwidth(); got != 2654400 {
		t.Errorf("Bandwidth() = %d, want 2654400", got)
	}
}

func Test_Profile_ScaledResolution(t *testing.T) {
	profile := Profile{Resolution: 720}

	if w, h := profile.ScaledResolution(1920, 1080); w != 1280 || h != 720 {
		t.Errorf("ScaledResolution(1920, 1080) = %dx%d, want 1280x720", w, h)
	}

	if w, h := profile.ScaledResolution(1080, 1920); w != 720 || h != 1280 {
		t.Errorf("ScaledResolution(1080, 1920) = %dx%d, want 720x1280", w, h)
	}

	if w, h := profile.ScaledResolution(0, 0); w != 0 || h != 0 {
		t.Errorf("ScaledResolution(0, 0) = %dx%d, want 0x0", w, h)
	}
}
