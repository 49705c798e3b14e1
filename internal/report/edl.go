package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/ledger"
)

// EDLClip is one event in an edit decision list.
type EDLClip struct {
	Name      string
	MediaPath string
	StartMs   int
	EndMs     int
}

// HighlightClips maps persisted highlights onto source ranges of mediaPath.
// Audio events are listed before video events, each in rank order.
func HighlightClips(hs []*ledger.HighlightRecord, mediaPath string) []EDLClip {
	var out []EDLClip
	for _, m := range features.Modalities {
		for _, h := range hs {
			if h.Modality != m {
				continue
			}
			out = append(out, EDLClip{
				Name:      fmt.Sprintf("%s #%d (%.2f)", h.Modality, h.Rank, h.Score),
				MediaPath: mediaPath,
				StartMs:   int(math.Round(h.Start * 1000)),
				EndMs:     int(math.Round(h.End * 1000)),
			})
		}
	}
	return out
}

// GenerateEDL renders clips as a CMX3600-style EDL, laying events back to
// back on the record side.
func GenerateEDL(clips []EDLClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordMs, event := 0, 0
	for _, c := range clips {
		dur := c.EndMs - c.StartMs
		if dur <= 0 {
			continue
		}
		event++
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, "AX", "AA/V",
				msToTimecode(c.StartMs, fps), msToTimecode(c.EndMs, fps),
				msToTimecode(recordMs, fps), msToTimecode(recordMs+dur, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", c.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", c.MediaPath),
		)
		recordMs += dur
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d",
		totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, frames)
}
