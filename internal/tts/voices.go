package tts

import "sort"

// Voice is one selectable speaker.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var voices = map[string]string{
	"af_heart":    "American Female - Heart",
	"af_alloy":    "American Female - Alloy",
	"af_aoede":    "American Female - Aoede",
	"af_bella":    "American Female - Bella",
	"af_jessica":  "American Female - Jessica",
	"af_kore":     "American Female - Kore",
	"af_nicole":   "American Female - Nicole",
	"af_nova":     "American Female - Nova",
	"af_river":    "American Female - River",
	"af_sarah":    "American Female - Sarah",
	"af_sky":      "American Female - Sky",
	"am_adam":     "American Male - Adam",
	"am_echo":     "American Male - Echo",
	"am_eric":     "American Male - Eric",
	"am_liam":     "American Male - Liam",
	"am_michael":  "American Male - Michael",
	"am_onyx":     "American Male - Onyx",
	"am_puck":     "American Male - Puck",
	"bf_alice":    "British Female - Alice",
	"bf_emma":     "British Female - Emma",
	"bf_isabella": "British Female - Isabella",
	"bf_lily":     "British Female - Lily",
	"bm_daniel":   "British Male - Daniel",
	"bm_fable":    "British Male - Fable",
	"bm_george":   "British Male - George",
	"bm_lewis":    "British Male - Lewis",
}

// Voices lists the available voices ordered by id.
func Voices() []Voice {
	out := make([]Voice, 0, len(voices))
	for id, name := range voices {
		out = append(out, Voice{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
