// Package dispatcher answers emergency-call messages with canned 911 dispatcher lines.
package dispatcher

import "strings"

// Category is the branch a message falls into
type Category int

const (
	NeedLocation Category = iota
	Fire
	Crime
	Medical
	Injury
	Generic
)

func (c Category) String() string {
	switch c {
	case NeedLocation:
		return "need_location"
	case Fire:
		return "fire"
	case Crime:
		return "crime"
	case Medical:
		return "medical"
	case Injury:
		return "injury"
	default:
		return "generic"
	}
}

// Matching is plain substring membership, so short words like "at" and "in" also
// match inside longer words.
var (
	locationWords = []string{"at", "in", "near", "by", "street", "avenue", "road"}
	injuryWords   = []string{"hurt", "injured", "bleeding", "pain", "fell", "accident"}
	fireWords     = []string{"fire", "burning", "smoke", "flames"}
	crimeWords    = []string{"robbery", "stolen", "theft", "break in", "broke into", "attack", "gun", "weapon"}
	medicalWords  = []string{"heart", "breathing", "unconscious", "passed out", "not responding"}
)

var responses = map[Category]string{
	NeedLocation: "I need to know your exact location. What's the address or cross streets where you need assistance?",
	Fire:         "I understand there's a fire at your location. Is everyone safely out of the building? Are there any visible flames or just smoke? I'm dispatching fire services to your location now.",
	Crime:        "I understand there's a crime situation. Are you in a safe location right now? Are there any weapons involved? I'm sending officers to your location immediately. Try to stay on the line if it's safe to do so.",
	Medical:      "I'm sending medical assistance to your location right away. Is the person conscious? Are they breathing normally? Have they had any previous medical conditions that you're aware of?",
	Injury:       "I understand someone is injured. Can you describe the injury? Is there severe bleeding? Is the person conscious and breathing? I'm sending medical assistance to your location now.",
	Generic:      "Thank you for that information. Can you tell me more about the emergency situation? Are there any injuries? Is anyone in immediate danger? Emergency services are being dispatched to your location.",
}

// Facts are the independent keyword detections for one message.
type Facts struct {
	Location bool
	Injury   bool
	Fire     bool
	Crime    bool
	Medical  bool
}

// Detect computes the facts for text.
func Detect(text string) Facts {
	msg := strings.ToLower(text)
	return Facts{
		Location: containsAny(msg, locationWords),
		Injury:   containsAny(msg, injuryWords),
		Fire:     containsAny(msg, fireWords),
		Crime:    containsAny(msg, crimeWords),
		Medical:  containsAny(msg, medicalWords),
	}
}

// Classify picks the response branch. A missing location always wins.
func Classify(text string) Category {
	f := Detect(text)
	switch {
	case !f.Location:
		return NeedLocation
	case f.Fire:
		return Fire
	case f.Crime:
		return Crime
	case f.Medical:
		return Medical
	case f.Injury:
		return Injury
	default:
		return Generic
	}
}

// Respond returns the dispatcher line for text.
func Respond(text string) string {
	return Response(Classify(text))
}

// Response returns the canned line for a category
func Response(c Category) string {
	if r, ok := responses[c]; ok {
		return r
	}
	return responses[Generic]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
