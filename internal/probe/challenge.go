package probe

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

type ChallengeType string

const (
	ChallengeLight  ChallengeType = "light"
	ChallengeMotion ChallengeType = "motion"
	ChallengeAudio  ChallengeType = "audio"
)

// Challenge is one instruction issued to the subject during an active
// liveness session. IDs come from a cryptographically strong source so a
// replay system cannot precompute responses.
type Challenge struct {
	ChallengeID        string         `json:"challenge_id"`
	Type               ChallengeType  `json:"challenge_type"`
	Instruction        string         `json:"instruction"`
	Parameters         map[string]any `json:"parameters"`
	ExpectedDurationMS int            `json:"expected_duration_ms"`
	Criteria           map[string]any `json:"verification_criteria"`
}

var lightColors = []string{"#FFFFFF", "#000000", "#FF0000", "#00FF00", "#0000FF"}

type motionDirection struct {
	direction   string
	instruction string
	angle       int
}

var motionDirections = []motionDirection{
	{"left", "Turn your head to the LEFT", 30},
	{"right", "Turn your head to the RIGHT", 30},
	{"up", "Tilt your head UP", 25},
	{"down", "Tilt your head DOWN", 25},
	{"nod", "Nod your head as if saying YES", 20},
	{"shake", "Shake your head as if saying NO", 20},
}

type audioPrompt struct {
	text        string
	instruction string
}

var audioPrompts = []audioPrompt{
	{"3-5-7", "Say the following numbers: 3, 5, 7"},
	{"trust-scan", "Say the following words: trust scan"},
}

// GenerateSessionChallenges builds n challenges drawn from allowedTypes
// without repeating a type until every allowed type has been used, then
// shuffles the final order. A nil allowedTypes defaults to light and motion.
func GenerateSessionChallenges(n int, allowedTypes []ChallengeType) []Challenge {
	if n <= 0 {
		return nil
	}
	if len(allowedTypes) == 0 {
		allowedTypes = []ChallengeType{ChallengeLight, ChallengeMotion}
	}

	challenges := make([]Challenge, 0, n)
	available := append([]ChallengeType(nil), allowedTypes...)
	for len(challenges) < n {
		if len(available) == 0 {
			available = append([]ChallengeType(nil), allowedTypes...)
		}
		idx := randIntn(len(available))
		ctype := available[idx]
		available = append(available[:idx], available[idx+1:]...)

		switch ctype {
		case ChallengeLight:
			challenges = append(challenges, generateLightChallenge())
		case ChallengeMotion:
			challenges = append(challenges, generateMotionChallenge())
		case ChallengeAudio:
			challenges = append(challenges, generateAudioChallenge())
		}
	}

	shuffle(challenges)
	return challenges
}

func generateLightChallenge() Challenge {
	numFlashes := 2 + randIntn(3)
	sequence := make([]map[string]any, 0, numFlashes)
	total := 0
	for i := 0; i < numFlashes; i++ {
		duration := 400 + randIntn(401)
		total += duration
		sequence = append(sequence, map[string]any{
			"color":       lightColors[randIntn(len(lightColors))],
			"duration_ms": duration,
		})
	}
	return Challenge{
		ChallengeID:        challengeID(ChallengeLight),
		Type:               ChallengeLight,
		Instruction:        "Look at your screen; the screen color will change",
		Parameters:         map[string]any{"sequence": sequence},
		ExpectedDurationMS: total,
		Criteria: map[string]any{
			"min_reflection_change":       0.15,
			"face_brightness_correlation": 0.6,
		},
	}
}

func generateMotionChallenge() Challenge {
	motion := motionDirections[randIntn(len(motionDirections))]
	expectedAngle := motion.angle - 5 + randIntn(11)
	return Challenge{
		ChallengeID: challengeID(ChallengeMotion),
		Type:        ChallengeMotion,
		Instruction: motion.instruction,
		Parameters: map[string]any{
			"direction":      motion.direction,
			"expected_angle": expectedAngle,
			"tolerance":      10,
		},
		ExpectedDurationMS: 2000 + randIntn(1501),
		Criteria: map[string]any{
			"angle_accuracy":       10,
			"smoothness_threshold": 0.7,
			"3d_consistency":       true,
		},
	}
}

func generateAudioChallenge() Challenge {
	var prompt audioPrompt
	if randIntn(len(audioPrompts)+1) == len(audioPrompts) {
		digits := 1000 + randIntn(9000)
		prompt = audioPrompt{
			text:        fmt.Sprintf("%d", digits),
			instruction: fmt.Sprintf("Say the following 4-digit number: %d", digits),
		}
	} else {
		prompt = audioPrompts[randIntn(len(audioPrompts))]
	}
	return Challenge{
		ChallengeID: challengeID(ChallengeAudio),
		Type:        ChallengeAudio,
		Instruction: prompt.instruction,
		Parameters:  map[string]any{"expected_text": prompt.text, "language": "en"},
		ExpectedDurationMS: 2000 + randIntn(2001),
		Criteria: map[string]any{
			"speech_match":         true,
			"voice_consistency":    0.8,
			"latency_threshold_ms": 600,
		},
	}
}

func challengeID(ctype ChallengeType) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return string(ctype) + "_" + hex.EncodeToString(b)
}

// randIntn returns a uniform value in [0, n) from crypto/rand. Challenge
// parameters share the same source as IDs so no part of a session is
// predictable.
func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return int(v.Int64())
}

func shuffle(challenges []Challenge) {
	for i := len(challenges) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		challenges[i], challenges[j] = challenges[j], challenges[i]
	}
}
