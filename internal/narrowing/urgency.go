package narrowing

import "regexp"

// Urgency grades how fast the patient needs to be seen.
type Urgency string

const (
	UrgencyRoutine Urgency = "routine"
	UrgencySoon    Urgency = "soon"
	UrgencyUrgent  Urgency = "urgent"
)

// Cyrillic and Hebrew patterns carry an explicit non-letter guard because
// RE2's \b only recognizes ASCII word characters.
var urgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(urgent(ly)?|emergency|asap|right (away|now)|immediately)\b`),
	regexp.MustCompile(`(?i)\b(severe|unbearable|terrible|really bad) (pain|toothache)\b`),
	regexp.MustCompile(`(?i)\b(bleeding|swollen)\b`),
	regexp.MustCompile(`(?i)\b(urgente|emergencia|lo antes posible|ahora mismo|mucho dolor)\b`),
	regexp.MustCompile(`(?i)\b(emerg[êe]ncia|o quanto antes|agora mesmo|muita dor)\b`),
	regexp.MustCompile(`(?i)(^|[^\p{L}])(срочно|экстренно|очень болит|сильно болит|как можно скорее|прямо сейчас)([^\p{L}]|$)`),
	regexp.MustCompile(`(^|[^\p{L}])(דחוף|חירום|כואב מאוד)([^\p{L}]|$)`),
}

var soonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(soon|this week|in the next few days|quickly)\b`),
	regexp.MustCompile(`(?i)\b(pronto|esta semana|en los pr[óo]ximos d[íi]as)\b`),
	regexp.MustCompile(`(?i)\b(em breve|essa semana|logo)\b`),
	regexp.MustCompile(`(?i)(^|[^\p{L}])(скоро|поскорее|в ближайшие дни|на этой неделе)([^\p{L}]|$)`),
	regexp.MustCompile(`(^|[^\p{L}])(בקרוב|השבוע)([^\p{L}]|$)`),
}

// ClassifyUrgency grades a message. Urgent phrasing wins over soon phrasing
// when both appear.
func ClassifyUrgency(text string) Urgency {
	if text == "" {
		return UrgencyRoutine
	}
	for _, re := range urgentPatterns {
		if re.MatchString(text) {
			return UrgencyUrgent
		}
	}
	for _, re := range soonPatterns {
		if re.MatchString(text) {
			return UrgencySoon
		}
	}
	return UrgencyRoutine
}
