package conversation

import (
	"regexp"
	"time"
)

// followupPlan is a promise extracted from the assistant's reply: the bot
// said somebody would do something, so the scheduler must make sure it
// actually happens.
type followupPlan struct {
	Action string
	At     time.Time
}

const defaultFollowupDelay = 2 * time.Hour

var (
	availabilityPromiseRE = regexp.MustCompile(`(?i)check(?:ing)?\s+(?:the\s+|on\s+)?availability|verificar[ée]?\s+la\s+disponibilidad|(?:vou|vamos)\s+verificar\s+a\s+disponibilidade|(?:^|[^\p{L}])проверю\s+расписание|אבדוק\s+זמינות`)
	teamPromiseRE         = regexp.MustCompile(`(?i)(?:we|i|the\s+team|our\s+team|someone)(?:'ll|\s+will)\s+(?:get\s+back|follow\s+up|reach\s+out|contact\s+you|let\s+you\s+know|confirm)|te\s+(?:confirmaremos|avisaremos|contactaremos)|nuestro\s+equipo\s+te\s+contactar[áa]|(?:vamos|a\s+equipe\s+(?:vai|ir[áa]))\s+(?:confirmar|entrar\s+em\s+contato|avisar)|(?:^|[^\p{L}])(?:мы\s+(?:уточним|свяжемся)|сообщим\s+вам)|נחזור\s+אליך|נעדכן\s+אותך`)
)

// analyzeFollowup scans the outgoing reply for commitments. The more
// specific availability promise wins over the generic team follow-up.
func analyzeFollowup(reply string, now time.Time) (followupPlan, bool) {
	if availabilityPromiseRE.MatchString(reply) {
		return followupPlan{Action: "confirm_availability", At: now.Add(defaultFollowupDelay)}, true
	}
	if teamPromiseRE.MatchString(reply) {
		return followupPlan{Action: "team_follow_up", At: now.Add(defaultFollowupDelay)}, true
	}
	return followupPlan{}, false
}
