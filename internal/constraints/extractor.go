package constraints

import (
	"regexp"
	"strings"
	"time"
)

// Extraction is what one pass over a user message yielded. Detectors match
// all supported languages at once; the text itself discriminates.
type Extraction struct {
	// Reset is set when the message is a meta-reset command. No other
	// field is populated in that case.
	Reset bool
	// Exclusions are entity strings to rule out. At extraction time it is
	// unknown whether an entity is a doctor or a service, so each lands in
	// both exclusion sets.
	Exclusions []string
	// Switches are (drop this, want that) pairs.
	Switches []Switch
	// Window is a normalized time preference, when the message carried one.
	Window *TimeWindow
}

// Switch is an atomic "instead of From, To" move.
type Switch struct {
	From string
	To   string
}

// honorificRE drops the period from "Dr." and friends. The entity capture
// stops at sentence punctuation, so "forget Dr. Lee" would otherwise lose
// everything after the abbreviation.
var honorificRE = regexp.MustCompile(`(?i)\b(drs?|dra)\.\s*`)

// Extract parses exclusions, switches and a time window out of one user
// message. now anchors relative date expressions in the clinic timezone.
func Extract(text string, now time.Time, loc *time.Location) Extraction {
	if IsMetaReset(text) {
		return Extraction{Reset: true}
	}
	normalized := honorificRE.ReplaceAllString(text, "$1 ")
	ex := Extraction{
		Switches: detectSwitches(normalized),
		Window:   NormalizeTimeWindow(text, now, loc),
	}
	switched := make(map[string]bool, len(ex.Switches))
	for _, sw := range ex.Switches {
		switched[strings.ToLower(sw.From)] = true
	}
	for _, entity := range detectForget(normalized) {
		// A switch already excludes its From side.
		if !switched[strings.ToLower(entity)] {
			ex.Exclusions = append(ex.Exclusions, entity)
		}
	}
	return ex
}

// Apply folds the extraction into the constraints and reports whether
// anything changed. Switches run after plain exclusions so the new desire is
// never left excluded by an older forget.
func (c *Constraints) Apply(ex Extraction) bool {
	if ex.Reset {
		if c.Empty() {
			return false
		}
		c.Clear()
		return true
	}

	changed := false
	for _, entity := range ex.Exclusions {
		if c.ExcludeDoctor(entity) {
			changed = true
		}
		if c.ExcludeService(entity) {
			changed = true
		}
	}
	for _, sw := range ex.Switches {
		if c.applySwitch(sw) {
			changed = true
		}
	}
	if ex.Window != nil {
		if c.SetTimeWindow(ex.Window.Start, ex.Window.End, ex.Window.Label) {
			changed = true
		}
	}
	return changed
}

// applySwitch excludes the From side in both dimensions and records the To
// side as desired. The dimension is the one whose current desire matched
// From, a doctor-looking name, or the service slot otherwise.
func (c *Constraints) applySwitch(sw Switch) bool {
	changed := false
	doctorDim := looksLikeDoctor(sw.From) || looksLikeDoctor(sw.To) ||
		strings.EqualFold(c.DesiredDoctor, sw.From)

	if c.ExcludeDoctor(sw.From) {
		changed = true
	}
	if c.ExcludeService(sw.From) {
		changed = true
	}
	if doctorDim {
		if c.SetDesiredDoctor(sw.To) {
			changed = true
		}
		c.ExcludedServices = removeFold(c.ExcludedServices, sw.To)
	} else {
		if c.SetDesiredService(sw.To) {
			changed = true
		}
		c.ExcludedDoctors = removeFold(c.ExcludedDoctors, sw.To)
	}
	return changed
}

// Meta-reset phrases across the supported languages. Matching is
// substring-based on the lowered message.
var resetPhrases = []string{
	// English
	"start over", "start again", "start fresh", "clean slate", "forget everything",
	// Spanish
	"empezar de nuevo", "empecemos de nuevo", "borrón y cuenta nueva", "olvida todo",
	// Portuguese
	"começar de novo", "começar do zero", "recomeçar", "esquece tudo",
	// Russian
	"начать заново", "начнем сначала", "начнём сначала", "с чистого листа", "забудь всё", "забудь все",
	// Hebrew
	"להתחיל מחדש", "נתחיל מחדש", "תשכח הכל",
}

// IsMetaReset reports whether the message is an explicit command to drop
// all constraints.
func IsMetaReset(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range resetPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

var resetConfirmations = map[string]string{
	"en": "Got it, starting fresh! What can I help you with?",
	"es": "¡Entendido, empezamos de cero! ¿En qué puedo ayudarte?",
	"pt": "Entendido, vamos começar do zero! Como posso ajudar?",
	"ru": "Понял, начинаем с чистого листа! Чем могу помочь?",
	"he": "הבנתי, מתחילים מחדש! איך אפשר לעזור?",
}

// ResetConfirmation returns the localized acknowledgement stored and sent
// after a meta-reset. Unknown languages fall back to English.
func ResetConfirmation(lang string) string {
	if reply, ok := resetConfirmations[strings.ToLower(lang)]; ok {
		return reply
	}
	return resetConfirmations["en"]
}

// entity captures a name-ish run up to sentence punctuation.
const entity = `([^,.!?;:\n]+)`

var forgetPatterns = []*regexp.Regexp{
	// English
	regexp.MustCompile(`(?i)\bforget (?:about )?` + entity),
	regexp.MustCompile(`(?i)\banything but ` + entity),
	regexp.MustCompile(`(?i)\b(?:don'?t|do not) want ` + entity),
	regexp.MustCompile(`(?i)\bno more ` + entity),
	regexp.MustCompile(`(?i)\bwithout ` + entity),
	regexp.MustCompile(`(?i)\bexcept ` + entity),
	regexp.MustCompile(`(?i)\bnot ` + entity),
	// Spanish
	regexp.MustCompile(`(?i)\bolv[ií]da(?:te de)? ` + entity),
	regexp.MustCompile(`(?i)\bno quiero ` + entity),
	regexp.MustCompile(`(?i)\bcualquiera menos ` + entity),
	regexp.MustCompile(`(?i)\bexcepto ` + entity),
	// Portuguese
	regexp.MustCompile(`(?i)\besque[cç]e ` + entity),
	regexp.MustCompile(`(?i)\bn[ãa]o quero ` + entity),
	regexp.MustCompile(`(?i)\bqualquer um menos ` + entity),
	regexp.MustCompile(`(?i)\bexceto ` + entity),
	// Russian and Hebrew need the explicit guard: RE2's \b only knows
	// ASCII word characters.
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])забудь (?:про |о )?` + entity),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])не хочу ` + entity),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])только не ` + entity),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])кроме ` + entity),
	regexp.MustCompile(`(?:^|[^\p{L}])לא רוצה ` + entity),
	regexp.MustCompile(`(?:^|[^\p{L}])רק לא ` + entity),
	regexp.MustCompile(`(?:^|[^\p{L}])חוץ מ` + entity),
}

var switchPatterns = []struct {
	re *regexp.Regexp
	// fromFirst is true when capture group 1 is the dropped entity.
	fromFirst bool
}{
	// "instead of X, Y"
	{regexp.MustCompile(`(?i)\binstead of ([^,.!?;:\n]+?)[,–—-]\s*` + entity), true},
	// "Y instead of X"
	{regexp.MustCompile(`(?i)([^,.!?;:\n]+?) instead of ` + entity), false},
	// "not X, Y please"
	{regexp.MustCompile(`(?i)\bnot ([^,.!?;:\n]+?),\s*([^,.!?;:\n]+?)(?:\s+please)?\s*$`), true},
	// Spanish: "en vez de X, Y" / "en lugar de X, Y"
	{regexp.MustCompile(`(?i)\ben (?:vez|lugar) de ([^,.!?;:\n]+?)[,–—-]\s*` + entity), true},
	// Portuguese: "em vez de X, Y" / "ao invés de X, Y"
	{regexp.MustCompile(`(?i)\b(?:em vez de|ao inv[ée]s de) ([^,.!?;:\n]+?)[,–—-]\s*` + entity), true},
	// Russian: "вместо X — Y", "не X, а Y"
	{regexp.MustCompile(`(?i)(?:^|[^\p{L}])вместо ([^,.!?;:\n]+?)[,–—-]\s*` + entity), true},
	{regexp.MustCompile(`(?i)(?:^|[^\p{L}])не ([^,.!?;:\n]+?),\s*а ` + entity), true},
	// Hebrew: "במקום X, Y"
	{regexp.MustCompile(`(?:^|[^\p{L}])במקום ([^,.!?;:\n]+?)[,–—-]\s*` + entity), true},
}

func detectForget(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range forgetPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := cleanEntity(m[1])
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if !seen[key] {
				seen[key] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func detectSwitches(text string) []Switch {
	var out []Switch
	seen := make(map[string]bool)
	for _, pat := range switchPatterns {
		for _, m := range pat.re.FindAllStringSubmatch(text, -1) {
			from, to := m[1], m[2]
			if !pat.fromFirst {
				from, to = to, from
			}
			sw := Switch{From: cleanEntity(from), To: cleanEntity(to)}
			if sw.From == "" || sw.To == "" || strings.EqualFold(sw.From, sw.To) {
				continue
			}
			key := strings.ToLower(sw.From + "→" + sw.To)
			if !seen[key] {
				seen[key] = true
				out = append(out, sw)
			}
		}
	}
	return out
}

// Words that are grammatical fallout of the forget patterns rather than
// bookable entities.
var entityStopwords = map[string]bool{
	"sure": true, "yet": true, "now": true, "really": true, "it": true,
	"that": true, "this": true, "them": true, "one": true, "again": true,
	"anymore": true,
	"available": true, "possible": true, "necessary": true,
	"anything": true, "something": true, "nothing": true, "else": true,
	"time": true, "slot": true,
	"today": true, "tomorrow": true, "morning": true, "afternoon": true,
	"evening": true, "week": true,
	"cualquiera": true, "nada": true, "ничего": true, "כלום": true,
	"hoy": true, "mañana": true, "hoje": true, "amanhã": true,
	"сегодня": true, "завтра": true, "утром": true, "вечером": true,
	"точно": true, "уверен": true, "знаю": true,
	"היום": true, "מחר": true,
}

var politenessSuffixes = []string{
	"please", "thanks", "thank you", "por favor", "obrigado", "obrigada",
	"пожалуйста", "спасибо", "בבקשה", "תודה",
}

var leadingArticles = []string{
	"the ", "a ", "an ", "el ", "la ", "los ", "las ", "un ", "una ",
	"o ", "os ", "um ", "uma ",
}

// leadingFillers are auxiliary words the loose capture groups drag in
// ("can we do filler" → "filler").
var leadingFillers = map[string]bool{
	"i": true, "i'd": true, "we": true, "you": true, "me": true,
	"can": true, "could": true, "would": true, "rather": true,
	"do": true, "get": true, "have": true, "take": true, "book": true,
	"want": true, "like": true, "prefer": true, "try": true,
	"any": true, "some": true, "more": true, "maybe": true,
	"quiero": true, "quero": true, "хочу": true, "давай": true, "лучше": true,
	"к": true,
}

// cleanEntity trims punctuation, politeness tails and leading articles, and
// rejects captures that are clearly not entities.
func cleanEntity(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'“”«»`)
	lowered := strings.ToLower(s)
	for _, suffix := range politenessSuffixes {
		if strings.HasSuffix(lowered, suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)])
			lowered = strings.ToLower(s)
		}
	}
	for _, article := range leadingArticles {
		if strings.HasPrefix(lowered, article) {
			s = strings.TrimSpace(s[len(article):])
			lowered = strings.ToLower(s)
			break
		}
	}
	for {
		first, _, found := strings.Cut(lowered, " ")
		if !found || !leadingFillers[first] {
			break
		}
		_, s, _ = strings.Cut(s, " ")
		s = strings.TrimSpace(s)
		lowered = strings.ToLower(s)
	}
	// Greedy captures drag in trailing time words: "without Dr Lee today".
	for {
		headLow, last, found := cutLast(lowered)
		if !found || (!temporalTokens[last] && !entityStopwords[last]) {
			break
		}
		headS, _, _ := cutLast(s)
		s = strings.TrimSpace(headS)
		lowered = strings.TrimSpace(headLow)
	}
	if s == "" || len(s) > 60 {
		return ""
	}
	if entityStopwords[lowered] {
		return ""
	}
	// Pure time expressions are windows, not entities.
	if matchesTemporal(lowered) {
		return ""
	}
	return s
}

// cutLast splits around the final space.
func cutLast(s string) (before, last string, found bool) {
	i := strings.LastIndex(s, " ")
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+1:], true
}

var doctorMarkers = []string{
	"dr ", "dr. ", "doctor ", "doctora ", "doutor ", "doutora ",
	"доктор ", "врач ", `ד"ר `, "דוקטור ",
}

func looksLikeDoctor(s string) bool {
	lowered := strings.ToLower(s) + " "
	for _, marker := range doctorMarkers {
		if strings.HasPrefix(lowered, marker) {
			return true
		}
	}
	return false
}
