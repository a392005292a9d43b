package constraints

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// TimeWindow is a normalized scheduling preference in the clinic timezone.
// End is exclusive. Label keeps the user's own phrasing for echoing back.
type TimeWindow struct {
	Start time.Time
	End   time.Time
	Label string
}

var (
	dayAfterTomorrowWords = []string{
		"day after tomorrow", "pasado mañana", "depois de amanhã", "depois de amanha",
		"послезавтра", "מחרתיים",
	}
	tomorrowWords = []string{
		"tomorrow", "mañana", "manana", "amanhã", "amanha", "завтра", "מחר",
	}
	todayWords = []string{
		"today", "tonight", "hoy", "hoje", "сегодня", "היום",
	}
	thisWeekWords = []string{
		"this week", "esta semana", "essa semana", "на этой неделе", "השבוע",
	}
	nextWeekWords = []string{
		"next week", "próxima semana", "proxima semana", "semana que viene",
		"semana que vem", "на следующей неделе", "בשבוע הבא",
	}
	nextMarkers = []string{"next ", "próximo", "proximo", "próxima", "следующ", "הבא"}

	morningWords = []string{
		"morning", "mornings", "por la mañana", "de la mañana", "esta mañana",
		"de manhã", "de manha", "pela manhã", "pela manha", "утром", "с утра", "בבוקר",
	}
	afternoonWords = []string{
		"afternoon", "afternoons", "por la tarde", "de la tarde", "à tarde",
		"днем", "днём", "после обеда", "אחר הצהריים",
	}
	eveningWords = []string{
		"evening", "evenings", "por la noche", "esta noche", "à noite",
		"вечером", "вечер", "בערב",
	}

	beforeNoonWords = []string{
		"before noon", "before lunch", "antes del mediodía", "antes do meio-dia",
		"до полудня", "до обеда", "לפני הצהריים",
	}
)

// weekdayWords maps day names across the supported languages. Russian
// includes the accusative forms used after "в".
var weekdayWords = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,

	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miércoles": time.Wednesday, "miercoles": time.Wednesday,
	"jueves": time.Thursday, "viernes": time.Friday,
	"sábado": time.Saturday, "sabado": time.Saturday,

	"segunda": time.Monday, "segunda-feira": time.Monday,
	"terça": time.Tuesday, "terca": time.Tuesday,
	"quarta": time.Wednesday, "quinta": time.Thursday, "sexta": time.Friday,

	"воскресенье": time.Sunday,
	"понедельник": time.Monday,
	"вторник":     time.Tuesday,
	"среда":       time.Wednesday, "среду": time.Wednesday,
	"четверг": time.Thursday,
	"пятница": time.Friday, "пятницу": time.Friday,
	"суббота": time.Saturday, "субботу": time.Saturday,

	"ראשון": time.Sunday, "שני": time.Monday, "שלישי": time.Tuesday,
	"רביעי": time.Wednesday, "חמישי": time.Thursday, "שישי": time.Friday,
	"שבת": time.Saturday,
}

// The leading (?:^|[^\p{L}]) stands in for \b, which RE2 only defines over
// ASCII and so would never fire before Cyrillic or Hebrew markers.
var (
	afterClockRE  = regexp.MustCompile(`(?:^|[^\p{L}])((?:after|después de las|despues de las|depois das|после|אחרי)\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)`)
	beforeClockRE = regexp.MustCompile(`(?:^|[^\p{L}])((?:before|by|antes de las|antes das|до|לפני)\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)`)
)

// dayPart is a half-open clock range within a day.
type dayPart struct {
	startHour, endHour int
}

// NormalizeTimeWindow converts a relative date expression in the message to
// a concrete window anchored at now in the clinic timezone. It returns nil
// when the message carries no time preference.
func NormalizeTimeWindow(text string, now time.Time, loc *time.Location) *TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	remaining := strings.ToLower(text)

	// Part-of-day phrases go first: Spanish "por la mañana" must be
	// consumed before the bare "mañana" (tomorrow) check sees it.
	part, partLabel, remaining := detectDayPart(remaining)

	var labels []string
	var start, end time.Time
	anchored := false
	implicit := false
	wholeWeek := false

	if label, rest, ok := cutPhrase(remaining, dayAfterTomorrowWords); ok {
		day := midnight(now).AddDate(0, 0, 2)
		start, end = day, day.AddDate(0, 0, 1)
		labels, remaining, anchored = append(labels, label), rest, true
	} else if label, rest, ok := cutPhrase(remaining, tomorrowWords); ok {
		day := midnight(now).AddDate(0, 0, 1)
		start, end = day, day.AddDate(0, 0, 1)
		labels, remaining, anchored = append(labels, label), rest, true
	} else if label, rest, ok := cutPhrase(remaining, todayWords); ok {
		day := midnight(now)
		start, end = day, day.AddDate(0, 0, 1)
		labels, remaining, anchored = append(labels, label), rest, true
	} else if label, rest, ok := cutPhrase(remaining, nextWeekWords); ok {
		monday := nextMonday(now)
		start, end = monday, monday.AddDate(0, 0, 7)
		labels, remaining, anchored, wholeWeek = append(labels, label), rest, true, true
	} else if label, rest, ok := cutPhrase(remaining, thisWeekWords); ok {
		start, end = midnight(now), nextMonday(now)
		labels, remaining, anchored, wholeWeek = append(labels, label), rest, true, true
	} else if weekday, label, rest, ok := cutWeekday(remaining); ok {
		day := upcomingWeekday(now, weekday, containsAny(remaining, nextMarkers))
		start, end = day, day.AddDate(0, 0, 1)
		labels, remaining, anchored = append(labels, label), rest, true
	}

	// Narrow a single-day window by part-of-day and clock bounds.
	if part != nil && !wholeWeek {
		if !anchored {
			day := midnight(now)
			start, end = day, day.AddDate(0, 0, 1)
			anchored, implicit = true, true
		}
		day := midnight(start)
		start = day.Add(time.Duration(part.startHour) * time.Hour)
		end = day.Add(time.Duration(part.endHour) * time.Hour)
		labels = append(labels, partLabel)
	}

	afterClock, afterLabel := clockBound(remaining, afterClockRE)
	beforeClock, beforeLabel := clockBound(remaining, beforeClockRE)
	if beforeClock < 0 {
		if label, _, ok := cutPhrase(remaining, beforeNoonWords); ok {
			beforeClock, beforeLabel = 12*60, label
		}
	}
	if !wholeWeek && (afterClock >= 0 || beforeClock >= 0) {
		if !anchored {
			day := midnight(now)
			start, end = day, day.AddDate(0, 0, 1)
			anchored, implicit = true, true
		}
		day := midnight(start)
		if afterClock >= 0 {
			bound := day.Add(time.Duration(afterClock) * time.Minute)
			if bound.After(start) {
				start = bound
			}
			labels = append(labels, afterLabel)
		}
		if beforeClock >= 0 {
			bound := day.Add(time.Duration(beforeClock) * time.Minute)
			if bound.Before(end) {
				end = bound
			}
			labels = append(labels, beforeLabel)
		}
	}

	if !anchored {
		return nil
	}
	// An implicit anchor whose window already elapsed rolls to tomorrow:
	// "morning" said at 3pm means tomorrow morning.
	if implicit && !end.After(now) {
		start = start.AddDate(0, 0, 1)
		end = end.AddDate(0, 0, 1)
	}
	// Never offer the past part of today.
	if start.Before(now) {
		start = now
	}
	if !end.After(start) {
		return nil
	}
	return &TimeWindow{Start: start, End: end, Label: strings.Join(labels, " ")}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// nextMonday returns the first Monday strictly after today, at midnight.
func nextMonday(now time.Time) time.Time {
	offset := (int(time.Monday) - int(now.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return midnight(now).AddDate(0, 0, offset)
}

// upcomingWeekday is the next occurrence of target at midnight. Today counts
// unless the message marked it as strictly next.
func upcomingWeekday(now time.Time, target time.Weekday, strictNext bool) time.Time {
	offset := (int(target) - int(now.Weekday()) + 7) % 7
	if offset == 0 && strictNext {
		offset = 7
	}
	return midnight(now).AddDate(0, 0, offset)
}

func detectDayPart(text string) (*dayPart, string, string) {
	for _, probe := range []struct {
		words []string
		part  dayPart
	}{
		{morningWords, dayPart{8, 12}},
		{afternoonWords, dayPart{12, 17}},
		{eveningWords, dayPart{17, 20}},
	} {
		if label, rest, ok := cutPhrase(text, probe.words); ok {
			part := probe.part
			return &part, label, rest
		}
	}
	// Bare meridiem tokens, e.g. "next mon pm".
	if containsWord(text, "pm") && !afterClockRE.MatchString(text) && !beforeClockRE.MatchString(text) {
		return &dayPart{12, 18}, "pm", text
	}
	if containsWord(text, "am") && !afterClockRE.MatchString(text) && !beforeClockRE.MatchString(text) {
		return &dayPart{8, 12}, "am", text
	}
	return nil, "", text
}

// clockBound extracts a clock time in minutes from midnight, or -1.
func clockBound(text string, re *regexp.Regexp) (int, string) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return -1, ""
	}
	hour := atoiSafe(m[2])
	minute := 0
	if m[3] != "" {
		minute = atoiSafe(m[3])
	}
	switch m[4] {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		// Bare small hours in a clinic context mean afternoon.
		if hour >= 1 && hour <= 7 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return -1, ""
	}
	return hour*60 + minute, strings.TrimSpace(m[1])
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// cutPhrase finds the first of words contained in text (word-boundary aware)
// and returns it plus text with the phrase removed.
func cutPhrase(text string, words []string) (string, string, bool) {
	for _, word := range words {
		if idx := indexWord(text, word); idx >= 0 {
			rest := strings.TrimSpace(text[:idx] + " " + text[idx+len(word):])
			return word, rest, true
		}
	}
	return "", text, false
}

func cutWeekday(text string) (time.Weekday, string, string, bool) {
	best := -1
	bestWord := ""
	var bestDay time.Weekday
	for word, day := range weekdayWords {
		idx := indexWord(text, word)
		if idx < 0 {
			continue
		}
		// Prefer the longest match at the earliest position so "saturday"
		// wins over "sat".
		if best == -1 || idx < best || (idx == best && len(word) > len(bestWord)) {
			best, bestWord, bestDay = idx, word, day
		}
	}
	if best < 0 {
		return 0, "", text, false
	}
	rest := strings.TrimSpace(text[:best] + " " + text[best+len(bestWord):])
	return bestDay, bestWord, rest, true
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	return indexWord(text, word) >= 0
}

// indexWord is a Unicode-aware word-boundary search. RE2's \b only knows
// ASCII word characters, so Cyrillic and Hebrew need this by hand.
func indexWord(text, word string) int {
	offset := 0
	for {
		i := strings.Index(text[offset:], word)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(word)
		beforeOK := start == 0
		if !beforeOK {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			beforeOK = !unicode.IsLetter(r)
		}
		afterOK := end == len(text)
		if !afterOK {
			r, _ := utf8.DecodeRuneInString(text[end:])
			afterOK = !unicode.IsLetter(r)
		}
		if beforeOK && afterOK {
			return start
		}
		offset = start + 1
	}
}

// matchesTemporal reports whether the entity is purely a time expression
// (those become windows, not exclusions).
func matchesTemporal(lowered string) bool {
	fields := strings.Fields(lowered)
	if len(fields) == 0 {
		return false
	}
	for _, field := range fields {
		if temporalTokens[field] {
			continue
		}
		if _, ok := weekdayWords[field]; ok {
			continue
		}
		return false
	}
	return true
}

var temporalTokens = map[string]bool{
	"today": true, "tomorrow": true, "tonight": true, "week": true,
	"morning": true, "afternoon": true, "evening": true, "next": true,
	"this": true, "on": true, "in": true, "at": true, "the": true,
	"am": true, "pm": true, "noon": true, "day": true, "after": true,
	"before": true,
	"hoy": true, "mañana": true, "manana": true, "semana": true,
	"por": true, "la": true, "de": true, "del": true, "las": true,
	"esta": true, "noche": true, "tarde": true,
	"hoje": true, "amanhã": true, "amanha": true, "pela": true,
	"manhã": true, "manha": true, "noite": true,
	"сегодня": true, "завтра": true, "послезавтра": true, "неделе": true,
	"утром": true, "утра": true, "днем": true, "днём": true,
	"вечером": true, "вечер": true, "на": true, "этой": true,
	"следующей": true, "после": true, "обеда": true, "полудня": true,
	"היום": true, "מחר": true, "מחרתיים": true, "השבוע": true,
	"בבוקר": true, "בערב": true, "ביום": true, "הבא": true,
}
